package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ssw-platform/file-discovery-engine/internal/discoverypipeline"
	"github.com/ssw-platform/file-discovery-engine/internal/execution"
	"github.com/ssw-platform/file-discovery-engine/internal/repository"
	"github.com/ssw-platform/file-discovery-engine/pkg/circuit"
	"github.com/ssw-platform/file-discovery-engine/pkg/clock"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol"
	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type noopPublisher struct{}

func (noopPublisher) PublishEvent(context.Context, types.Message) error { return nil }
func (noopPublisher) SendCommand(context.Context, types.Message) error  { return nil }

func newTestScheduler(t *testing.T, fake *clock.Fake) (*Scheduler, *repository.ConfigurationRepository) {
	t.Helper()
	logger := testLogger()

	configs, err := repository.NewConfigurationRepository(t.TempDir(), logger)
	require.NoError(t, err)

	execRepo, err := repository.NewExecutionRepository(t.TempDir(), time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { execRepo.Close() })

	filesRepo, err := repository.NewDiscoveredFileRepository(t.TempDir(), time.Hour, logger)
	require.NoError(t, err)
	t.Cleanup(func() { filesRepo.Close() })

	pipeline := discoverypipeline.New(filesRepo, nil, noopPublisher{}, logger)
	registry := circuit.NewRegistry(circuit.Config{}, logger)
	factory := protocol.NewFactory(secrets.StaticResolver{}, registry, logger)
	policies := map[types.Protocol]retry.Policy{types.ProtocolHTTPS: {MaxAttempts: 1}}
	engine := execution.New(factory, execRepo, pipeline, policies, logger)

	sched := New(Config{}, configs, engine, logger).WithClock(fake)

	return sched, configs
}

func TestArmComputesNextFireInConfiguredTimezone(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 24, 12, 0, 0, 0, time.UTC))
	sched, configs := newTestScheduler(t, fake)

	_, err := configs.Put(types.RetrievalConfiguration{
		TenantID: "T1", ConfigID: "C1", Enabled: true,
		CronExpression: "0 8 * * *", Timezone: "America/New_York",
		Protocol: types.ProtocolHTTPS,
		Settings: types.ProtocolSettings{HTTPS: &types.HTTPSSettings{BaseURL: "https://example.invalid"}},
	})
	require.NoError(t, err)

	require.NoError(t, sched.arm(mustGet(t, configs, "T1", "C1"), false))

	armed := sched.ArmedConfigurations()
	require.Len(t, armed, 1)
	assert.Equal(t, "T1/C1", armed[0])

	// 12:00 UTC is 07:00 in New York (EST), so the next 08:00 local fire
	// is 13:00 UTC the same day.
	require.Len(t, sched.heap, 1)
	assert.Equal(t, "2025-01-24T13:00:00Z", sched.heap[0].next.Format(time.RFC3339))
}

func TestArmRejectsInvalidCron(t *testing.T) {
	fake := clock.NewFake(time.Now())
	sched, _ := newTestScheduler(t, fake)

	err := sched.arm(types.RetrievalConfiguration{
		TenantID: "T1", ConfigID: "C1", Enabled: true,
		CronExpression: "not a cron", Timezone: "UTC",
	}, false)
	require.Error(t, err)
}

func TestArmRejectsInvalidTimezone(t *testing.T) {
	fake := clock.NewFake(time.Now())
	sched, _ := newTestScheduler(t, fake)

	err := sched.arm(types.RetrievalConfiguration{
		TenantID: "T1", ConfigID: "C1", Enabled: true,
		CronExpression: "* * * * *", Timezone: "Not/A_Zone",
	}, false)
	require.Error(t, err)
}

func TestDisarmRemovesEntry(t *testing.T) {
	fake := clock.NewFake(time.Now())
	sched, _ := newTestScheduler(t, fake)

	require.NoError(t, sched.arm(types.RetrievalConfiguration{
		TenantID: "T1", ConfigID: "C1", Enabled: true,
		CronExpression: "* * * * *", Timezone: "UTC",
	}, false))
	require.Len(t, sched.ArmedConfigurations(), 1)

	sched.disarm("T1", "C1")
	assert.Empty(t, sched.ArmedConfigurations())
}

func TestTieBreakOrdersByConfigIDAscending(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 24, 0, 0, 0, 0, time.UTC))
	sched, _ := newTestScheduler(t, fake)

	for _, id := range []string{"C2", "C1", "C3"} {
		require.NoError(t, sched.arm(types.RetrievalConfiguration{
			TenantID: "T1", ConfigID: id, Enabled: true,
			CronExpression: "0 0 * * *", Timezone: "UTC",
		}, false))
	}

	require.Len(t, sched.heap, 3)
	assert.Equal(t, "C1", sched.heap[0].configID)
}

func TestMostRecentFireBeforeFindsSingleMissedInstant(t *testing.T) {
	schedule, err := parser.Parse("*/5 * * * *")
	require.NoError(t, err)

	before := time.Date(2025, 1, 24, 0, 12, 0, 0, time.UTC)
	missed, found := mostRecentFireBefore(schedule, before, time.Hour)
	require.True(t, found)
	assert.Equal(t, time.Date(2025, 1, 24, 0, 10, 0, 0, time.UTC), missed)
}

func TestMostRecentFireBeforeFindsNothingWithinWindow(t *testing.T) {
	schedule, err := parser.Parse("0 0 1 1 *") // once a year
	require.NoError(t, err)

	before := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, found := mostRecentFireBefore(schedule, before, time.Hour)
	assert.False(t, found)
}

func TestStartStopLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/sirupsen/logrus.(*Logger).Log"),
	)

	fake := clock.NewFake(time.Now())
	sched, configs := newTestScheduler(t, fake)

	_, err := configs.Put(types.RetrievalConfiguration{
		TenantID: "T1", ConfigID: "C1", Enabled: true,
		CronExpression: "0 0 1 1 *", Timezone: "UTC", // effectively never during the test
		Protocol: types.ProtocolHTTPS,
		Settings: types.ProtocolSettings{HTTPS: &types.HTTPSSettings{BaseURL: "https://example.invalid"}},
	})
	require.NoError(t, err)

	require.NoError(t, sched.Start(context.Background()))
	sched.Stop()
}

func mustGet(t *testing.T, configs *repository.ConfigurationRepository, tenantID, configID string) types.RetrievalConfiguration {
	t.Helper()
	cfg, ok := configs.Get(tenantID, configID)
	require.True(t, ok)
	return cfg
}
