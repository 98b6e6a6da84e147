package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestPublishEventDeliversToRegisteredSink(t *testing.T) {
	b := New(retry.Policy{MaxAttempts: 1}, testLogger())

	var received types.Message
	b.Register("queue.discovered", SinkFunc(func(_ context.Context, msg types.Message) error {
		received = msg
		return nil
	}))

	msg := types.Message{Target: "queue.discovered", Type: "FileDiscovered", FileName: "report.csv"}
	require.NoError(t, b.PublishEvent(context.Background(), msg))
	assert.Equal(t, "report.csv", received.FileName)
}

func TestPublishEventWithNoSinkIsANoop(t *testing.T) {
	b := New(retry.Policy{MaxAttempts: 1}, testLogger())
	err := b.PublishEvent(context.Background(), types.Message{Target: "nowhere"})
	assert.NoError(t, err)
}

func TestDeliveryRetriesThenRecordsFailure(t *testing.T) {
	b := New(retry.Policy{MaxAttempts: 2, InitialDelay: 0}, testLogger())

	var attempts int32
	b.Register("cmd.process", SinkFunc(func(_ context.Context, _ types.Message) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("service unavailable")
	}))

	err := b.SendCommand(context.Background(), types.Message{Target: "cmd.process", Type: "ProcessDiscoveredFile"})
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))

	failed := b.FailedDeliveries()
	require.Len(t, failed, 1)
	assert.Equal(t, "cmd.process", failed[0].Message.Target)
}

func TestFanOutDeliversToEverySinkOnTarget(t *testing.T) {
	b := New(retry.Policy{MaxAttempts: 1}, testLogger())

	var firstCalled, secondCalled bool
	b.Register("queue.discovered", SinkFunc(func(_ context.Context, _ types.Message) error {
		firstCalled = true
		return nil
	}))
	b.Register("queue.discovered", SinkFunc(func(_ context.Context, _ types.Message) error {
		secondCalled = true
		return nil
	}))

	require.NoError(t, b.PublishEvent(context.Background(), types.Message{Target: "queue.discovered"}))
	assert.True(t, firstCalled)
	assert.True(t, secondCalled)
}
