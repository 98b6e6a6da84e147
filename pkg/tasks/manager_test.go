package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManager() *Manager {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return NewManager(Config{HeartbeatInterval: time.Second, TaskTimeout: time.Minute, CleanupInterval: time.Minute}, l)
}

func TestStartTaskRunsAndCompletes(t *testing.T) {
	m := testManager()
	defer m.Close()

	done := make(chan struct{})
	err := m.StartTask(context.Background(), "tenant-a/cfg-1", func(ctx context.Context) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateCompleted, m.Status("tenant-a/cfg-1").State)
}

func TestStartTaskRejectsOverlap(t *testing.T) {
	m := testManager()
	defer m.Close()

	release := make(chan struct{})
	err := m.StartTask(context.Background(), "tenant-a/cfg-1", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	err = m.StartTask(context.Background(), "tenant-a/cfg-1", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	var already *ErrAlreadyRunning
	assert.ErrorAs(t, err, &already)

	close(release)
}

func TestStartTaskAllowsRestartAfterCompletion(t *testing.T) {
	m := testManager()
	defer m.Close()

	require.NoError(t, m.StartTask(context.Background(), "t", func(ctx context.Context) error { return nil }))
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, m.StartTask(context.Background(), "t", func(ctx context.Context) error { return nil }))
}

func TestStartTaskRecordsPanicAsFailure(t *testing.T) {
	m := testManager()
	defer m.Close()

	require.NoError(t, m.StartTask(context.Background(), "panicky", func(ctx context.Context) error {
		panic("boom")
	}))

	time.Sleep(50 * time.Millisecond)
	status := m.Status("panicky")
	assert.Equal(t, StateFailed, status.State)
	assert.Contains(t, status.LastError, "panic")
}

func TestStartTaskRecordsError(t *testing.T) {
	m := testManager()
	defer m.Close()

	testErr := errors.New("listing failed")
	require.NoError(t, m.StartTask(context.Background(), "err", func(ctx context.Context) error { return testErr }))
	time.Sleep(50 * time.Millisecond)

	status := m.Status("err")
	assert.Equal(t, StateFailed, status.State)
	assert.Equal(t, testErr.Error(), status.LastError)
}

func TestIsRunningReflectsOverlapGuard(t *testing.T) {
	m := testManager()
	defer m.Close()

	release := make(chan struct{})
	require.NoError(t, m.StartTask(context.Background(), "t", func(ctx context.Context) error {
		<-release
		return nil
	}))

	assert.True(t, m.IsRunning("t"))
	close(release)
	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.IsRunning("t"))
}

func TestConcurrentStartsAcrossDistinctKeys(t *testing.T) {
	m := testManager()
	defer m.Close()

	const n = 30
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		id := string(rune('a' + i%26))
		go func(id string) {
			defer wg.Done()
			m.StartTask(context.Background(), id, func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			})
		}(id)
	}
	wg.Wait()
}
