// Package tasks guards against overlapping runs of the same named
// execution. The scheduler starts one task per (tenantId, configId)
// when a cron fire lands; if the previous fire's execution is still
// running, StartTask refuses the new one so two concurrent adapter
// calls never race on the same remote directory.
package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Config controls heartbeat timeout detection and stale-task cleanup.
type Config struct {
	HeartbeatInterval time.Duration
	TaskTimeout       time.Duration // running with no heartbeat longer than this is considered stuck
	CleanupInterval   time.Duration
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
}

// State is the lifecycle state of a tracked task.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Status is a point-in-time snapshot of a task.
type Status struct {
	ID            string
	State         State
	StartedAt     time.Time
	LastHeartbeat time.Time
	ErrorCount    int64
	LastError     string
}

type task struct {
	id            string
	state         State
	startedAt     time.Time
	lastHeartbeat time.Time
	errorCount    int64
	lastError     string
	cancel        context.CancelFunc
	done          chan struct{}
}

// ErrAlreadyRunning is returned by StartTask when id is already running.
type ErrAlreadyRunning struct{ ID string }

func (e *ErrAlreadyRunning) Error() string { return fmt.Sprintf("task %q is already running", e.ID) }

// Manager tracks one task per id and refuses to start a second
// instance while the first is still running.
type Manager struct {
	config Config
	logger *logrus.Logger

	mu    sync.RWMutex
	tasks map[string]*task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a Manager and starts its stale-task cleanup loop.
func NewManager(config Config, logger *logrus.Logger) *Manager {
	config.applyDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		config: config,
		logger: logger,
		tasks:  make(map[string]*task),
		ctx:    ctx,
		cancel: cancel,
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.cleanupLoop()
	}()

	return m
}

// StartTask runs fn under id in a new goroutine, returning
// *ErrAlreadyRunning if id is already running. parentCtx is the
// caller's context; fn observes its cancellation via the derived
// per-task context.
func (m *Manager) StartTask(parentCtx context.Context, id string, fn func(context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.tasks[id]; ok && existing.state == StateRunning {
		return &ErrAlreadyRunning{ID: id}
	}

	taskCtx, cancel := context.WithCancel(parentCtx)
	t := &task{
		id:            id,
		state:         StateRunning,
		startedAt:     time.Now(),
		lastHeartbeat: time.Now(),
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	m.tasks[id] = t

	go m.run(t, taskCtx, fn)

	m.logger.WithField("task_id", id).Debug("task started")
	return nil
}

func (m *Manager) run(t *task, ctx context.Context, fn func(context.Context) error) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			m.mu.Lock()
			t.state = StateFailed
			t.errorCount++
			t.lastError = fmt.Sprintf("panic: %v", r)
			m.mu.Unlock()
			m.logger.WithFields(logrus.Fields{"task_id": t.id, "panic": r}).Error("task panicked")
		}
	}()

	err := fn(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		t.state = StateFailed
		t.errorCount++
		t.lastError = err.Error()
		return
	}
	t.state = StateCompleted
	t.lastError = ""
}

// Heartbeat records liveness for a long-running task, so the cleanup
// loop does not mistake it for stuck.
func (m *Manager) Heartbeat(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	t.lastHeartbeat = time.Now()
	return nil
}

// Status returns the current snapshot for id.
func (m *Manager) Status(id string) Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return Status{ID: id, State: "not_found"}
	}
	return Status{ID: t.id, State: t.state, StartedAt: t.startedAt, LastHeartbeat: t.lastHeartbeat, ErrorCount: t.errorCount, LastError: t.lastError}
}

// IsRunning reports whether id currently has a live task.
func (m *Manager) IsRunning(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return ok && t.state == StateRunning
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var stale []string
	for id, t := range m.tasks {
		if t.state == StateRunning && now.Sub(t.lastHeartbeat) > m.config.TaskTimeout {
			m.logger.WithField("task_id", id).Warn("task heartbeat timeout, cancelling")
			t.cancel()
			t.state = StateFailed
			t.lastError = "heartbeat timeout"
		}
		if t.state != StateRunning && now.Sub(t.startedAt) > time.Hour {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(m.tasks, id)
	}
}

// Close cancels every running task and stops the cleanup loop.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tasks {
		if t.state == StateRunning {
			t.cancel()
			<-t.done
		}
	}
}
