// Package scheduler owns the per-configuration cron fire table, a
// single-writer loop that arms and fires configurations without
// drift, and the bounded worker pool plus overlap guard that turns a
// fire into exactly one in-flight execution engine call. Named,
// trackable, single-instance tasks (pkg/tasks) back the
// per-(tenantId, configId) overlap-skip guard, pkg/workerpool bounds
// parallelism across configurations, and cron-field parsing and
// next-fire computation come from github.com/robfig/cron/v3.
package scheduler

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/internal/execution"
	"github.com/ssw-platform/file-discovery-engine/internal/metrics"
	"github.com/ssw-platform/file-discovery-engine/internal/repository"
	"github.com/ssw-platform/file-discovery-engine/pkg/clock"
	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/tasks"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
	"github.com/ssw-platform/file-discovery-engine/pkg/workerpool"
)

// parser accepts the standard 5-field cron expression: minute hour
// day-of-month month day-of-week.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// maxLookbackSteps bounds how many candidate fires mostRecentFireBefore
// walks through before giving up; a misconfigured sub-second cron
// expression must never spin this loop forever.
const maxLookbackSteps = 100_000

// Config controls the scheduler's worker pool, overlap guard, and
// missed-fire catch-up policy.
type Config struct {
	// DropMissedFires disables catch-up entirely. false means "fire the
	// single most recent missed instant, drop the rest".
	DropMissedFires bool
	// MissedFireLookback bounds how far into the past the scheduler
	// searches, at load time only, for one missed fire. Defaults to 24h.
	MissedFireLookback time.Duration

	Workers     workerpool.Config
	TaskManager tasks.Config
}

func (c *Config) applyDefaults() {
	if c.MissedFireLookback <= 0 {
		c.MissedFireLookback = 24 * time.Hour
	}
}

// armedEntry is one configuration's position in the fire heap.
type armedEntry struct {
	tenantID string
	configID string
	schedule cron.Schedule
	location *time.Location
	next     time.Time // always stored and compared in UTC
	index    int
}

func entryKey(tenantID, configID string) string {
	return tenantID + "/" + configID
}

// fireHeap orders armed entries by next fire instant, tie-broken by
// configID ascending.
type fireHeap []*armedEntry

func (h fireHeap) Len() int { return len(h) }
func (h fireHeap) Less(i, j int) bool {
	if h[i].next.Equal(h[j].next) {
		return h[i].configID < h[j].configID
	}
	return h[i].next.Before(h[j].next)
}
func (h fireHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *fireHeap) Push(x interface{}) {
	e := x.(*armedEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *fireHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler owns the per-configuration fire state machine:
// Loaded -> Armed <-> Firing -> Armed, or Loaded -> Disarmed.
type Scheduler struct {
	cfg Config

	configs *repository.ConfigurationRepository
	engine  *execution.Engine
	pool    *workerpool.WorkerPool
	guard   *tasks.Manager
	clock   clock.Clock
	logger  *logrus.Logger

	mu      sync.Mutex
	heap    fireHeap
	entries map[string]*armedEntry

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. It does not arm any configuration until
// Start is called.
func New(cfg Config, configs *repository.ConfigurationRepository, engine *execution.Engine, logger *logrus.Logger) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{
		cfg:     cfg,
		configs: configs,
		engine:  engine,
		pool:    workerpool.NewWorkerPool(cfg.Workers, logger),
		guard:   tasks.NewManager(cfg.TaskManager, logger),
		clock:   clock.Real{},
		logger:  logger,
		entries: make(map[string]*armedEntry),
		wake:    make(chan struct{}, 1),
	}
}

// WithClock overrides the scheduler's time source; tests call this
// before Start with a *clock.Fake so fire loop waits never sleep in
// real time.
func (s *Scheduler) WithClock(c clock.Clock) *Scheduler {
	s.clock = c
	return s
}

// Start arms every enabled configuration from the repository (applying
// the missed-fire catch-up policy once, at load), subscribes to
// ConfigurationRepository changes, starts the worker pool, and launches
// the single-writer fire loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.pool.Start(); err != nil {
		return fmt.Errorf("scheduler: start worker pool: %w", err)
	}

	for _, cfg := range s.configs.ListEnabled() {
		if err := s.arm(cfg, true); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id": cfg.TenantID, "config_id": cfg.ConfigID,
			}).Error("scheduler: failed to arm configuration at load")
		}
	}

	s.configs.Subscribe(s.onConfigChange)

	s.wg.Add(1)
	go s.runLoop()

	s.logger.WithField("armed", s.armedCount()).Info("scheduler: started")
	return nil
}

// Stop stops arming new fires, cancels every in-flight execution via
// the cooperative cancel signal, and waits for the fire loop, worker
// pool, and overlap guard to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.pool.Stop()
	s.guard.Close()
	s.logger.Info("scheduler: stopped")
}

func (s *Scheduler) armedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// onConfigChange is the ConfigurationRepository subscriber callback:
// it re-arms, arms, or disarms a configuration following the CRUD
// transition, without performing missed-fire catch-up — catch-up only
// applies at the cold-start load in Start, since a live process never
// "misses" its own fires.
func (s *Scheduler) onConfigChange(event types.ConfigChangeEvent) {
	cfg := event.Configuration
	switch event.Kind {
	case types.ConfigDeleted:
		s.disarm(cfg.TenantID, cfg.ConfigID)
		return
	case types.ConfigCreated, types.ConfigUpdated:
		if !cfg.Enabled {
			s.disarm(cfg.TenantID, cfg.ConfigID)
			return
		}
		if err := s.arm(cfg, false); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id": cfg.TenantID, "config_id": cfg.ConfigID,
			}).Error("scheduler: failed to arm configuration on change")
		}
	}
}

// arm parses cfg's cron+timezone and pushes (or replaces) its fire
// entry. When catchUp is true and the process missed a fire while
// down, the single most recent missed instant is scheduled to fire
// immediately instead of waiting for the next regular tick.
func (s *Scheduler) arm(cfg types.RetrievalConfiguration, catchUp bool) error {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return errs.New(errs.CategoryConfigurationError, "scheduler", "arm",
			fmt.Sprintf("invalid timezone %q: %v", cfg.Timezone, err))
	}
	schedule, err := parser.Parse(cfg.CronExpression)
	if err != nil {
		return errs.New(errs.CategoryConfigurationError, "scheduler", "arm",
			fmt.Sprintf("invalid cron expression %q: %v", cfg.CronExpression, err))
	}

	now := s.clock.Now().In(loc)
	next := s.initialFire(schedule, now, catchUp)

	entry := &armedEntry{
		tenantID: cfg.TenantID,
		configID: cfg.ConfigID,
		schedule: schedule,
		location: loc,
		next:     next.UTC(),
	}

	s.mu.Lock()
	key := entryKey(cfg.TenantID, cfg.ConfigID)
	if existing, ok := s.entries[key]; ok {
		heap.Remove(&s.heap, existing.index)
	}
	heap.Push(&s.heap, entry)
	s.entries[key] = entry
	armed := len(s.entries)
	s.mu.Unlock()

	metrics.SchedulerArmedConfigurations.Set(float64(armed))
	s.nudge()

	s.logger.WithFields(logrus.Fields{
		"tenant_id": cfg.TenantID, "config_id": cfg.ConfigID, "next_fire": entry.next,
	}).Info("scheduler: armed configuration")
	return nil
}

// disarm removes a configuration's fire entry; an unarmed configuration
// is a no-op.
func (s *Scheduler) disarm(tenantID, configID string) {
	key := entryKey(tenantID, configID)

	s.mu.Lock()
	existing, ok := s.entries[key]
	if ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.entries, key)
	}
	armed := len(s.entries)
	s.mu.Unlock()

	if !ok {
		return
	}
	metrics.SchedulerArmedConfigurations.Set(float64(armed))
	s.nudge()
	s.logger.WithFields(logrus.Fields{"tenant_id": tenantID, "config_id": configID}).Info("scheduler: disarmed configuration")
}

// initialFire computes the instant arm should schedule next. now is
// already in the configuration's timezone.
func (s *Scheduler) initialFire(schedule cron.Schedule, now time.Time, catchUp bool) time.Time {
	if catchUp && !s.cfg.DropMissedFires {
		if _, found := mostRecentFireBefore(schedule, now, s.cfg.MissedFireLookback); found {
			return now // fire immediately to catch up the single missed instant
		}
	}
	return schedule.Next(now)
}

// mostRecentFireBefore walks schedule forward from before-lookback,
// returning the last fire instant strictly earlier than before, if
// any exists in the window. robfig/cron only exposes Next, so "the
// most recent past fire" is found by repeated forward stepping rather
// than a native Prev.
func mostRecentFireBefore(schedule cron.Schedule, before time.Time, lookback time.Duration) (time.Time, bool) {
	cursor := before.Add(-lookback)
	var last time.Time
	found := false

	for i := 0; i < maxLookbackSteps; i++ {
		next := schedule.Next(cursor)
		if next.IsZero() || !next.Before(before) {
			break
		}
		last, found = next, true
		cursor = next
	}
	return last, found
}

// runLoop is the single writer goroutine: it pops the earliest armed
// entry, sleeps until its fire instant (or wakes early if arm/disarm
// changed the heap's head), fires it, and reschedules the
// configuration's next occurrence.
func (s *Scheduler) runLoop() {
	defer s.wg.Done()

	for {
		wait, ready, ok := s.nextWait()
		if !ok {
			// Nothing armed; block until a config change wakes us or we're stopped.
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}

		if !ready {
			select {
			case <-s.ctx.Done():
				return
			case <-s.wake:
				continue
			case <-s.clock.After(wait):
				continue
			}
		}

		s.fireDue()
	}
}

// nextWait inspects the heap's head without popping it. ok is false
// when nothing is armed; ready is true when the head's fire instant is
// already due.
func (s *Scheduler) nextWait() (wait time.Duration, ready bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.heap) == 0 {
		return 0, false, false
	}
	head := s.heap[0]
	now := s.clock.Now().UTC()
	if !head.next.After(now) {
		return 0, true, true
	}
	return head.next.Sub(now), false, true
}

// fireDue pops every entry whose fire instant has arrived (there may
// be more than one if the process briefly stalled) and dispatches each.
func (s *Scheduler) fireDue() {
	now := s.clock.Now().UTC()

	for {
		s.mu.Lock()
		if len(s.heap) == 0 || s.heap[0].next.After(now) {
			s.mu.Unlock()
			return
		}
		entry := heap.Pop(&s.heap).(*armedEntry)
		delete(s.entries, entryKey(entry.tenantID, entry.configID))
		s.mu.Unlock()

		instant := entry.next
		s.dispatch(entry, instant)

		// Re-arm for the configuration's next occurrence, reading its
		// current definition fresh in case it changed mid-flight.
		if cfg, ok := s.configs.Get(entry.tenantID, entry.configID); ok && cfg.Enabled {
			if err := s.arm(cfg, false); err != nil {
				s.logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id": entry.tenantID, "config_id": entry.configID,
				}).Error("scheduler: failed to re-arm after fire")
			}
		}
	}
}

// dispatch issues exactly one execution for entry's configuration at
// instant: if a prior execution for the same (tenantId, configId) is
// still running, the fire is skipped rather than queued. Otherwise it
// is submitted to the bounded worker pool so the fire loop never
// blocks on worker availability.
func (s *Scheduler) dispatch(entry *armedEntry, instant time.Time) {
	key := entryKey(entry.tenantID, entry.configID)

	if s.guard.IsRunning(key) {
		metrics.OverlapSkippedTotal.WithLabelValues(entry.tenantID, entry.configID).Inc()
		s.logger.WithFields(logrus.Fields{
			"tenant_id": entry.tenantID, "config_id": entry.configID,
		}).Warn("scheduler: skipped overlapping fire, previous execution still running")
		return
	}

	cfg, ok := s.configs.Get(entry.tenantID, entry.configID)
	if !ok || !cfg.Enabled {
		return
	}

	err := s.pool.SubmitTask(workerpool.Task{
		ID: key,
		Execute: func(ctx context.Context) error {
			return s.runGuarded(ctx, entry.tenantID, entry.configID, func(taskCtx context.Context) error {
				_, err := s.engine.Execute(taskCtx, cfg, instant, types.TriggerScheduled)
				return err
			})
		},
	})
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id": entry.tenantID, "config_id": entry.configID,
		}).Error("scheduler: worker pool rejected fire")
	}
}

// runGuarded blocks the calling worker goroutine until fn completes,
// while also registering it with the overlap-guard task manager so a
// concurrent fire for the same key observes IsRunning and skips.
func (s *Scheduler) runGuarded(ctx context.Context, tenantID, configID string, fn func(context.Context) error) error {
	key := entryKey(tenantID, configID)
	done := make(chan error, 1)

	err := s.guard.StartTask(ctx, key, func(taskCtx context.Context) error {
		err := fn(taskCtx)
		done <- err
		return err
	})
	if err != nil {
		// Another fire won the race between IsRunning and StartTask.
		metrics.OverlapSkippedTotal.WithLabelValues(tenantID, configID).Inc()
		return nil
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// nudge wakes the fire loop so an arm/disarm that changed the heap's
// head is observed immediately rather than after the previous wait
// elapses.
func (s *Scheduler) nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// ArmedConfigurations returns every (tenantId, configId) pair currently
// armed, for diagnostics.
func (s *Scheduler) ArmedConfigurations() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.entries))
	for key := range s.entries {
		out = append(out, key)
	}
	return out
}
