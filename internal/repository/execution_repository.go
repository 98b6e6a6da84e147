package repository

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// ExecutionRepository stores RetrievalExecution rows, one JSON
// partition per tenant, keyed by ExecutionID within the partition.
type ExecutionRepository struct {
	store  *fileStore
	logger *logrus.Logger

	mu       sync.RWMutex
	byTenant map[string]map[string]types.RetrievalExecution

	retention time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewExecutionRepository creates an ExecutionRepository rooted at dir.
// retention is the age, measured from FinishedAt, at which a terminal
// execution row becomes eligible for the background retention sweep;
// zero disables the sweep.
func NewExecutionRepository(dir string, retention time.Duration, logger *logrus.Logger) (*ExecutionRepository, error) {
	store, err := newFileStore(dir, "executions")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &ExecutionRepository{
		store:     store,
		logger:    logger,
		byTenant:  make(map[string]map[string]types.RetrievalExecution),
		retention: retention,
		ctx:       ctx,
		cancel:    cancel,
	}
	if err := r.load(); err != nil {
		cancel()
		return nil, err
	}
	return r, nil
}

func (r *ExecutionRepository) load() error {
	partitions, err := r.store.partitions()
	if err != nil {
		return err
	}
	for _, tenant := range partitions {
		var executions map[string]types.RetrievalExecution
		if _, err := r.store.read(tenant, &executions); err != nil {
			r.logger.WithError(err).WithField("tenant_id", tenant).Warn("failed to load execution partition")
			continue
		}
		r.byTenant[tenant] = executions
	}
	return nil
}

// Save inserts or updates exec. A nonzero exec.Version must match the
// stored row's version or Save returns ErrVersionConflict, giving the
// execution engine optimistic concurrency across the running → terminal
// status transition.
func (r *ExecutionRepository) Save(exec types.RetrievalExecution) (types.RetrievalExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.byTenant[exec.TenantID]
	if !ok {
		tenant = make(map[string]types.RetrievalExecution)
		r.byTenant[exec.TenantID] = tenant
	}

	existing, exists := tenant[exec.ExecutionID]
	switch {
	case exists && exec.Version != existing.Version:
		return types.RetrievalExecution{}, ErrVersionConflict
	case !exists && exec.Version != 0:
		return types.RetrievalExecution{}, ErrVersionConflict
	}

	exec.Version = existing.Version + 1
	tenant[exec.ExecutionID] = exec
	if err := r.store.writeAtomic(exec.TenantID, tenant); err != nil {
		return types.RetrievalExecution{}, err
	}
	return exec, nil
}

// Get returns the execution for (tenantID, executionID).
func (r *ExecutionRepository) Get(tenantID, executionID string) (types.RetrievalExecution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return types.RetrievalExecution{}, false
	}
	exec, ok := tenant[executionID]
	return exec, ok
}

// ListByConfig returns every execution recorded for (tenantID,
// configID), most recent scheduling unordered; callers sort if needed.
func (r *ExecutionRepository) ListByConfig(tenantID, configID string) []types.RetrievalExecution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return nil
	}
	var out []types.RetrievalExecution
	for _, exec := range tenant {
		if exec.ConfigID == configID {
			out = append(out, exec)
		}
	}
	return out
}

// StartRetentionSweep launches the background goroutine that deletes
// terminal execution rows older than the configured retention window.
// A zero retention disables the sweep entirely.
func (r *ExecutionRepository) StartRetentionSweep(interval time.Duration) {
	if r.retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *ExecutionRepository) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for tenantID, tenant := range r.byTenant {
		changed := false
		for id, exec := range tenant {
			if exec.Status == types.ExecutionStatusRunning {
				continue
			}
			if exec.FinishedAt.IsZero() || now.Sub(exec.FinishedAt) <= r.retention {
				continue
			}
			delete(tenant, id)
			changed = true
		}
		if changed {
			if err := r.store.writeAtomic(tenantID, tenant); err != nil {
				r.logger.WithError(err).WithField("tenant_id", tenantID).Warn("execution retention sweep failed to persist")
			}
		}
	}
}

// Close stops the retention sweep goroutine.
func (r *ExecutionRepository) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}
