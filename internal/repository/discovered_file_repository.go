package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// DiscoveredFileRepository stores DiscoveredFile rows, one JSON
// partition per tenant, keyed by types.DiscoveredFile.IdempotencyKey().
// The key's uniqueness constraint is the final arbiter of "has this
// file already been discovered for this logical date";
// internal/discoverypipeline's in-memory cache only short-circuits the
// common case before reaching here.
type DiscoveredFileRepository struct {
	store  *fileStore
	logger *logrus.Logger

	mu       sync.RWMutex
	byTenant map[string]map[string]types.DiscoveredFile

	retention time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewDiscoveredFileRepository creates a DiscoveredFileRepository rooted
// at dir. retention, measured from DiscoveredAt, is the age at which a
// row becomes eligible for the background retention sweep; zero
// disables the sweep.
func NewDiscoveredFileRepository(dir string, retention time.Duration, logger *logrus.Logger) (*DiscoveredFileRepository, error) {
	store, err := newFileStore(dir, "discovered_files")
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &DiscoveredFileRepository{
		store:     store,
		logger:    logger,
		byTenant:  make(map[string]map[string]types.DiscoveredFile),
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

func (r *DiscoveredFileRepository) load() error {
	partitions, err := r.store.partitions()
	if err != nil {
		return err
	}
	for _, tenant := range partitions {
		var files map[string]types.DiscoveredFile
		if _, err := r.store.read(tenant, &files); err != nil {
			r.logger.WithError(err).WithField("tenant_id", tenant).Warn("failed to load discovered file partition")
			continue
		}
		r.byTenant[tenant] = files
	}
	return nil
}

// Exists reports whether a row already exists for key within tenantID,
// the uniqueness check behind the idempotent insert.
func (r *DiscoveredFileRepository) Exists(tenantID, key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return false
	}
	_, ok = tenant[key]
	return ok
}

// Insert records file under its IdempotencyKey if no row already
// exists for that key, returning inserted=false without error when one
// does. file.Status is forced to Discovered and file.FileID is
// assigned regardless of what the caller set, since an inserted row
// always starts in that state with a repository-issued identity. The
// returned DiscoveredFile reflects what was actually stored.
func (r *DiscoveredFileRepository) Insert(file types.DiscoveredFile) (stored types.DiscoveredFile, inserted bool, err error) {
	key := file.IdempotencyKey()
	file.Status = types.DiscoveredFileDiscovered

	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.byTenant[file.TenantID]
	if !ok {
		tenant = make(map[string]types.DiscoveredFile)
		r.byTenant[file.TenantID] = tenant
	}
	if existing, exists := tenant[key]; exists {
		return existing, false, nil
	}

	file.FileID = uuid.NewString()
	tenant[key] = file
	if err := r.store.writeAtomic(file.TenantID, tenant); err != nil {
		delete(tenant, key)
		return types.DiscoveredFile{}, false, err
	}
	return file, true, nil
}

// MarkPublishResult updates the row for (tenantID, key) once the
// discovery pipeline has attempted to publish every configured event
// and command for it. success flips it to EventPublished; a failure
// leaves it at Discovered so a subsequent execution retries
// publication without a double-publish, per the uniqueness key.
func (r *DiscoveredFileRepository) MarkPublishResult(tenantID, key string, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return ErrNotFound
	}
	file, ok := tenant[key]
	if !ok {
		return ErrNotFound
	}
	if success {
		file.Status = types.DiscoveredFileEventPublished
	} else {
		file.Status = types.DiscoveredFileDiscovered
	}
	tenant[key] = file
	return r.store.writeAtomic(tenantID, tenant)
}

// ListByConfig returns every discovered file recorded for (tenantID,
// configID).
func (r *DiscoveredFileRepository) ListByConfig(tenantID, configID string) []types.DiscoveredFile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return nil
	}
	var out []types.DiscoveredFile
	for _, f := range tenant {
		if f.ConfigID == configID {
			out = append(out, f)
		}
	}
	return out
}

// StartRetentionSweep launches the background goroutine that deletes
// discovered-file rows older than the configured retention window.
func (r *DiscoveredFileRepository) StartRetentionSweep(interval time.Duration) {
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

func (r *DiscoveredFileRepository) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for tenantID, tenant := range r.byTenant {
		changed := false
		for key, file := range tenant {
			if now.Sub(file.DiscoveredAt) <= r.retention {
				continue
			}
			delete(tenant, key)
			changed = true
		}
		if changed {
			if err := r.store.writeAtomic(tenantID, tenant); err != nil {
				r.logger.WithError(err).WithField("tenant_id", tenantID).Warn("discovered file retention sweep failed to persist")
			}
		}
	}
}

// Close stops the retention sweep goroutine.
func (r *DiscoveredFileRepository) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}
