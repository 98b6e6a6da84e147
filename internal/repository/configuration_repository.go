package repository

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/token"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// cronParser accepts the same standard 5-field cron expression the
// scheduler itself parses before arming a configuration; validating
// with the identical parser here means Put never accepts a
// configuration the scheduler would then fail to arm.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ConfigurationRepository stores RetrievalConfiguration rows, one JSON
// partition per tenant. The scheduler's arm/disarm loop and the
// execution engine read through this repository; nothing else owns a
// configuration's durable state.
type ConfigurationRepository struct {
	store  *fileStore
	logger *logrus.Logger

	mu       sync.RWMutex
	byTenant map[string]map[string]types.RetrievalConfiguration

	subMu       sync.RWMutex
	subscribers []func(types.ConfigChangeEvent)
}

// Subscribe registers fn to be called, synchronously and in Put/Delete
// call order, every time a configuration is created, updated, or
// deleted. The Scheduler (internal/scheduler) is the intended
// subscriber; fn must not block or call back into the repository.
func (r *ConfigurationRepository) Subscribe(fn func(types.ConfigChangeEvent)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers = append(r.subscribers, fn)
}

func (r *ConfigurationRepository) notify(event types.ConfigChangeEvent) {
	r.subMu.RLock()
	subs := append([]func(types.ConfigChangeEvent){}, r.subscribers...)
	r.subMu.RUnlock()
	for _, fn := range subs {
		fn(event)
	}
}

// NewConfigurationRepository creates a ConfigurationRepository rooted at
// dir and loads every existing partition into memory.
func NewConfigurationRepository(dir string, logger *logrus.Logger) (*ConfigurationRepository, error) {
	store, err := newFileStore(dir, "configurations")
	if err != nil {
		return nil, err
	}

	r := &ConfigurationRepository{
		store:    store,
		logger:   logger,
		byTenant: make(map[string]map[string]types.RetrievalConfiguration),
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *ConfigurationRepository) load() error {
	partitions, err := r.store.partitions()
	if err != nil {
		return err
	}

	for _, tenant := range partitions {
		var configs map[string]types.RetrievalConfiguration
		if _, err := r.store.read(tenant, &configs); err != nil {
			r.logger.WithError(err).WithField("tenant_id", tenant).Warn("failed to load configuration partition")
			continue
		}
		r.byTenant[tenant] = configs
	}

	r.logger.WithField("tenant_count", len(r.byTenant)).Info("loaded configuration repository")
	return nil
}

// Get returns the configuration for (tenantID, configID).
func (r *ConfigurationRepository) Get(tenantID, configID string) (types.RetrievalConfiguration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return types.RetrievalConfiguration{}, false
	}
	cfg, ok := tenant[configID]
	return cfg, ok
}

// ListEnabled returns every enabled configuration across all tenants,
// the set the scheduler arms on startup; later changes reach the
// scheduler through Subscribe.
func (r *ConfigurationRepository) ListEnabled() []types.RetrievalConfiguration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []types.RetrievalConfiguration
	for _, tenant := range r.byTenant {
		for _, cfg := range tenant {
			if cfg.Enabled {
				out = append(out, cfg)
			}
		}
	}
	return out
}

// ListByTenant returns every configuration owned by tenantID, enabled
// or not.
func (r *ConfigurationRepository) ListByTenant(tenantID string) []types.RetrievalConfiguration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return nil
	}
	out := make([]types.RetrievalConfiguration, 0, len(tenant))
	for _, cfg := range tenant {
		out = append(out, cfg)
	}
	return out
}

// Put inserts or updates cfg. A nonzero cfg.Version must match the
// currently stored row's version or Put returns ErrVersionConflict; a
// zero Version is only accepted when the row does not yet exist. On
// success cfg.Version is advanced and returned.
func (r *ConfigurationRepository) Put(cfg types.RetrievalConfiguration) (types.RetrievalConfiguration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.byTenant[cfg.TenantID]
	if !ok {
		tenant = make(map[string]types.RetrievalConfiguration)
		r.byTenant[cfg.TenantID] = tenant
	}

	existing, exists := tenant[cfg.ConfigID]
	switch {
	case exists && cfg.Version != existing.Version:
		return types.RetrievalConfiguration{}, ErrVersionConflict
	case !exists && cfg.Version != 0:
		return types.RetrievalConfiguration{}, ErrVersionConflict
	}

	if err := validateConfiguration(cfg, tenant); err != nil {
		return types.RetrievalConfiguration{}, err
	}

	now := time.Now()
	if !exists {
		cfg.CreatedAt = now
	} else {
		cfg.CreatedAt = existing.CreatedAt
	}
	cfg.UpdatedAt = now
	cfg.Version = existing.Version + 1

	tenant[cfg.ConfigID] = cfg
	if err := r.store.writeAtomic(cfg.TenantID, tenant); err != nil {
		return types.RetrievalConfiguration{}, err
	}

	if !exists {
		r.notify(types.ConfigChangeEvent{Kind: types.ConfigCreated, Configuration: cfg})
	} else {
		r.notify(types.ConfigChangeEvent{Kind: types.ConfigUpdated, Configuration: cfg, ChangedFields: changedFields(existing, cfg)})
	}
	return cfg, nil
}

// validateConfiguration enforces the semantic guarantees Put must hold
// before a configuration is ever handed to the scheduler: its path and
// filename patterns use only supported tokens, its host does not
// itself vary by date, its cron expression and timezone actually
// parse, its protocol settings match its declared protocol, and its
// name is unique within the tenant.
func validateConfiguration(cfg types.RetrievalConfiguration, tenant map[string]types.RetrievalConfiguration) error {
	if err := token.Validate(cfg.PathPattern); err != nil {
		return err
	}
	if err := token.Validate(cfg.FilenamePattern); err != nil {
		return err
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return errs.New(errs.CategoryConfigurationError, "configuration", "put",
			fmt.Sprintf("invalid timezone %q: %v", cfg.Timezone, err))
	}
	if _, err := cronParser.Parse(cfg.CronExpression); err != nil {
		return errs.New(errs.CategoryConfigurationError, "configuration", "put",
			fmt.Sprintf("invalid cron expression %q: %v", cfg.CronExpression, err))
	}

	if err := validateProtocolVariant(cfg); err != nil {
		return err
	}

	for id, other := range tenant {
		if id != cfg.ConfigID && other.Name == cfg.Name {
			return errs.New(errs.CategoryConfigurationError, "configuration", "put",
				fmt.Sprintf("name %q already used by configuration %q", cfg.Name, id))
		}
	}
	return nil
}

// validateProtocolVariant checks that exactly the ProtocolSettings
// variant matching cfg.Protocol is populated, and that its host/base
// address carries no date token.
func validateProtocolVariant(cfg types.RetrievalConfiguration) error {
	switch cfg.Protocol {
	case types.ProtocolFTP:
		if cfg.Settings.FTP == nil || cfg.Settings.HTTPS != nil || cfg.Settings.Azure != nil {
			return errs.New(errs.CategoryConfigurationError, "configuration", "put",
				"protocol ftp requires exactly the ftp settings variant")
		}
		return token.ValidateHost(cfg.Settings.FTP.Host)
	case types.ProtocolHTTPS:
		if cfg.Settings.HTTPS == nil || cfg.Settings.FTP != nil || cfg.Settings.Azure != nil {
			return errs.New(errs.CategoryConfigurationError, "configuration", "put",
				"protocol https requires exactly the https settings variant")
		}
		return token.ValidateHost(cfg.Settings.HTTPS.BaseURL)
	case types.ProtocolAzure:
		if cfg.Settings.Azure == nil || cfg.Settings.FTP != nil || cfg.Settings.HTTPS != nil {
			return errs.New(errs.CategoryConfigurationError, "configuration", "put",
				"protocol azure_blob requires exactly the azure settings variant")
		}
		return token.ValidateHost(cfg.Settings.Azure.AccountName)
	default:
		return errs.New(errs.CategoryConfigurationError, "configuration", "put",
			fmt.Sprintf("unsupported protocol %q", cfg.Protocol))
	}
}

// changedFields reports which configuration attributes a ConfigUpdated
// event should name. Only the fields the Scheduler cares about for
// re-arming are tracked; a payload-only Events/Commands edit still
// fires ConfigUpdated with an empty list.
func changedFields(before, after types.RetrievalConfiguration) []string {
	var changed []string
	if before.CronExpression != after.CronExpression {
		changed = append(changed, "cronExpression")
	}
	if before.Timezone != after.Timezone {
		changed = append(changed, "timezone")
	}
	if before.Enabled != after.Enabled {
		changed = append(changed, "isActive")
	}
	if before.Protocol != after.Protocol {
		changed = append(changed, "protocol")
	}
	return changed
}

// Delete removes a configuration row, returning ErrNotFound if absent.
func (r *ConfigurationRepository) Delete(tenantID, configID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tenant, ok := r.byTenant[tenantID]
	if !ok {
		return ErrNotFound
	}
	cfg, ok := tenant[configID]
	if !ok {
		return ErrNotFound
	}
	delete(tenant, configID)
	if err := r.store.writeAtomic(tenantID, tenant); err != nil {
		return err
	}
	r.notify(types.ConfigChangeEvent{Kind: types.ConfigDeleted, Configuration: cfg})
	return nil
}
