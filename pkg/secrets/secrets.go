// Package secrets resolves the credential references stored on a
// retrieval configuration (a password field, an FTP key passphrase, an
// Azure SAS token) into the actual secret value used to authenticate.
// Configurations never store secret values directly, only references
// such as "env:FTP_ACME_PASSWORD"; the resolver is the only component
// allowed to read the underlying store.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Resolver turns a secret reference into its value.
type Resolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
	Close() error
}

type cachedValue struct {
	value     string
	expiresAt time.Time
}

// EnvResolver resolves "env:NAME" references against the process
// environment, with a short-lived cache so a configuration that fires
// every few minutes does not re-read the environment on every tick.
type EnvResolver struct {
	logger   *logrus.Logger
	cacheTTL time.Duration

	mu    sync.RWMutex
	cache map[string]cachedValue

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEnvResolver creates an EnvResolver. cacheTTL defaults to 5 minutes
// when zero.
func NewEnvResolver(cacheTTL time.Duration, logger *logrus.Logger) *EnvResolver {
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &EnvResolver{
		logger:   logger,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cachedValue),
		ctx:      ctx,
		cancel:   cancel,
	}
	go r.cleanupLoop()
	return r
}

// Resolve accepts references of the form "env:NAME" or a bare NAME,
// both treated as an environment variable lookup.
func (r *EnvResolver) Resolve(ctx context.Context, reference string) (string, error) {
	name := strings.TrimPrefix(reference, "env:")

	if v, ok := r.fromCache(name); ok {
		return v, nil
	}

	value, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secrets: environment variable %q not set", name)
	}

	r.mu.Lock()
	r.cache[name] = cachedValue{value: value, expiresAt: time.Now().Add(r.cacheTTL)}
	r.mu.Unlock()

	return value, nil
}

func (r *EnvResolver) fromCache(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cv, ok := r.cache[name]
	if !ok || time.Now().After(cv.expiresAt) {
		return "", false
	}
	return cv.value, true
}

func (r *EnvResolver) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.evictExpired()
		}
	}
}

func (r *EnvResolver) evictExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for k, v := range r.cache {
		if now.After(v.expiresAt) {
			delete(r.cache, k)
		}
	}
}

// Close stops the cache cleanup loop.
func (r *EnvResolver) Close() error {
	r.cancel()
	return nil
}

// StaticResolver is a fixed-value Resolver for tests.
type StaticResolver struct {
	Values map[string]string
}

func (s StaticResolver) Resolve(_ context.Context, reference string) (string, error) {
	if v, ok := s.Values[reference]; ok {
		return v, nil
	}
	return "", fmt.Errorf("secrets: no static value for %q", reference)
}

func (s StaticResolver) Close() error { return nil }
