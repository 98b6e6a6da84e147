// Package protocol wires the adapter factory: given a
// configuration's protocol and settings it builds the matching
// pkg/protocol/{ftp,https,azureblob} adapter, injecting a
// SecretResolver, a shared HttpClientPool, and a per-configuration
// circuit breaker from pkg/circuit.
package protocol

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// HttpClientPool hands out *http.Client instances keyed by their
// connect timeout and TLS verification setting, reusing one client
// (and therefore its underlying transport's connection pool) across
// every adapter that asks for the same combination. Grounded on the
// teacher's pkg/docker.ConnectionPool: net/http's Transport already
// pools and health-checks its own connections, so unlike the Docker
// pool this one carries no health-check loop of its own — it only
// needs to avoid handing out a fresh, cold transport per execution.
type HttpClientPool struct {
	mu      sync.Mutex
	clients map[poolKey]*http.Client
}

type poolKey struct {
	timeout     time.Duration
	insecureTLS bool
}

// NewHttpClientPool creates an empty pool.
func NewHttpClientPool() *HttpClientPool {
	return &HttpClientPool{clients: make(map[poolKey]*http.Client)}
}

// Get returns the shared client for (timeout, insecureTLS), creating
// it on first use.
func (p *HttpClientPool) Get(timeout time.Duration, insecureTLS bool) *http.Client {
	key := poolKey{timeout: timeout, insecureTLS: insecureTLS}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[key]; ok {
		return c
	}

	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if insecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	c := &http.Client{Transport: transport, Timeout: timeout}
	p.clients[key] = c
	return c
}

// ErrUnsupportedProtocol is returned by the factory when a
// configuration names a Protocol with no matching adapter.
type ErrUnsupportedProtocol struct{ Protocol string }

func (e *ErrUnsupportedProtocol) Error() string {
	return fmt.Sprintf("protocol: unsupported protocol %q", e.Protocol)
}
