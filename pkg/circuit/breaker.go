// Package circuit implements a per-configuration circuit breaker. The
// adapter factory (pkg/protocol) opens one breaker per (tenantId,
// configId) so that a server having a bad day for one tenant does not
// throttle discovery for every other tenant sharing the same adapter
// type.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config controls the trip/recovery thresholds of a Breaker.
type Config struct {
	Name             string
	FailureThreshold int           // failure count that trips the breaker; each closed-state success lowers the count by one
	SuccessThreshold int           // half-open successes before closing
	Timeout          time.Duration // time spent open before probing again
	HalfOpenMaxCalls int           // probes allowed per half-open period
}

func (c *Config) applyDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 5
	}
}

// Stats is a point-in-time snapshot of a Breaker's counters.
type Stats struct {
	State         State
	Failures      int64
	Successes     int64
	Requests      int64
	LastFailure   time.Time
	LastSuccess   time.Time
	NextRetryTime time.Time
}

// Breaker guards calls to a single upstream endpoint. Execute is split
// into three phases so the lock is never held while fn runs: adapter
// calls can take as long as an FTP LIST or an HTTPS GET, and holding
// the lock across that would serialize every discovery for the
// configuration.
type Breaker struct {
	config Config
	logger *logrus.Logger

	mu            sync.RWMutex
	state         State
	failures      int64
	successes     int64
	requests      int64
	lastFailure   time.Time
	lastSuccess   time.Time
	nextRetryTime time.Time

	halfOpenCalls     int
	halfOpenSuccesses int
	halfOpenStartTime time.Time

	onStateChange func(from, to State)
}

// NewBreaker creates a Breaker in the closed state.
func NewBreaker(config Config, logger *logrus.Logger) *Breaker {
	config.applyDefaults()
	return &Breaker{config: config, logger: logger, state: Closed}
}

// ErrOpen is returned by Execute when the breaker refuses the call.
type ErrOpen struct{ Name string }

func (e *ErrOpen) Error() string { return fmt.Sprintf("circuit breaker %q is open", e.Name) }

// Execute runs fn under the breaker's protection.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.recordFailure(err)
	} else {
		b.recordSuccess()
	}
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.requests++

	if b.state == Open {
		if time.Now().Before(b.nextRetryTime) {
			return &ErrOpen{Name: b.config.Name}
		}
		b.setState(HalfOpen)
		b.halfOpenCalls = 0
		b.halfOpenSuccesses = 0
		b.halfOpenStartTime = time.Now()
	}

	if b.state == HalfOpen {
		if time.Since(b.halfOpenStartTime) > b.config.Timeout*2 {
			b.trip()
			return &ErrOpen{Name: b.config.Name}
		}
		if b.halfOpenCalls >= b.config.HalfOpenMaxCalls {
			return &ErrOpen{Name: b.config.Name}
		}
		b.halfOpenCalls++
	}

	return nil
}

func (b *Breaker) recordFailure(err error) {
	b.failures++
	b.lastFailure = time.Now()

	if b.state == HalfOpen {
		b.trip()
		return
	}
	if b.state == Closed && b.failures >= int64(b.config.FailureThreshold) {
		b.trip()
	}
}

func (b *Breaker) recordSuccess() {
	b.successes++
	b.lastSuccess = time.Now()

	switch b.state {
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.config.SuccessThreshold {
			b.setState(Closed)
			b.failures = 0
			b.halfOpenCalls = 0
			b.halfOpenSuccesses = 0
		}
	case Closed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *Breaker) trip() {
	if b.state == Open {
		return
	}
	b.setState(Open)
	b.nextRetryTime = time.Now().Add(b.config.Timeout)
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"breaker":         b.config.Name,
			"failures":        b.failures,
			"next_retry_time": b.nextRetryTime,
		}).Warn("circuit breaker opened")
	}
}

func (b *Breaker) setState(newState State) {
	if b.state == newState {
		return
	}
	old := b.state
	b.state = newState
	if b.onStateChange != nil {
		b.onStateChange(old, newState)
	}
	if b.logger != nil {
		b.logger.WithFields(logrus.Fields{
			"breaker":   b.config.Name,
			"old_state": old.String(),
			"new_state": newState.String(),
		}).Info("circuit breaker state changed")
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Stats{
		State:         b.state,
		Failures:      b.failures,
		Successes:     b.successes,
		Requests:      b.requests,
		LastFailure:   b.lastFailure,
		LastSuccess:   b.lastSuccess,
		NextRetryTime: b.nextRetryTime,
	}
}

// SetStateChangeCallback registers a hook invoked whenever the breaker
// transitions state.
func (b *Breaker) SetStateChangeCallback(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setState(Closed)
	b.failures = 0
	b.successes = 0
	b.requests = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccesses = 0
	b.nextRetryTime = time.Time{}
}
