// Package retry implements the discovery engine's retry policy:
// exponential backoff with jitter, bounded attempts, and early exit on
// a non-retryable classified error.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/clock"
	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
)

// Policy configures backoff behaviour.
type Policy struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64 // backoff growth factor, applied per attempt
	JitterFrac   float64 // +/- fraction of the computed delay, e.g. 0.2 for +/-20%
}

func (p *Policy) applyDefaults() {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 5
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFrac < 0 {
		p.JitterFrac = 0.2
	}
}

// Runner executes operations under a Policy using an injected Clock,
// so tests never sleep in real time.
type Runner struct {
	policy Policy
	clock  clock.Clock
	rand   *rand.Rand
	logger *logrus.Logger
}

// NewRunner creates a Runner. clk defaults to clock.Real{} when nil.
func NewRunner(policy Policy, clk clock.Clock, logger *logrus.Logger) *Runner {
	policy.applyDefaults()
	if clk == nil {
		clk = clock.Real{}
	}
	return &Runner{
		policy: policy,
		clock:  clk,
		rand:   rand.New(rand.NewSource(1)),
		logger: logger,
	}
}

// Attempt records one pass through Do's loop, for callers that want to
// log or assert on the retry trail.
type Attempt struct {
	Number int
	Err    *errs.DiscoveryError
	Delay  time.Duration
}

// Do runs fn until it succeeds, fn returns a non-retryable
// *errs.DiscoveryError, the context is cancelled, or MaxAttempts is
// exhausted. It returns the classified error of the final attempt, or
// nil on success. component/operation label errors that fn returns
// unclassified.
func (r *Runner) Do(ctx context.Context, component, operation string, fn func(ctx context.Context) error) error {
	var lastErr *errs.DiscoveryError

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return errs.Classify(component, operation, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		classified := errs.Classify(component, operation, err)
		lastErr = classified

		if !classified.Retryable() {
			return classified
		}
		if attempt == r.policy.MaxAttempts {
			return classified
		}

		delay := r.delayFor(attempt)
		if r.logger != nil {
			r.logger.WithFields(logrus.Fields{
				"component": component,
				"operation": operation,
				"attempt":   attempt,
				"delay":     delay,
			}).WithFields(classified.ToFields()).Warn("retrying after classified error")
		}

		select {
		case <-ctx.Done():
			return errs.Classify(component, operation, ctx.Err())
		case <-r.clock.After(delay):
		}
	}

	return lastErr
}

// delayFor computes the jittered exponential backoff for the given
// 1-based attempt number.
func (r *Runner) delayFor(attempt int) time.Duration {
	base := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if base > float64(r.policy.MaxDelay) {
		base = float64(r.policy.MaxDelay)
	}

	if r.policy.JitterFrac == 0 {
		return time.Duration(base)
	}

	jitter := base * r.policy.JitterFrac
	delta := (r.rand.Float64()*2 - 1) * jitter
	d := time.Duration(base + delta)
	if d < 0 {
		d = 0
	}
	return d
}
