// Package bus implements types.Publisher as an in-memory fan-out
// publisher: it delivers a message to every Sink registered for the
// message's Target, retrying each delivery under pkg/retry. The
// workflow runtime that eventually consumes these events and commands
// is an external collaborator, so this package exists only to give
// the discovery pipeline a default Publisher sufficient for tests and
// for wiring a real broker in its place. It deliberately does not
// reproduce a full queue/worker-pool/DLQ dispatcher, since there is no
// external sink here whose throughput needs smoothing.
package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/pkg/clock"
	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Sink delivers one message to a concrete destination (a queue, a
// webhook, a test double). Target identifies which sinks a message
// reaches; a bus may register more than one sink per target.
type Sink interface {
	Deliver(ctx context.Context, msg types.Message) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, msg types.Message) error

func (f SinkFunc) Deliver(ctx context.Context, msg types.Message) error { return f(ctx, msg) }

// FailedDelivery records one sink's failed delivery of a message after
// its retry attempts ran out; a message with several failing sinks gets
// one record per sink. A message with no registered sink is dropped
// without a record.
type FailedDelivery struct {
	Message types.Message
	Err     error
}

// InMemoryBus implements types.Publisher by fanning a message out to
// every Sink registered under its Target, retrying each delivery
// independently.
type InMemoryBus struct {
	retryPolicy retry.Policy
	clock       clock.Clock
	logger      *logrus.Logger

	mu    sync.RWMutex
	sinks map[string][]Sink

	failedMu sync.Mutex
	failed   []FailedDelivery
}

// New creates an InMemoryBus. retryPolicy governs per-sink delivery
// retries; a zero Policy applies pkg/retry's defaults.
func New(retryPolicy retry.Policy, logger *logrus.Logger) *InMemoryBus {
	return &InMemoryBus{
		retryPolicy: retryPolicy,
		clock:       clock.Real{},
		logger:      logger,
		sinks:       make(map[string][]Sink),
	}
}

// Register adds sink as a destination for messages published to
// target.
func (b *InMemoryBus) Register(target string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks[target] = append(b.sinks[target], sink)
}

// PublishEvent delivers msg to every sink registered for msg.Target.
func (b *InMemoryBus) PublishEvent(ctx context.Context, msg types.Message) error {
	return b.deliver(ctx, msg)
}

// SendCommand delivers msg to every sink registered for msg.Target.
// Commands and events share delivery semantics; only Type differs.
func (b *InMemoryBus) SendCommand(ctx context.Context, msg types.Message) error {
	return b.deliver(ctx, msg)
}

func (b *InMemoryBus) deliver(ctx context.Context, msg types.Message) error {
	b.mu.RLock()
	sinks := append([]Sink(nil), b.sinks[msg.Target]...)
	b.mu.RUnlock()

	if len(sinks) == 0 {
		b.logger.WithFields(logrus.Fields{
			"target": msg.Target,
			"type":   msg.Type,
		}).Debug("bus: no sink registered for target, dropping message")
		return nil
	}

	runner := retry.NewRunner(b.retryPolicy, b.clock, b.logger)

	var firstErr error
	for _, sink := range sinks {
		sink := sink
		err := runner.Do(ctx, "bus", "deliver", func(ctx context.Context) error {
			return sink.Deliver(ctx, msg)
		})
		if err != nil {
			b.recordFailure(msg, err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *InMemoryBus) recordFailure(msg types.Message, err error) {
	b.failedMu.Lock()
	defer b.failedMu.Unlock()
	b.failed = append(b.failed, FailedDelivery{Message: msg, Err: err})
	b.logger.WithFields(logrus.Fields{
		"target": msg.Target,
		"type":   msg.Type,
		"error":  err,
	}).Error("bus: message delivery exhausted retries")
}

// FailedDeliveries returns every delivery that exhausted its retries,
// for diagnostics and tests.
func (b *InMemoryBus) FailedDeliveries() []FailedDelivery {
	b.failedMu.Lock()
	defer b.failedMu.Unlock()
	return append([]FailedDelivery(nil), b.failed...)
}

// ErrNoSink is returned by callers that require at least one
// registered sink for a target before accepting configuration.
type ErrNoSink struct{ Target string }

func (e *ErrNoSink) Error() string { return fmt.Sprintf("bus: no sink registered for target %q", e.Target) }
