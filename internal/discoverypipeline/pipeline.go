// Package discoverypipeline implements the discovery pipeline: for
// each candidate an adapter's listing returns, it checks idempotency,
// persists a DiscoveredFile, publishes the configuration's declared
// events and commands in order, and marks the row published. Its
// fast-path cache shape follows a deduplication-manager pattern, and
// its per-candidate publish-then-ack sequencing follows a dispatcher
// pattern.
package discoverypipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/internal/metrics"
	"github.com/ssw-platform/file-discovery-engine/internal/repository"
	"github.com/ssw-platform/file-discovery-engine/pkg/idempotency"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Pipeline runs every candidate an execution's adapter call produced
// through the idempotency check, persistence, and publication steps.
type Pipeline struct {
	files     *repository.DiscoveredFileRepository
	cache     *idempotency.Cache
	publisher types.Publisher
	logger    *logrus.Logger
}

// New creates a Pipeline. cache may be nil to disable the fast-path
// short-circuit and fall straight through to the repository on every
// candidate.
func New(files *repository.DiscoveredFileRepository, cache *idempotency.Cache, publisher types.Publisher, logger *logrus.Logger) *Pipeline {
	return &Pipeline{files: files, cache: cache, publisher: publisher, logger: logger}
}

// Candidate is one file an adapter's listing produced, already filtered
// by filename pattern and extension.
type Candidate struct {
	types.FileMetadata
	Protocol string
}

// Result summarizes one Run call, feeding RetrievalExecution's
// filesFound/filesProcessed counters.
type Result struct {
	FilesFound     int
	FilesProcessed int
}

// Run processes candidates sequentially, preserving the adapter's
// listing order. config identifies the owning
// RetrievalConfiguration; executionID correlates emitted messages back
// to the RetrievalExecution that produced them; now is the execution's
// logical instant, used to compute discoveryDate.
func (p *Pipeline) Run(ctx context.Context, config types.RetrievalConfiguration, executionID string, now time.Time, candidates []Candidate) Result {
	result := Result{FilesFound: len(candidates)}

	for _, candidate := range candidates {
		if p.processOne(ctx, config, executionID, now, candidate) {
			result.FilesProcessed++
		}
	}
	return result
}

func (p *Pipeline) processOne(ctx context.Context, config types.RetrievalConfiguration, executionID string, now time.Time, candidate Candidate) bool {
	discoveryDate := now.UTC().Format("2006-01-02")

	file := types.DiscoveredFile{
		TenantID:      config.TenantID,
		ConfigID:      config.ConfigID,
		FileURL:       candidate.URL,
		FileName:      candidate.Name,
		SizeBytes:     candidate.SizeBytes,
		LastModified:  candidate.LastModified,
		DiscoveryDate: discoveryDate,
		DiscoveredAt:  now,
	}
	key := file.IdempotencyKey()

	if p.cache != nil && p.cache.SeenRecently(key) {
		p.logger.WithField("idempotency_key", key).Debug("discovery pipeline: idempotency cache hit, skipping")
		metrics.FilesSkippedDuplicateTotal.WithLabelValues(config.TenantID, config.ConfigID).Inc()
		return false
	}

	stored, inserted, err := p.files.Insert(file)
	if err != nil {
		p.logger.WithError(err).WithField("idempotency_key", key).Error("discovery pipeline: failed to persist discovered file")
		return false
	}
	if !inserted {
		p.logger.WithField("idempotency_key", key).Debug("discovery pipeline: already discovered, skipping")
		if p.cache != nil {
			p.cache.Record(key)
		}
		metrics.FilesSkippedDuplicateTotal.WithLabelValues(config.TenantID, config.ConfigID).Inc()
		return false
	}
	if p.cache != nil {
		p.cache.Record(key)
	}

	published := p.publish(ctx, config, executionID, stored, candidate.Protocol)

	if err := p.files.MarkPublishResult(config.TenantID, key, published); err != nil {
		p.logger.WithError(err).WithField("idempotency_key", key).Error("discovery pipeline: failed to record publish result")
	}

	metrics.FilesDiscoveredTotal.WithLabelValues(config.TenantID, config.ConfigID).Inc()
	return true
}

// publish sends every configured event then command for file, in
// configuration-declared order, and reports whether every destination
// accepted its message. A single destination's failure is logged and
// does not block the rest, but the caller must not mark file published
// unless every destination succeeded.
func (p *Pipeline) publish(ctx context.Context, config types.RetrievalConfiguration, executionID string, file types.DiscoveredFile, protocol string) bool {
	ok := true

	for _, eventDef := range config.Events {
		msg := buildMessage(config, executionID, file, eventDef.EventType, eventDef.Target, eventDef.Metadata, protocol, file.IdempotencyKey())
		if err := p.publisher.PublishEvent(ctx, msg); err != nil {
			ok = false
			p.logger.WithError(err).WithFields(logrus.Fields{
				"event_type": eventDef.EventType,
				"target":     eventDef.Target,
			}).Error("discovery pipeline: event publish failed")
		}
	}

	for _, cmdDef := range config.Commands {
		cmdKey := file.IdempotencyKey() + ":cmd"
		msg := buildMessage(config, executionID, file, cmdDef.CommandType, cmdDef.Target, cmdDef.Metadata, protocol, cmdKey)
		if err := p.publisher.SendCommand(ctx, msg); err != nil {
			ok = false
			p.logger.WithError(err).WithFields(logrus.Fields{
				"command_type": cmdDef.CommandType,
				"target":       cmdDef.Target,
			}).Error("discovery pipeline: command send failed")
		}
	}

	return ok
}

func buildMessage(config types.RetrievalConfiguration, executionID string, file types.DiscoveredFile, msgType, target string, metadata map[string]string, protocol, idempotencyKey string) types.Message {
	merged := make(map[string]string, len(metadata)+4)
	for k, v := range metadata {
		merged[k] = v
	}
	merged["idempotencyKey"] = idempotencyKey
	merged["executionId"] = executionID
	merged["configurationName"] = config.Name
	merged["protocol"] = protocol

	return types.Message{
		MessageID:        uuid.NewString(),
		CorrelationID:    executionID,
		OccurredUTC:      time.Now().UTC(),
		ExecutionID:      executionID,
		TenantID:         config.TenantID,
		ConfigID:         config.ConfigID,
		DiscoveredFileID: file.FileID,
		DiscoveredAt:     file.DiscoveredAt,
		FileURL:          file.FileURL,
		FileName:         file.FileName,
		SizeBytes:        file.SizeBytes,
		Type:             msgType,
		Target:           target,
		Metadata:         merged,
	}
}
