// Package execution runs one configuration's retrieval attempt:
// resolves a RetrievalConfiguration's path/filename tokens against a
// fire instant, builds the protocol adapter, lists candidates under
// the retry policy and circuit breaker, runs them through the
// discovery pipeline, and persists the resulting RetrievalExecution.
// Its orchestration shape follows a dispatcher pattern and its
// tracked single-shot execution follows a task-manager pattern.
package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/internal/discoverypipeline"
	"github.com/ssw-platform/file-discovery-engine/internal/metrics"
	"github.com/ssw-platform/file-discovery-engine/internal/repository"
	"github.com/ssw-platform/file-discovery-engine/pkg/errs"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol"
	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/token"
	"github.com/ssw-platform/file-discovery-engine/pkg/types"
)

// Engine orchestrates a single RetrievalConfiguration's execution from
// fire instant to persisted result.
type Engine struct {
	factory      *protocol.Factory
	executions   *repository.ExecutionRepository
	pipeline     *discoverypipeline.Pipeline
	retryPolicies map[types.Protocol]retry.Policy
	logger       *logrus.Logger
}

// New creates an Engine. retryPolicies gives, per protocol, the retry
// policy that wraps adapter construction and the list call. A protocol
// with no entry (every protocol when retryPolicies is nil) runs under
// pkg/retry's zero-Policy defaults: 5 attempts, 500ms initial delay,
// 30s cap, no jitter. The retry policies in the adapter factory's
// per-protocol defaults table are not applied. Retries are scoped to
// one execution's attempts while the circuit breaker (factory.Breaker)
// separately guards repeated executions.
func New(factory *protocol.Factory, executions *repository.ExecutionRepository, pipeline *discoverypipeline.Pipeline, retryPolicies map[types.Protocol]retry.Policy, logger *logrus.Logger) *Engine {
	return &Engine{
		factory:       factory,
		executions:    executions,
		pipeline:      pipeline,
		retryPolicies: retryPolicies,
		logger:        logger,
	}
}

// Execute runs config once for the given instant and trigger, returning
// the persisted RetrievalExecution. It never returns an error for a
// classified adapter failure — such failures are recorded on the
// execution record itself, which still persists successfully. Execute
// returns an error only if the execution record itself cannot be
// persisted.
func (e *Engine) Execute(ctx context.Context, config types.RetrievalConfiguration, instant time.Time, trigger types.TriggerKind) (types.RetrievalExecution, error) {
	executionID := uuid.NewString()
	startedAt := time.Now()

	exec := types.RetrievalExecution{
		TenantID:     config.TenantID,
		ConfigID:     config.ConfigID,
		ExecutionID:  executionID,
		Trigger:      trigger,
		Status:       types.ExecutionStatusRunning,
		ScheduledFor: instant,
		StartedAt:    startedAt,
	}
	exec, err := e.executions.Save(exec)
	if err != nil {
		return types.RetrievalExecution{}, fmt.Errorf("execution: persist initial record: %w", err)
	}

	candidates, attempts, runErr := e.listCandidates(ctx, config, instant)

	if runErr == nil {
		result := e.pipeline.Run(ctx, config, executionID, instant, candidates)
		exec.FilesFound = result.FilesFound
		exec.FilesProcessed = result.FilesProcessed
		exec.Status = types.ExecutionStatusSucceeded
	} else {
		classified, _ := errs.As(runErr)
		if classified == nil {
			classified = errs.Classify("execution", "list", runErr)
		}
		exec.Status = types.ExecutionStatusFailed
		exec.ErrorCategory = string(classified.Category)
		exec.ErrorMessage = classified.Error()
		metrics.AdapterErrorsTotal.WithLabelValues(string(config.Protocol), string(classified.Category)).Inc()
	}

	if attempts > 0 {
		exec.RetryCount = attempts - 1
	}
	exec.FinishedAt = time.Now()

	metrics.RecordExecution(config.TenantID, string(config.Protocol), string(exec.Status), exec.FinishedAt.Sub(exec.StartedAt))

	exec, err = e.executions.Save(exec)
	if err != nil {
		return types.RetrievalExecution{}, fmt.Errorf("execution: persist final record: %w", err)
	}
	return exec, nil
}

// listCandidates resolves config's path/filename tokens against
// instant, builds the protocol adapter, and lists matching candidates
// under the protocol's retry policy and the configuration's circuit
// breaker.
func (e *Engine) listCandidates(ctx context.Context, config types.RetrievalConfiguration, instant time.Time) ([]discoverypipeline.Candidate, int, error) {
	resolvedPath := token.Resolve(config.PathPattern, instant)
	resolvedName := token.Resolve(config.FilenamePattern, instant)

	breaker := e.factory.Breaker(config.TenantID, config.ConfigID)
	policy := e.retryPolicies[config.Protocol]
	runner := retry.NewRunner(policy, nil, e.logger)

	var candidates []discoverypipeline.Candidate
	attempts := 0

	err := breaker.Execute(func() error {
		return runner.Do(ctx, "execution", "list", func(ctx context.Context) error {
			attempts++

			adapter, err := e.factory.Build(ctx, config)
			if err != nil {
				return err
			}
			defer adapter.Close()

			files, err := adapter.List(ctx, resolvedPath, resolvedName, config.FileExtension)
			if err != nil {
				return err
			}

			candidates = toCandidates(files, string(config.Protocol))
			return nil
		})
	})

	return candidates, attempts, err
}

func toCandidates(files []types.FileMetadata, protocolName string) []discoverypipeline.Candidate {
	out := make([]discoverypipeline.Candidate, 0, len(files))
	for _, f := range files {
		out = append(out, discoverypipeline.Candidate{FileMetadata: f, Protocol: protocolName})
	}
	return out
}
