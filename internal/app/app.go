// Package app wires the discovery engine's components into a single
// running process: configuration, secrets, repositories, the message
// bus, the protocol adapter factory, the execution engine, the
// discovery pipeline, the scheduler, and the ops HTTP surface. It
// mirrors a struct-of-components wiring shape: New builds every
// component in dependency order, Start brings them up, Run blocks for
// a shutdown signal, and Stop tears them down in reverse order.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ssw-platform/file-discovery-engine/internal/bus"
	"github.com/ssw-platform/file-discovery-engine/internal/config"
	"github.com/ssw-platform/file-discovery-engine/internal/discoverypipeline"
	"github.com/ssw-platform/file-discovery-engine/internal/execution"
	"github.com/ssw-platform/file-discovery-engine/internal/metrics"
	"github.com/ssw-platform/file-discovery-engine/internal/repository"
	"github.com/ssw-platform/file-discovery-engine/internal/scheduler"
	"github.com/ssw-platform/file-discovery-engine/pkg/circuit"
	"github.com/ssw-platform/file-discovery-engine/pkg/idempotency"
	"github.com/ssw-platform/file-discovery-engine/pkg/protocol"
	"github.com/ssw-platform/file-discovery-engine/pkg/retry"
	"github.com/ssw-platform/file-discovery-engine/pkg/secrets"
	"github.com/ssw-platform/file-discovery-engine/pkg/workerpool"
)

// App is the fully wired discovery engine process.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	secretResolver secrets.Resolver
	configs        *repository.ConfigurationRepository
	executions     *repository.ExecutionRepository
	files          *repository.DiscoveredFileRepository
	publisher      *bus.InMemoryBus
	breakers       *circuit.Registry
	factory        *protocol.Factory
	pipeline       *discoverypipeline.Pipeline
	engine         *execution.Engine
	scheduler      *scheduler.Scheduler
	metricsServer  *metrics.Server
}

// New loads configFile, validates it, and constructs every component
// without starting any background work. Start brings the app live.
func New(configFile string) (*App, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.App.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}

	app := &App{cfg: cfg, logger: logger}
	if err := app.wire(); err != nil {
		return nil, fmt.Errorf("app: wiring failed: %w", err)
	}
	return app, nil
}

func (a *App) wire() error {
	a.secretResolver = secrets.NewEnvResolver(a.cfg.Secrets.CacheTTL, a.logger)

	configs, err := repository.NewConfigurationRepository(a.cfg.Storage.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("configuration repository: %w", err)
	}
	a.configs = configs

	executions, err := repository.NewExecutionRepository(a.cfg.Storage.Dir, a.cfg.Storage.ExecutionRetention, a.logger)
	if err != nil {
		return fmt.Errorf("execution repository: %w", err)
	}
	a.executions = executions

	files, err := repository.NewDiscoveredFileRepository(a.cfg.Storage.Dir, a.cfg.Storage.DiscoveredFileRetention, a.logger)
	if err != nil {
		return fmt.Errorf("discovered file repository: %w", err)
	}
	a.files = files

	a.publisher = bus.New(retry.Policy{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, Multiplier: 2.0, JitterFrac: 0.2}, a.logger)

	a.breakers = circuit.NewRegistry(circuit.Config{}, a.logger)
	a.factory = protocol.NewFactory(a.secretResolver, a.breakers, a.logger)

	cache := idempotency.NewCache(idempotency.Config{MaxEntries: a.cfg.Cache.MaxEntries, TTL: a.cfg.Cache.TTL}, a.logger)
	a.pipeline = discoverypipeline.New(a.files, cache, a.publisher, a.logger)

	a.engine = execution.New(a.factory, a.executions, a.pipeline, nil, a.logger)

	schedCfg := scheduler.Config{
		DropMissedFires:    a.cfg.Scheduler.DropMissedFires,
		MissedFireLookback: a.cfg.Scheduler.MissedFireLookback,
		Workers: workerpool.Config{
			MaxWorkers:    a.cfg.Scheduler.Workers,
			QueueSize:     a.cfg.Scheduler.QueueSize,
			WorkerTimeout: a.cfg.Scheduler.WorkerTimeout,
		},
	}
	a.scheduler = scheduler.New(schedCfg, a.configs, a.engine, a.logger)

	a.metricsServer = metrics.NewServer(fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port), a.logger)
	a.registerDiagnosticRoutes()

	return nil
}

// Start brings every component up: the metrics/ops HTTP server, the
// retention sweeps, and the scheduler's fire loop.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting file discovery engine")

	if err := a.metricsServer.Start(); err != nil {
		return fmt.Errorf("app: start metrics server: %w", err)
	}

	a.executions.StartRetentionSweep(time.Hour)
	a.files.StartRetentionSweep(time.Hour)

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("app: start scheduler: %w", err)
	}

	a.metricsServer.SetReady(true)
	a.logger.Info("file discovery engine started")
	return nil
}

// Stop drains the scheduler's in-flight executions and shuts the
// ops HTTP server down.
func (a *App) Stop() {
	a.logger.Info("stopping file discovery engine")
	a.metricsServer.SetReady(false)
	a.scheduler.Stop()
	if err := a.executions.Close(); err != nil {
		a.logger.WithError(err).Error("failed to close execution repository")
	}
	if err := a.files.Close(); err != nil {
		a.logger.WithError(err).Error("failed to close discovered file repository")
	}
	if err := a.metricsServer.Stop(); err != nil {
		a.logger.WithError(err).Error("failed to stop metrics server")
	}
	if err := a.secretResolver.Close(); err != nil {
		a.logger.WithError(err).Error("failed to close secret resolver")
	}
	a.logger.Info("file discovery engine stopped")
}

// Run starts the app and blocks until SIGINT/SIGTERM, then stops it.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	a.logger.Info("shutdown signal received")
	cancel()
	a.Stop()
	return nil
}

// registerDiagnosticRoutes adds the per-configuration connectivity
// check the ambient HTTP surface exposes beyond health/ready/metrics.
func (a *App) registerDiagnosticRoutes() {
	a.metricsServer.HandleFunc("/internal/configurations/{tenantId}/{configId}/test", a.testConnectionHandler)
}

func (a *App) testConnectionHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	tenantID, configID := vars["tenantId"], vars["configId"]

	cfg, ok := a.configs.Get(tenantID, configID)
	if !ok {
		http.Error(w, "configuration not found", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	adapter, err := a.factory.Build(ctx, cfg)
	if err != nil {
		writeTestResult(w, false, err.Error())
		return
	}
	defer adapter.Close()

	if err := adapter.TestConnection(ctx); err != nil {
		writeTestResult(w, false, err.Error())
		return
	}
	writeTestResult(w, true, "")
}

func writeTestResult(w http.ResponseWriter, ok bool, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusBadGateway)
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": ok,
		"error":   errMsg,
	})
}
