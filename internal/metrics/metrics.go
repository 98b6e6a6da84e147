// Package metrics exposes the Prometheus metrics the discovery engine
// emits: per-(tenant, protocol) discovery counts, execution duration,
// retry and circuit breaker activity, and the idempotency cache's hit
// rate.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_executions_total",
			Help: "Total number of retrieval executions, by tenant, protocol, and outcome status",
		},
		[]string{"tenant_id", "protocol", "status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_execution_duration_seconds",
			Help:    "Wall-clock duration of a retrieval execution from adapter list to persisted result",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant_id", "protocol"},
	)

	FilesDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_files_discovered_total",
			Help: "Total number of new files confirmed by the idempotency check and persisted",
		},
		[]string{"tenant_id", "config_id"},
	)

	FilesSkippedDuplicateTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_files_skipped_duplicate_total",
			Help: "Total number of listed files skipped because they were already discovered for the same logical date",
		},
		[]string{"tenant_id", "config_id"},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_retry_attempts_total",
			Help: "Total retry attempts made by the retry policy, by classified error category",
		},
		[]string{"component", "category"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "discovery_circuit_breaker_state",
			Help: "Circuit breaker state per (tenant, config): 0=closed, 1=open, 2=half_open",
		},
		[]string{"tenant_id", "config_id"},
	)

	OverlapSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_overlap_skipped_total",
			Help: "Total scheduled fires skipped because the previous execution for the configuration was still running",
		},
		[]string{"tenant_id", "config_id"},
	)

	IdempotencyCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_idempotency_cache_size",
		Help: "Current number of entries in the in-memory idempotency fast-path cache",
	})

	IdempotencyCacheHitRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_idempotency_cache_hit_rate",
		Help: "Idempotency fast-path cache hit rate (0.0 to 1.0)",
	})

	IdempotencyCacheEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "discovery_idempotency_cache_evictions_total",
		Help: "Total evictions from the idempotency fast-path cache (LRU or TTL)",
	})

	SchedulerArmedConfigurations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "discovery_scheduler_armed_configurations",
		Help: "Number of enabled configurations currently armed in the scheduler",
	})

	AdapterErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_adapter_errors_total",
			Help: "Total adapter errors by protocol and classified error category",
		},
		[]string{"protocol", "category"},
	)
)

// RecordCircuitState sets the gauge to stateValue unchanged; callers
// pass a circuit.State converted to float64.
func RecordCircuitState(tenantID, configID string, stateValue float64) {
	CircuitBreakerState.WithLabelValues(tenantID, configID).Set(stateValue)
}

// Server exposes /metrics, /healthz, and /readyz over HTTP. Callers
// such as internal/app register additional diagnostic routes on the
// same router via Handle/HandleFunc before calling Start.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger

	readyMu sync.RWMutex
	ready   bool
}

// NewServer creates a metrics/health Server bound to addr. The caller
// calls SetReady(true) once startup has finished populating the
// scheduler and repositories.
func NewServer(addr string, logger *logrus.Logger) *Server {
	s := &Server{logger: logger}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		s.readyMu.RLock()
		ready := s.ready
		s.readyMu.RUnlock()
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	s.router = router
	s.httpServer = &http.Server{Addr: addr, Handler: router}
	return s
}

// HandleFunc registers an additional route on the server's router.
// Must be called before Start.
func (s *Server) HandleFunc(path string, f http.HandlerFunc) {
	s.router.HandleFunc(path, f)
}

// SetReady toggles the /readyz response.
func (s *Server) SetReady(ready bool) {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	s.ready = ready
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting metrics server")
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("metrics server error")
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	s.logger.Info("stopping metrics server")
	return s.httpServer.Close()
}

// RecordExecution records a completed execution's outcome and duration.
func RecordExecution(tenantID, protocol, status string, duration time.Duration) {
	ExecutionsTotal.WithLabelValues(tenantID, protocol, status).Inc()
	ExecutionDuration.WithLabelValues(tenantID, protocol).Observe(duration.Seconds())
}
