package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkflowRuns counts finished runs by terminal status.
	WorkflowRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_workflow_runs_total",
			Help: "Total workflow runs by terminal status",
		},
		[]string{"status"},
	)

	// TriggerFires counts trigger matches by trigger type.
	TriggerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_trigger_fires_total",
			Help: "Total trigger fires by trigger type",
		},
		[]string{"type"},
	)

	// TriggerErrors counts per-workflow evaluation failures (isolated, never fatal).
	TriggerErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowbot_trigger_errors_total",
			Help: "Total trigger evaluation errors",
		},
	)

	// MessagesDelivered counts scheduled message deliveries by kind.
	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowbot_messages_delivered_total",
			Help: "Total scheduled messages delivered",
		},
		[]string{"kind"}, // one_shot | recurring
	)

	// NotifyFailures counts notification delivery failures (non-fatal).
	NotifyFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowbot_notify_failures_total",
			Help: "Total notification delivery failures",
		},
	)

	// TickDuration observes the wall-clock time of one scheduler tick.
	TickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowbot_tick_duration_seconds",
			Help:    "Duration of one scheduler evaluation pass",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"scheduler"}, // workflows | messages
	)
)

// Pinger is the health probe into the persistence layer.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes /metrics and /healthz. A store that cannot be reached turns
// the health endpoint red rather than silently corrupting in-memory state.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates the metrics/health HTTP server.
func NewServer(addr string, pinger Pinger, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pinger.Ping(ctx); err != nil {
			http.Error(w, "store unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv:    &http.Server{Addr: addr, Handler: mux},
		logger: logger,
	}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("metrics server listening", slog.String("addr", s.srv.Addr))
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
