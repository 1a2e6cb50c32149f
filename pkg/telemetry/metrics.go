package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/saaskit/kitdeploy/pkg/engine"
)

// Metrics provides Prometheus metrics for kitdeploy. It implements
// engine.Recorder and provider.CallObserver. A disabled Metrics accepts
// every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Engine metrics
	reconciliations   *prometheus.CounterVec
	reconcileDuration *prometheus.HistogramVec
	pollTicks         *prometheus.CounterVec
	fatalErrors       *prometheus.CounterVec
	orphansDeleted    *prometheus.CounterVec

	// Remote client metrics
	remoteCalls        *prometheus.CounterVec
	remoteCallErrors   *prometheus.CounterVec
	remoteCallDuration *prometheus.HistogramVec

	// CLI metrics
	runs             *prometheus.CounterVec
	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	ns := cfg.Namespace
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	m := &Metrics{
		config:   cfg,
		registry: prometheus.NewRegistry(),

		reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "reconciliations_total",
			Help:      "Finished engine calls by kind, operation and outcome",
		}, []string{"kind", "operation", "outcome"}),
		reconcileDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of engine calls including convergence",
			Buckets:   buckets,
		}, []string{"kind", "operation"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "poll_ticks_total",
			Help:      "Convergence poll ticks by observed status",
		}, []string{"kind", "status"}),
		fatalErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fatal_errors_total",
			Help:      "Fatal engine errors by code",
		}, []string{"code"}),
		orphansDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "orphan_revisions_deleted_total",
			Help:      "Orphaned sub-resource revisions deleted",
		}, []string{"kind"}),

		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_calls_total",
			Help:      "Calls made to the remote resource API",
		}, []string{"kind", "method"}),
		remoteCallErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "remote_call_errors_total",
			Help:      "Failed calls to the remote resource API by error class",
		}, []string{"kind", "method", "class"}),
		remoteCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "remote_call_duration_seconds",
			Help:      "Latency of calls to the remote resource API",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "method"}),

		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "runs_total",
			Help:      "CLI command runs by final status",
		}, []string{"command", "status"}),
		policyViolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "policy_violations_total",
			Help:      "Policy violations found before deploys",
		}, []string{"policy", "severity"}),
	}

	m.registry.MustRegister(
		m.reconciliations,
		m.reconcileDuration,
		m.pollTicks,
		m.fatalErrors,
		m.orphansDeleted,
		m.remoteCalls,
		m.remoteCallErrors,
		m.remoteCallDuration,
		m.runs,
		m.policyViolations,
	)

	return m
}

// Enabled reports whether metrics are collected.
func (m *Metrics) Enabled() bool {
	return m.registry != nil
}

// Registry returns the metrics registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordReconciliation records one finished engine call.
func (m *Metrics) RecordReconciliation(kind string, op engine.OperationType, outcome string, d time.Duration) {
	if !m.Enabled() {
		return
	}
	m.reconciliations.WithLabelValues(kind, string(op), outcome).Inc()
	m.reconcileDuration.WithLabelValues(kind, string(op)).Observe(d.Seconds())
}

// RecordPoll records one convergence poll tick.
func (m *Metrics) RecordPoll(kind string, status engine.Status) {
	if !m.Enabled() {
		return
	}
	m.pollTicks.WithLabelValues(kind, string(status)).Inc()
}

// RecordFatal records a fatal engine error.
func (m *Metrics) RecordFatal(_, code string) {
	if !m.Enabled() {
		return
	}
	if code == "" {
		code = "UNKNOWN"
	}
	m.fatalErrors.WithLabelValues(code).Inc()
}

// RecordOrphansDeleted records deleted revisions.
func (m *Metrics) RecordOrphansDeleted(kind string, n int) {
	if !m.Enabled() || n <= 0 {
		return
	}
	m.orphansDeleted.WithLabelValues(kind).Add(float64(n))
}

// ObserveCall records one remote API call.
func (m *Metrics) ObserveCall(kind, method string, d time.Duration, err error) {
	if !m.Enabled() {
		return
	}
	m.remoteCalls.WithLabelValues(kind, method).Inc()
	m.remoteCallDuration.WithLabelValues(kind, method).Observe(d.Seconds())
	if err != nil {
		m.remoteCallErrors.WithLabelValues(kind, method, errorClass(err)).Inc()
	}
}

// RecordRun records a finished CLI command.
func (m *Metrics) RecordRun(command, status string) {
	if !m.Enabled() {
		return
	}
	m.runs.WithLabelValues(command, status).Inc()
}

// RecordPolicyViolation records one policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.Enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

func errorClass(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return string(ee.Class)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "unclassified"
}

func errorCode(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ""
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Serve exposes the metrics on ListenAddress until ctx is done. It
// returns once the listener is bound and reports the bound address.
func (m *Metrics) Serve(ctx context.Context, logger zerolog.Logger) (string, error) {
	if !m.Enabled() || m.config.ListenAddress == "" {
		return "", nil
	}

	ln, err := net.Listen("tcp", m.config.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", m.config.ListenAddress, err)
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	addr := ln.Addr().String()
	logger.Info().Str("addr", addr).Str("path", path).Msg("Serving metrics")
	return addr, nil
}
