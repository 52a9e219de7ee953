// Package telemetry wires metrics and tracing for the batch pipelines:
// Prometheus counters pushed after each run, and OTLP trace/metric exporters
// for environments with a collector.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/adrianthees/mlfs-book/internal/config"
	"github.com/adrianthees/mlfs-book/internal/support/exception"
	"github.com/adrianthees/mlfs-book/internal/support/logger"
)

const moduleName = "telemetry"

// Recorder collects run metrics and pushes them to a Pushgateway when one is
// configured. Batch processes are too short lived to be scraped.
type Recorder struct {
	registry *prometheus.Registry
	cfg      config.MetricsConfig

	runDuration *prometheus.HistogramVec
	runTotal    *prometheus.CounterVec
	rowsWritten *prometheus.CounterVec
	apiCalls    *prometheus.CounterVec
}

// NewRecorder builds and registers the pipeline metrics.
func NewRecorder(cfg config.MetricsConfig) *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		cfg:      cfg,
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mlfs",
			Name:      "pipeline_run_duration_seconds",
			Help:      "Wall clock duration of one pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"job"}),
		runTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlfs",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline runs by job and outcome.",
		}, []string{"job", "status"}),
		rowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlfs",
			Name:      "feature_rows_written_total",
			Help:      "Rows upserted into feature groups.",
		}, []string{"group"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mlfs",
			Name:      "external_api_requests_total",
			Help:      "Requests to external APIs by provider and outcome.",
		}, []string{"provider", "status"}),
	}

	registry.MustRegister(r.runDuration, r.runTotal, r.rowsWritten, r.apiCalls)
	return r
}

// ObserveRun records one finished run.
func (r *Recorder) ObserveRun(job string, seconds float64, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	r.runDuration.WithLabelValues(job).Observe(seconds)
	r.runTotal.WithLabelValues(job, status).Inc()
}

// CountRows records rows written to a feature group.
func (r *Recorder) CountRows(group string, n int) {
	if n > 0 {
		r.rowsWritten.WithLabelValues(group).Add(float64(n))
	}
}

// CountAPICall records one external API call outcome.
func (r *Recorder) CountAPICall(provider string, failed bool) {
	status := "success"
	if failed {
		status = "failure"
	}
	r.apiCalls.WithLabelValues(provider, status).Inc()
}

// Push sends the collected metrics to the configured Pushgateway. With no
// gateway configured it is a no-op.
func (r *Recorder) Push(job string) error {
	if r.cfg.PushGatewayURL == "" {
		return nil
	}
	err := push.New(r.cfg.PushGatewayURL, r.cfg.JobName).
		Grouping("pipeline", job).
		Gatherer(r.registry).
		Push()
	if err != nil {
		return exception.NewPipelineError(moduleName, "failed to push metrics", err, true, true)
	}
	logger.Debugf("pushed metrics for job '%s' to %s", job, r.cfg.PushGatewayURL)
	return nil
}
