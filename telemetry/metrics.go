// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollsTotal       prometheus.Counter
	MessagesScanned  prometheus.Counter
	MatchesDelivered prometheus.Counter
	FetchErrors      *prometheus.CounterVec // label: class
	SinkFailures     *prometheus.CounterVec // label: sink

	// Histograms (seconds)
	FetchDuration prometheus.Observer

	// Gauges
	PollIntervalGauge prometheus.Gauge
	EngineStateGauge  prometheus.Gauge // 0=init,1=polling,2=degraded,3=stopped
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollsTotal = promauto.NewCounter(prometheus.CounterOpts{Name: "codewatch_polls_total", Help: "Number of successful chat page fetches"})
		MessagesScanned = promauto.NewCounter(prometheus.CounterOpts{Name: "codewatch_messages_scanned_total", Help: "Number of chat messages run through the extractor"})
		MatchesDelivered = promauto.NewCounter(prometheus.CounterOpts{Name: "codewatch_matches_total", Help: "Number of extracted tokens handed to the sink"})
		FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "codewatch_fetch_errors_total", Help: "Number of failed chat page fetches by error class"}, []string{"class"})
		SinkFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "codewatch_sink_failures_total", Help: "Number of sink deliveries that failed or panicked"}, []string{"sink"})
		FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "codewatch_fetch_duration_seconds", Help: "Chat page fetch latency seconds", Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}})
		PollIntervalGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "codewatch_poll_interval_seconds", Help: "Wait applied before the next fetch"})
		EngineStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "codewatch_engine_state", Help: "Polling engine state: 0=init 1=polling 2=degraded 3=stopped"})
	})
}

// SetPollInterval records the wait chosen before the next fetch.
func SetPollInterval(d time.Duration) {
	if PollIntervalGauge != nil {
		PollIntervalGauge.Set(d.Seconds())
	}
}

// SetEngineState records the numeric engine state.
func SetEngineState(n int) {
	if EngineStateGauge != nil {
		EngineStateGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns base (or the default logger) with a corr attribute if present.
func LoggerWithCorr(ctx context.Context, base ...*slog.Logger) *slog.Logger {
	l := slog.Default()
	if len(base) > 0 && base[0] != nil {
		l = base[0]
	}
	if id := GetCorrelation(ctx); id != "" {
		return l.With(slog.String("corr", id))
	}
	return l
}
