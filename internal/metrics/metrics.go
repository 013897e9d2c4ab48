// Package metrics exports dispatch and conversation metrics to Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "beastmode"

const readHeaderTimeout = 10 * time.Second

// Metrics implements dispatch.Observer and engine.Observer.
type Metrics struct {
	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	dispatchAttempts *prometheus.HistogramVec
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		dispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Total number of dispatches by workflow and outcome",
			},
			[]string{"workflow", "outcome"}, // ok, confirm, invalid, denied, failed, cancelled
		),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of dispatches including retries in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"workflow"},
		),
		dispatchAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_attempts",
				Help:      "Trigger attempts per dispatch",
				Buckets:   []float64{1, 2, 3, 5, 10},
			},
			[]string{"workflow"},
		),
		turnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "turns_total",
				Help:      "Total number of conversation turns by route",
			},
			[]string{"route"}, // empty, abort, confirm, flow, match, fallback
		),
		turnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "turn_duration_seconds",
				Help:      "Duration of conversation turns in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
	reg.MustRegister(m.dispatchTotal, m.dispatchDuration, m.dispatchAttempts, m.turnsTotal, m.turnDuration)
	return m
}

// ObserveDispatch records one finished dispatch.
func (m *Metrics) ObserveDispatch(workflowID, outcome string, attempts int, elapsed time.Duration) {
	m.dispatchTotal.WithLabelValues(workflowID, outcome).Inc()
	m.dispatchDuration.WithLabelValues(workflowID).Observe(elapsed.Seconds())
	if attempts > 0 {
		m.dispatchAttempts.WithLabelValues(workflowID).Observe(float64(attempts))
	}
}

// ObserveTurn records one finished turn.
func (m *Metrics) ObserveTurn(route string, elapsed time.Duration) {
	m.turnsTotal.WithLabelValues(route).Inc()
	m.turnDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// RegisterGauge registers a gauge read from fn at scrape time, e.g. the
// number of live sessions or installed rules.
func RegisterGauge(reg prometheus.Registerer, name, help string, fn func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(fn()) },
	))
}

// NewRegistry returns a registry with the Go runtime and process
// collectors installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves /metrics and /health.
func Handler(g prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// Serve exposes g on addr until ctx ends.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(g),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	slog.Info("metrics listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
