// Package metrics exposes dispatcher counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "remotebot"

// Collector aggregates the dispatcher's counters, gauges and histograms.
type Collector struct {
	Intents        *prometheus.CounterVec
	Denied         prometheus.Counter
	RateLimited    prometheus.Counter
	ProviderCalls  *prometheus.CounterVec
	ProviderTiming *prometheus.HistogramVec
	Pending        prometheus.Gauge

	gatherer  prometheus.Gatherer
	startTime time.Time
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in
// tests so runs stay isolated.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		Intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "intents_total",
			Help:      "Inbound intents by kind.",
		}, []string{"kind"}),
		Denied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "denied_total",
			Help:      "Intents rejected by the authorization guard.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Intents rejected by the per-caller rate limiter.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Capability provider invocations by action and outcome.",
		}, []string{"action", "outcome"}),
		ProviderTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Capability provider call latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"action"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_confirmations",
			Help:      "Critical actions currently awaiting confirmation.",
		}),
		gatherer:  reg,
		startTime: time.Now(),
	}
	reg.MustRegister(c.Intents, c.Denied, c.RateLimited, c.ProviderCalls, c.ProviderTiming, c.Pending)
	return c
}

// ObserveProvider records one provider call.
func (c *Collector) ObserveProvider(action string, err error, took time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.ProviderCalls.WithLabelValues(action, outcome).Inc()
	c.ProviderTiming.WithLabelValues(action).Observe(took.Seconds())
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

// Handler serves /metrics and /healthz.
func (c *Collector) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok uptime=" + c.Uptime().Truncate(time.Second).String() + "\n"))
	})
	return r
}
