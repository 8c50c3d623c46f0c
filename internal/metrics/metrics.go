package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the sync core reports to. Noop satisfies it when metrics
// are not wanted.
type Recorder interface {
	IncToggles(kind, action, result string)
	ObserveCommitDuration(kind string, d time.Duration)
	IncPageFetches(source string)
	IncProvisionAttempts(outcome string)
	IncSubscriptions()
	DecSubscriptions()
}

type Metrics struct {
	toggles           *prometheus.CounterVec
	commitDuration    *prometheus.HistogramVec
	pageFetches       *prometheus.CounterVec
	provisionAttempts *prometheus.CounterVec
	subscriptions     prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers the collectors on reg. Passing a fresh prometheus.Registry
// keeps tests isolated from the default registry.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		toggles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_toggles_total",
			Help: "Membership toggles by kind, action and result",
		}, []string{"kind", "action", "result"}),

		commitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedsync_toggle_commit_duration_seconds",
			Help:    "Duration of toggle commits in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),

		pageFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_page_fetches_total",
			Help: "Feed pages fetched, by source (live or static)",
		}, []string{"source"}),

		provisionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "feedsync_provision_attempts_total",
			Help: "Username allocation attempts by outcome",
		}, []string{"outcome"}),

		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "feedsync_active_subscriptions",
			Help: "Live query subscriptions currently open",
		}),

		gatherer: reg,
	}
}

func (m *Metrics) IncToggles(kind, action, result string) {
	m.toggles.WithLabelValues(kind, action, result).Inc()
}

func (m *Metrics) ObserveCommitDuration(kind string, d time.Duration) {
	m.commitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) IncPageFetches(source string) {
	m.pageFetches.WithLabelValues(source).Inc()
}

func (m *Metrics) IncProvisionAttempts(outcome string) {
	m.provisionAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncSubscriptions() { m.subscriptions.Inc() }
func (m *Metrics) DecSubscriptions() { m.subscriptions.Dec() }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Noop discards everything.
type Noop struct{}

func (Noop) IncToggles(_, _, _ string)                       {}
func (Noop) ObserveCommitDuration(_ string, _ time.Duration) {}
func (Noop) IncPageFetches(_ string)                         {}
func (Noop) IncProvisionAttempts(_ string)                   {}
func (Noop) IncSubscriptions()                               {}
func (Noop) DecSubscriptions()                               {}

// OrNoop returns r, or Noop when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return Noop{}
	}
	return r
}
