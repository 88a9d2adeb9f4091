package item

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the item subsystem.
type Metrics struct {
	ItemsCreated  *prometheus.CounterVec
	ResolvesTotal *prometheus.CounterVec
	ListReturned  prometheus.Histogram
	SweepsTotal   *prometheus.CounterVec
	ItemsPurged   prometheus.Counter
	PurgeFailures prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewMetrics registers and returns item metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ItemsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemdesk_items_created_total",
			Help: "Total items created by category.",
		}, []string{"category"}),
		ResolvesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemdesk_resolves_total",
			Help: "Total resolve attempts by outcome.",
		}, []string{"outcome"}),
		ListReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itemdesk_list_open_returned",
			Help:    "Open items returned per list call.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}),
		SweepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "itemdesk_sweeps_total",
			Help: "Total retention sweep passes by outcome.",
		}, []string{"outcome"}),
		ItemsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itemdesk_items_purged_total",
			Help: "Total resolved items permanently deleted by the sweeper.",
		}),
		PurgeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "itemdesk_purge_failures_total",
			Help: "Total per-item delete failures during sweeps.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "itemdesk_sweep_duration_seconds",
			Help:    "Duration of retention sweep passes in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
	}

	reg.MustRegister(
		m.ItemsCreated,
		m.ResolvesTotal,
		m.ListReturned,
		m.SweepsTotal,
		m.ItemsPurged,
		m.PurgeFailures,
		m.SweepDuration,
	)

	return m
}

// Hooks returns Hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnList: func(returned int) {
			m.ListReturned.Observe(float64(returned))
		},
		OnCreate: func(category Category) {
			m.ItemsCreated.WithLabelValues(string(category)).Inc()
		},
		OnResolve: func(outcome string) {
			m.ResolvesTotal.WithLabelValues(outcome).Inc()
		},
		OnSweep: func(e *SweepEvent) {
			switch {
			case e.Skipped:
				m.SweepsTotal.WithLabelValues("skipped").Inc()
				return
			case e.Err != nil:
				m.SweepsTotal.WithLabelValues("error").Inc()
			default:
				m.SweepsTotal.WithLabelValues("ok").Inc()
			}
			m.ItemsPurged.Add(float64(e.Purged))
			m.PurgeFailures.Add(float64(e.Failed))
			m.SweepDuration.Observe(e.Duration)
		},
	}
}
