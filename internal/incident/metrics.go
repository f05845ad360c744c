package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the incident subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ListsTotal   *prometheus.CounterVec
	MergesTotal  *prometheus.CounterVec
	MergeSize    prometheus.Histogram
	DeletesTotal *prometheus.CounterVec
	ReportsTotal *prometheus.CounterVec
}

// NewMetrics registers and returns incident metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ListsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_incident_lists_total",
			Help: "Total page fetches by result.",
		}, []string{"result"}),
		MergesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_incident_merges_total",
			Help: "Total merge operations by result.",
		}, []string{"result"}),
		MergeSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchdesk_incident_merge_sources",
			Help:    "Source incidents per merge.",
			Buckets: prometheus.LinearBuckets(2, 1, 9), // 2 .. 10
		}),
		DeletesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_incident_deletes_total",
			Help: "Total bulk delete operations by result.",
		}, []string{"result"}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_incident_reports_total",
			Help: "Total report builds by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ListsTotal,
		m.MergesTotal,
		m.MergeSize,
		m.DeletesTotal,
		m.ReportsTotal,
	)

	return m
}

func (m *Metrics) incList(result string) {
	if m == nil {
		return
	}
	m.ListsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incMerge(result string) {
	if m == nil {
		return
	}
	m.MergesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeMergeSize(n int) {
	if m == nil {
		return
	}
	m.MergeSize.Observe(float64(n))
}

func (m *Metrics) incDelete(result string) {
	if m == nil {
		return
	}
	m.DeletesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) incReport(result string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(result).Inc()
}
