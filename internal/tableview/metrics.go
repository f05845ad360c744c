package tableview

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the tableview subsystem. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsCreated prometheus.Counter
	ActionsTotal    *prometheus.CounterVec
	ModalOpensTotal *prometheus.CounterVec
}

// NewMetrics registers and returns tableview metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchdesk_sessions_active",
			Help: "Live table sessions.",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "watchdesk_sessions_created_total",
			Help: "Total table sessions created.",
		}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_table_actions_total",
			Help: "Total table operations by action and result.",
		}, []string{"action", "result"}),
		ModalOpensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdesk_modal_opens_total",
			Help: "Total modal opens by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.ActionsTotal,
		m.ModalOpensTotal,
	)

	return m
}

func (m *Metrics) incSessions() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
	m.SessionsCreated.Inc()
}

func (m *Metrics) decSessions() {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
}

func (m *Metrics) incAction(action, result string) {
	if m == nil {
		return
	}
	m.ActionsTotal.WithLabelValues(action, result).Inc()
}

func (m *Metrics) incModal(kind ModalKind) {
	if m == nil {
		return
	}
	m.ModalOpensTotal.WithLabelValues(string(kind)).Inc()
}
