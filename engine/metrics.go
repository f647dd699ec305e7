package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the engine's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	TipsLogged         prometheus.Counter
	PeriodsStarted     prometheus.Counter
	PeriodsClosed      *prometheus.CounterVec
	PayoutsSettled     prometheus.Counter
	PayoutAmount       prometheus.Counter
	SettlementFailures prometheus.Counter
	AutoCloseTimers    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in main and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TipsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "logged_total",
			Help:      "Tip entries added to a period.",
		}),
		PeriodsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "periods_started_total",
			Help:      "Periods opened, explicitly or implicitly.",
		}),
		PeriodsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "periods_closed_total",
			Help:      "Periods closed, by trigger.",
		}, []string{"trigger"}),
		PayoutsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "payouts_settled_total",
			Help:      "Payouts committed to the store.",
		}),
		PayoutAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "payout_amount_total",
			Help:      "Sum of actual amounts disbursed.",
		}),
		SettlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tips",
			Name:      "settlement_failures_total",
			Help:      "Settlements whose commit failed and were kept pending.",
		}),
		AutoCloseTimers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tips",
			Name:      "autoclose_timers",
			Help:      "Armed auto-close timers.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.TipsLogged, m.PeriodsStarted, m.PeriodsClosed,
			m.PayoutsSettled, m.PayoutAmount, m.SettlementFailures,
			m.AutoCloseTimers,
		)
	}
	return m
}

func (m *Metrics) tipLogged() {
	if m != nil {
		m.TipsLogged.Inc()
	}
}

func (m *Metrics) periodStarted() {
	if m != nil {
		m.PeriodsStarted.Inc()
	}
}

func (m *Metrics) periodClosed(trigger string) {
	if m != nil {
		m.PeriodsClosed.WithLabelValues(trigger).Inc()
	}
}

func (m *Metrics) payoutSettled(actual float64) {
	if m != nil {
		m.PayoutsSettled.Inc()
		m.PayoutAmount.Add(actual)
	}
}

func (m *Metrics) settlementFailed() {
	if m != nil {
		m.SettlementFailures.Inc()
	}
}

func (m *Metrics) timers(n int) {
	if m != nil {
		m.AutoCloseTimers.Set(float64(n))
	}
}
