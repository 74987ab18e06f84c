package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LedgerMetrics holds all Prometheus metrics for the rental ledger.
// A nil *LedgerMetrics is valid and records nothing.
type LedgerMetrics struct {
	OperationsTotal      *prometheus.CounterVec
	TransfersTotal       *prometheus.CounterVec
	TransferredAmount    *prometheus.CounterVec
	OutboxPublishedTotal prometheus.Counter
	OutboxFailuresTotal  prometheus.Counter
	OverdueRentals       prometheus.Gauge
}

// NewLedgerMetrics initializes the metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	factory := promauto.With(reg)
	return &LedgerMetrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by outcome.",
		}, []string{"operation", "outcome"}), // outcome: ok or an error kind
		TransfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "transfers_total",
			Help:      "Total number of outgoing transfers by kind and outcome.",
		}, []string{"kind", "outcome"}),
		TransferredAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "transferred_amount_total",
			Help:      "Sum of successfully transferred amounts in minor units.",
		}, []string{"kind"}),
		OutboxPublishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "outbox_published_total",
			Help:      "Total number of ledger events published to the broker.",
		}),
		OutboxFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "outbox_failures_total",
			Help:      "Total number of failed ledger event publish attempts.",
		}),
		OverdueRentals: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rental",
			Subsystem: "ledger",
			Name:      "overdue_rentals",
			Help:      "Number of active rentals past their due date at the last sweep.",
		}),
	}
}

func (m *LedgerMetrics) ObserveOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func (m *LedgerMetrics) ObserveTransfer(kind string, amount int64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.TransfersTotal.WithLabelValues(kind, "error").Inc()
		return
	}
	m.TransfersTotal.WithLabelValues(kind, "ok").Inc()
	m.TransferredAmount.WithLabelValues(kind).Add(float64(amount))
}

func (m *LedgerMetrics) ObserveOutbox(published bool) {
	if m == nil {
		return
	}
	if published {
		m.OutboxPublishedTotal.Inc()
		return
	}
	m.OutboxFailuresTotal.Inc()
}

func (m *LedgerMetrics) SetOverdue(count int) {
	if m == nil {
		return
	}
	m.OverdueRentals.Set(float64(count))
}
