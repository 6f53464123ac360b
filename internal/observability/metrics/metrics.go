package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes counters for the notification pipeline. Label cardinality
// is bounded: payment types and outcomes are closed enums.
type Metrics struct {
	NotificationsTotal *prometheus.CounterVec
	RenewalsTotal      *prometheus.CounterVec
	AutoRenewToggles   *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		NotificationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "notifications_total",
			Help:      "Gateway notifications processed, by payment type and outcome.",
		}, []string{"payment_type", "outcome"}),
		RenewalsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "subscription_renewals_total",
			Help:      "Subscription renewal transitions applied, by result.",
		}, []string{"result"}),
		AutoRenewToggles: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "auto_renew_toggles_total",
			Help:      "Auto-renewal cancel/reactivate operations, by operation and result.",
		}, []string{"operation", "result"}),
	}
}

func (m *Metrics) RecordNotification(paymentType, outcome string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(paymentType, outcome).Inc()
}

func (m *Metrics) RecordRenewal(result string) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordAutoRenewToggle(operation, result string) {
	if m == nil {
		return
	}
	m.AutoRenewToggles.WithLabelValues(operation, result).Inc()
}
