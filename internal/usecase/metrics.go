package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	paymentOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_payment_operations_total",
			Help: "Total number of ledger and bill payment operations",
		},
		[]string{"operation", "status"},
	)

	paymentDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_payment_duration_seconds",
			Help:    "Duration of payment operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	recurringOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_recurring_outcomes_total",
			Help: "Recurring payment tick outcomes",
		},
		[]string{"outcome"},
	)

	gatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_gateway_calls_total",
			Help: "Calls made to the payment gateway and utility providers",
		},
		[]string{"call", "status"},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settlement_notifications_dropped_total",
			Help: "Notifications that could not be delivered to any sink",
		},
	)
)

func observe(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	paymentOperations.WithLabelValues(operation, status).Inc()
}
