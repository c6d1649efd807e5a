package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "travel_booking"

var (
	once sync.Once

	gateDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gate_decisions_total",
			Help:      "Decisions taken by the request gates (ratelimit, csrf, rbac, lockout).",
		},
		[]string{"gate", "outcome"},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transitions_total",
			Help:      "Booking state machine transitions by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	lockoutsTriggered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lockouts_triggered_total",
			Help:      "Failed logins that resulted in a lock being applied.",
		},
	)

	auditFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_write_failures_total",
			Help:      "Audit entries that could not be written to the durable sink.",
		},
	)
)

// Register registers metrics with the default registry (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(gateDecisions, bookingTransitions, lockoutsTriggered, auditFailures)
	})
}

func IncGate(gate, outcome string) {
	gateDecisions.WithLabelValues(gate, outcome).Inc()
}

func IncTransition(action, outcome string) {
	bookingTransitions.WithLabelValues(action, outcome).Inc()
}

func IncLockout() { lockoutsTriggered.Inc() }

func IncAuditFailure() { auditFailures.Inc() }
