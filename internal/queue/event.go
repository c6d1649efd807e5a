// Package queue carries booking events over the message broker: refund
// obligations to the payment worker and audit entries to external
// reporting.
package queue

import (
	"time"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/booking"
)

const (
	RefundQueueName = "booking.refund_requested"
	AuditQueueName  = "audit.events"
	AuditTopicName  = "audit.events"
)

// RefundRequestedEvent is published once a cancelled or rejected booking
// holds money. Consumers must tolerate duplicates.
type RefundRequestedEvent struct {
	BookingID     string    `json:"booking_id"`
	OwnerID       string    `json:"owner_id"`
	PaymentStatus string    `json:"payment_status"`
	AmountCents   int64     `json:"amount_cents"`
	Currency      string    `json:"currency"`
	RequestedBy   string    `json:"requested_by"`
	RequestedAt   time.Time `json:"requested_at"`
}

func newRefundEvent(r booking.RefundRequest) RefundRequestedEvent {
	return RefundRequestedEvent{
		BookingID:     r.BookingID,
		OwnerID:       r.OwnerID,
		PaymentStatus: string(r.PaymentStatus),
		AmountCents:   r.AmountCents,
		Currency:      r.Currency,
		RequestedBy:   r.RequestedBy,
		RequestedAt:   r.RequestedAt,
	}
}

// AuditEvent mirrors audit.Entry on the wire.
type AuditEvent struct {
	Seq       uint64            `json:"seq"`
	Actor     string            `json:"actor"`
	Action    string            `json:"action"`
	Target    string            `json:"target,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Outcome   string            `json:"outcome"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

func newAuditEvent(e audit.Entry) AuditEvent {
	return AuditEvent{
		Seq:       e.Seq,
		Actor:     e.Actor,
		Action:    string(e.Action),
		Target:    e.Target,
		Timestamp: e.Timestamp,
		Outcome:   string(e.Outcome),
		Metadata:  e.Metadata,
	}
}
