package booking

import (
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
)

// Event names a requested transition.
type Event string

const (
	EventApprove     Event = "approve"
	EventReject      Event = "reject"
	EventCancel      Event = "cancel"
	EventDeposit     Event = "record_deposit"
	EventFullPayment Event = "record_full_payment"
	EventRefund      Event = "mark_refunded"
)

// Effect describes what Apply did.
type Effect struct {
	// Changed is false when the booking was already in the target state.
	Changed bool
	// RefundRequested is set when the transition created a refund obligation.
	RefundRequested bool
}

// Apply performs ev on b in place. It is total: every (status, payment,
// event) combination either mutates b, reports an idempotent no-op, or
// returns InvalidStateTransition leaving b untouched.
func Apply(b *model.Booking, ev Event, now time.Time, reason string) (Effect, error) {
	switch ev {
	case EventApprove:
		return approve(b, now)
	case EventReject:
		return reject(b, now, reason)
	case EventCancel:
		return cancel(b, now)
	case EventDeposit:
		return pay(b, now, model.PaymentDepositPaid)
	case EventFullPayment:
		return pay(b, now, model.PaymentPaidInFull)
	case EventRefund:
		return refund(b, now)
	}
	return Effect{}, apperr.InvalidStateTransition("unknown event %q", ev)
}

func touch(b *model.Booking, now time.Time) {
	if now.After(b.UpdatedAt) {
		b.UpdatedAt = now
	}
}

func at(now time.Time) *time.Time { return &now }

func requestRefund(b *model.Booking, now time.Time) bool {
	if !b.PaymentStatus.Paid() || b.RefundRequestedAt != nil {
		return false
	}
	b.RefundRequestedAt = at(now)
	return true
}

func approve(b *model.Booking, now time.Time) (Effect, error) {
	switch b.Status {
	case model.StatusApproved:
		return Effect{}, nil
	case model.StatusPending:
		b.Status = model.StatusApproved
		b.ApprovedAt = at(now)
		touch(b, now)
		return Effect{Changed: true}, nil
	}
	return Effect{}, apperr.InvalidStateTransition("cannot approve a %s booking", b.Status)
}

func reject(b *model.Booking, now time.Time, reason string) (Effect, error) {
	switch b.Status {
	case model.StatusRejected:
		return Effect{}, nil
	case model.StatusPending:
		b.Status = model.StatusRejected
		if reason != "" {
			b.RejectionReason = &reason
		}
		eff := Effect{Changed: true, RefundRequested: requestRefund(b, now)}
		touch(b, now)
		return eff, nil
	}
	return Effect{}, apperr.InvalidStateTransition("cannot reject a %s booking", b.Status)
}

func cancel(b *model.Booking, now time.Time) (Effect, error) {
	switch b.Status {
	case model.StatusCancelled:
		return Effect{}, nil
	case model.StatusPending, model.StatusApproved:
		b.Status = model.StatusCancelled
		b.ApprovedAt = nil
		eff := Effect{Changed: true, RefundRequested: requestRefund(b, now)}
		touch(b, now)
		return eff, nil
	}
	return Effect{}, apperr.InvalidStateTransition("cannot cancel a %s booking", b.Status)
}

// pay moves the payment axis forward to target. A confirmation for a state
// already reached (or passed) is a no-op so duplicated or reordered webhooks
// are harmless.
func pay(b *model.Booking, now time.Time, target model.PaymentStatus) (Effect, error) {
	if b.PaymentStatus == model.PaymentRefunded {
		return Effect{}, apperr.InvalidStateTransition("booking was refunded")
	}
	if b.PaymentStatus.Rank() >= target.Rank() {
		return Effect{}, nil
	}
	if b.Status.Terminal() {
		return Effect{}, apperr.InvalidStateTransition("cannot take payment on a %s booking", b.Status)
	}
	if b.DepositPaidAt == nil {
		b.DepositPaidAt = at(now)
	}
	b.PaymentStatus = target
	touch(b, now)
	return Effect{Changed: true}, nil
}

func refund(b *model.Booking, now time.Time) (Effect, error) {
	if b.PaymentStatus == model.PaymentRefunded {
		return Effect{}, nil
	}
	if !b.Status.Terminal() {
		return Effect{}, apperr.InvalidStateTransition("cannot refund a %s booking", b.Status)
	}
	if !b.PaymentStatus.Paid() {
		return Effect{}, apperr.InvalidStateTransition("nothing to refund on a %s booking", b.PaymentStatus)
	}
	b.PaymentStatus = model.PaymentRefunded
	b.DepositPaidAt = nil
	b.RefundedAt = at(now)
	if b.RefundRequestedAt == nil {
		b.RefundRequestedAt = at(now)
	}
	touch(b, now)
	return Effect{Changed: true}, nil
}
