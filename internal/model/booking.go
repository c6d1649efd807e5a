package model

import (
	"errors"
	"time"
)

// BookingStatus is the approval axis of a booking.
type BookingStatus string

const (
	StatusPending   BookingStatus = "PENDING"
	StatusApproved  BookingStatus = "APPROVED"
	StatusRejected  BookingStatus = "REJECTED"
	StatusCancelled BookingStatus = "CANCELLED"
)

// Terminal reports whether no transition leaves s.
func (s BookingStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

func (s BookingStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the payment axis of a booking. It advances independently
// of BookingStatus.
type PaymentStatus string

const (
	PaymentUnpaid      PaymentStatus = "UNPAID"
	PaymentDepositPaid PaymentStatus = "DEPOSIT_PAID"
	PaymentPaidInFull  PaymentStatus = "PAID_IN_FULL"
	PaymentRefunded    PaymentStatus = "REFUNDED"
)

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentUnpaid, PaymentDepositPaid, PaymentPaidInFull, PaymentRefunded:
		return true
	}
	return false
}

// Paid reports whether money has been collected and not yet returned.
func (p PaymentStatus) Paid() bool {
	return p == PaymentDepositPaid || p == PaymentPaidInFull
}

// Rank orders the forward payment states; Refunded sits outside the order.
func (p PaymentStatus) Rank() int {
	switch p {
	case PaymentUnpaid:
		return 0
	case PaymentDepositPaid:
		return 1
	case PaymentPaidInFull:
		return 2
	}
	return -1
}

// Booking records a traveler's request for a tour. The owner is the user who
// created it; moderators and admins only ever transition its status.
//
// Invariants:
//   - ApprovedAt != nil iff Status == APPROVED
//   - DepositPaidAt != nil iff PaymentStatus is DEPOSIT_PAID or PAID_IN_FULL
//   - UpdatedAt >= CreatedAt
type Booking struct {
	ID                string
	OwnerID           string
	TourID            string
	Status            BookingStatus
	PaymentStatus     PaymentStatus
	Travelers         int
	TotalAmountCents  int64
	Currency          string
	SelectedDate      *time.Time
	RejectionReason   *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DepositPaidAt     *time.Time
	ApprovedAt        *time.Time
	RefundRequestedAt *time.Time
	RefundedAt        *time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing stored
// state.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.SelectedDate = cloneTime(b.SelectedDate)
	c.DepositPaidAt = cloneTime(b.DepositPaidAt)
	c.ApprovedAt = cloneTime(b.ApprovedAt)
	c.RefundRequestedAt = cloneTime(b.RefundRequestedAt)
	c.RefundedAt = cloneTime(b.RefundedAt)
	if b.RejectionReason != nil {
		r := *b.RejectionReason
		c.RejectionReason = &r
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CheckInvariants returns an error describing the first violated invariant.
func (b *Booking) CheckInvariants() error {
	if !b.Status.Valid() {
		return errors.New("unknown booking status")
	}
	if !b.PaymentStatus.Valid() {
		return errors.New("unknown payment status")
	}
	if b.Travelers < 1 {
		return errors.New("travelers must be at least 1")
	}
	if (b.ApprovedAt != nil) != (b.Status == StatusApproved) {
		return errors.New("approvedAt must be set iff status is APPROVED")
	}
	if (b.DepositPaidAt != nil) != b.PaymentStatus.Paid() {
		return errors.New("depositPaidAt must be set iff a payment is held")
	}
	if b.UpdatedAt.Before(b.CreatedAt) {
		return errors.New("updatedAt precedes createdAt")
	}
	return nil
}
