package booking

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

var (
	allStatuses = []model.BookingStatus{model.StatusPending, model.StatusApproved, model.StatusRejected, model.StatusCancelled}
	allPayments = []model.PaymentStatus{model.PaymentUnpaid, model.PaymentDepositPaid, model.PaymentPaidInFull, model.PaymentRefunded}
	allEvents   = []Event{EventApprove, EventReject, EventCancel, EventDeposit, EventFullPayment, EventRefund}
)

// fixture builds a booking in the given state that satisfies every invariant.
func fixture(st model.BookingStatus, ps model.PaymentStatus) *model.Booking {
	b := &model.Booking{
		ID: "b-1", OwnerID: "7", TourID: "tour-1",
		Status: st, PaymentStatus: ps, Travelers: 2,
		TotalAmountCents: 120000, Currency: "EUR",
		CreatedAt: t0, UpdatedAt: t0,
	}
	if st == model.StatusApproved {
		b.ApprovedAt = at(t0)
	}
	if ps.Paid() {
		b.DepositPaidAt = at(t0)
	}
	if ps == model.PaymentRefunded {
		b.RefundedAt = at(t0)
	}
	return b
}

func TestApply_TotalAndInvariantPreserving(t *testing.T) {
	now := t0.Add(time.Hour)
	for _, st := range allStatuses {
		for _, ps := range allPayments {
			for _, ev := range allEvents {
				t.Run(fmt.Sprintf("%s/%s/%s", st, ps, ev), func(t *testing.T) {
					b := fixture(st, ps)
					before := b.Clone()

					eff, err := Apply(b, ev, now, "reason")
					if err != nil {
						require.True(t, apperr.Is(err, apperr.KindInvalidStateTransition), "got %v", err)
						require.Equal(t, before, b, "failed transition must not mutate")
						return
					}
					require.NoError(t, b.CheckInvariants())
					if !eff.Changed {
						require.Equal(t, before, b, "no-op must not touch timestamps")
					} else {
						require.Equal(t, now, b.UpdatedAt)
					}
				})
			}
		}
	}
}

func TestApply_StatusTransitions(t *testing.T) {
	cases := []struct {
		from    model.BookingStatus
		ev      Event
		to      model.BookingStatus
		wantErr bool
	}{
		{model.StatusPending, EventApprove, model.StatusApproved, false},
		{model.StatusPending, EventReject, model.StatusRejected, false},
		{model.StatusPending, EventCancel, model.StatusCancelled, false},
		{model.StatusApproved, EventCancel, model.StatusCancelled, false},
		{model.StatusApproved, EventReject, "", true},
		{model.StatusRejected, EventApprove, "", true},
		{model.StatusRejected, EventCancel, "", true},
		{model.StatusCancelled, EventApprove, "", true},
		{model.StatusCancelled, EventReject, "", true},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"-"+string(tc.ev), func(t *testing.T) {
			b := fixture(tc.from, model.PaymentUnpaid)
			_, err := Apply(b, tc.ev, t0.Add(time.Minute), "")
			if tc.wantErr {
				require.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
				require.Equal(t, tc.from, b.Status)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.to, b.Status)
		})
	}
}

func TestApply_ApproveTwiceKeepsFirstTimestamp(t *testing.T) {
	b := fixture(model.StatusPending, model.PaymentUnpaid)
	t1 := t0.Add(time.Minute)
	eff, err := Apply(b, EventApprove, t1, "")
	require.NoError(t, err)
	require.True(t, eff.Changed)

	eff, err = Apply(b, EventApprove, t1.Add(time.Hour), "")
	require.NoError(t, err)
	require.False(t, eff.Changed)
	require.Equal(t, t1, *b.ApprovedAt)
	require.Equal(t, t1, b.UpdatedAt)
}

func TestApply_PaymentOnlyMovesForward(t *testing.T) {
	b := fixture(model.StatusPending, model.PaymentUnpaid)
	t1 := t0.Add(time.Minute)

	_, err := Apply(b, EventFullPayment, t1, "")
	require.NoError(t, err)
	require.Equal(t, model.PaymentPaidInFull, b.PaymentStatus)
	require.Equal(t, t1, *b.DepositPaidAt)

	// a late deposit confirmation is ignored
	eff, err := Apply(b, EventDeposit, t1.Add(time.Minute), "")
	require.NoError(t, err)
	require.False(t, eff.Changed)
	require.Equal(t, model.PaymentPaidInFull, b.PaymentStatus)
}

func TestApply_DepositThenFullKeepsDepositTime(t *testing.T) {
	b := fixture(model.StatusApproved, model.PaymentUnpaid)
	t1, t2 := t0.Add(time.Minute), t0.Add(time.Hour)
	_, err := Apply(b, EventDeposit, t1, "")
	require.NoError(t, err)
	_, err = Apply(b, EventFullPayment, t2, "")
	require.NoError(t, err)
	require.Equal(t, t1, *b.DepositPaidAt)
	require.Equal(t, t2, b.UpdatedAt)
}

func TestApply_CancelPaidRequestsRefund(t *testing.T) {
	for _, ps := range []model.PaymentStatus{model.PaymentDepositPaid, model.PaymentPaidInFull} {
		t.Run(string(ps), func(t *testing.T) {
			b := fixture(model.StatusApproved, ps)
			t1 := t0.Add(time.Minute)
			eff, err := Apply(b, EventCancel, t1, "")
			require.NoError(t, err)
			require.True(t, eff.RefundRequested)
			require.Nil(t, b.ApprovedAt)
			require.Equal(t, t1, *b.RefundRequestedAt)

			eff, err = Apply(b, EventRefund, t1.Add(time.Hour), "")
			require.NoError(t, err)
			require.True(t, eff.Changed)
			require.Equal(t, model.PaymentRefunded, b.PaymentStatus)
			require.Nil(t, b.DepositPaidAt)
			require.NoError(t, b.CheckInvariants())
		})
	}
}

func TestApply_CancelUnpaidNoRefund(t *testing.T) {
	b := fixture(model.StatusPending, model.PaymentUnpaid)
	eff, err := Apply(b, EventCancel, t0.Add(time.Minute), "")
	require.NoError(t, err)
	require.False(t, eff.RefundRequested)
	require.Nil(t, b.RefundRequestedAt)

	_, err = Apply(b, EventRefund, t0.Add(time.Hour), "")
	require.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
}

func TestApply_RejectStoresReason(t *testing.T) {
	b := fixture(model.StatusPending, model.PaymentDepositPaid)
	eff, err := Apply(b, EventReject, t0.Add(time.Minute), "dates unavailable")
	require.NoError(t, err)
	require.True(t, eff.RefundRequested)
	require.Equal(t, "dates unavailable", *b.RejectionReason)
}

func TestApply_UnknownEvent(t *testing.T) {
	b := fixture(model.StatusPending, model.PaymentUnpaid)
	_, err := Apply(b, Event("teleport"), t0, "")
	require.True(t, apperr.Is(err, apperr.KindInvalidStateTransition))
}
