package booking

import (
	"time"

	"github.com/iliyamo/travel-booking/internal/model"
)

// View is the JSON projection returned to owners and staff.
type View struct {
	ID                string     `json:"id"`
	OwnerID           string     `json:"owner_id"`
	TourID            string     `json:"tour_id"`
	Status            string     `json:"status"`
	PaymentStatus     string     `json:"payment_status"`
	Travelers         int        `json:"travelers"`
	TotalAmountCents  int64      `json:"total_amount_cents"`
	Currency          string     `json:"currency"`
	SelectedDate      string     `json:"selected_date,omitempty"`
	RejectionReason   string     `json:"rejection_reason,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DepositPaidAt     *time.Time `json:"deposit_paid_at,omitempty"`
	ApprovedAt        *time.Time `json:"approved_at,omitempty"`
	RefundRequestedAt *time.Time `json:"refund_requested_at,omitempty"`
	RefundedAt        *time.Time `json:"refunded_at,omitempty"`
}

func NewView(b *model.Booking) View {
	v := View{
		ID:                b.ID,
		OwnerID:           b.OwnerID,
		TourID:            b.TourID,
		Status:            string(b.Status),
		PaymentStatus:     string(b.PaymentStatus),
		Travelers:         b.Travelers,
		TotalAmountCents:  b.TotalAmountCents,
		Currency:          b.Currency,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
		DepositPaidAt:     b.DepositPaidAt,
		ApprovedAt:        b.ApprovedAt,
		RefundRequestedAt: b.RefundRequestedAt,
		RefundedAt:        b.RefundedAt,
	}
	if b.SelectedDate != nil {
		v.SelectedDate = b.SelectedDate.Format("2006-01-02")
	}
	if b.RejectionReason != nil {
		v.RejectionReason = *b.RejectionReason
	}
	return v
}

func NewViews(bs []*model.Booking) []View {
	out := make([]View, 0, len(bs))
	for _, b := range bs {
		out = append(out, NewView(b))
	}
	return out
}
