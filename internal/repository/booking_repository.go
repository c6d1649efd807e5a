package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/model"
)

// BookingRepo stores bookings in MySQL. Update locks the row with
// SELECT ... FOR UPDATE inside a transaction so concurrent transitions of
// the same booking are serialized by InnoDB.
type BookingRepo struct {
	db *sql.DB
}

func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

var _ booking.Repository = (*BookingRepo)(nil)

const bookingColumns = `id, owner_id, tour_id, status, payment_status, travelers, total_amount_cents, currency,
	selected_date, rejection_reason, created_at, updated_at, deposit_paid_at, approved_at, refund_requested_at, refunded_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	var (
		b                                   model.Booking
		status, payment                     string
		selected                            sql.NullTime
		reason                              sql.NullString
		depositAt, approvedAt, reqAt, refAt sql.NullTime
	)
	err := row.Scan(&b.ID, &b.OwnerID, &b.TourID, &status, &payment, &b.Travelers, &b.TotalAmountCents, &b.Currency,
		&selected, &reason, &b.CreatedAt, &b.UpdatedAt, &depositAt, &approvedAt, &reqAt, &refAt)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.PaymentStatus = model.PaymentStatus(payment)
	b.SelectedDate = nullTime(selected)
	if reason.Valid {
		r := reason.String
		b.RejectionReason = &r
	}
	b.DepositPaidAt = nullTime(depositAt)
	b.ApprovedAt = nullTime(approvedAt)
	b.RefundRequestedAt = nullTime(reqAt)
	b.RefundedAt = nullTime(refAt)
	return &b, nil
}

func nullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (id, owner_id, tour_id, status, payment_status, travelers, total_amount_cents, currency,
		selected_date, rejection_reason, created_at, updated_at, deposit_paid_at, approved_at, refund_requested_at, refunded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.OwnerID, b.TourID, string(b.Status), string(b.PaymentStatus), b.Travelers, b.TotalAmountCents, b.Currency,
		timeArg(b.SelectedDate), stringArg(b.RejectionReason), b.CreatedAt.UTC(), b.UpdatedAt.UTC(),
		timeArg(b.DepositPaidAt), timeArg(b.ApprovedAt), timeArg(b.RefundRequestedAt), timeArg(b.RefundedAt))
	return err
}

func (r *BookingRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("booking")
	}
	return b, err
}

func (r *BookingRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Update runs fn against the locked row and writes the result back in the
// same transaction. Nothing is written when fn fails or reports no change.
func (r *BookingRepo) Update(ctx context.Context, id string, fn booking.UpdateFunc) (_ *model.Booking, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cur, err := scanBooking(tx.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("booking")
	}
	if err != nil {
		return nil, err
	}

	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		if err = tx.Commit(); err != nil {
			return nil, err
		}
		return cur, nil
	}
	if ierr := next.CheckInvariants(); ierr != nil {
		err = apperr.Internal(ierr, "booking invariant violated")
		return nil, err
	}

	const q = `UPDATE bookings SET status = ?, payment_status = ?, rejection_reason = ?, updated_at = ?,
		deposit_paid_at = ?, approved_at = ?, refund_requested_at = ?, refunded_at = ? WHERE id = ?`
	if _, err = tx.ExecContext(ctx, q,
		string(next.Status), string(next.PaymentStatus), stringArg(next.RejectionReason), next.UpdatedAt.UTC(),
		timeArg(next.DepositPaidAt), timeArg(next.ApprovedAt), timeArg(next.RefundRequestedAt), timeArg(next.RefundedAt),
		next.ID); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}
