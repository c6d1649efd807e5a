// Package booking owns the booking lifecycle: the pure transition rules in
// machine.go and the Service that gates every transition behind access
// control and records it in the audit log.
package booking

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/travel-booking/internal/access"
	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/model"
)

// SystemPaymentsActor is the audit actor for transitions driven by the
// payment provider.
const SystemPaymentsActor = "system:payments"

const (
	DefaultListLimit = 50
	MaxTravelers     = 50
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Auditor is the subset of audit.Log the service needs.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// RefundRequest is handed to the payment collaborator once a cancelled or
// rejected booking holds money.
type RefundRequest struct {
	BookingID     string              `json:"booking_id"`
	OwnerID       string              `json:"owner_id"`
	PaymentStatus model.PaymentStatus `json:"payment_status"`
	AmountCents   int64               `json:"amount_cents"`
	Currency      string              `json:"currency"`
	RequestedBy   string              `json:"requested_by"`
	RequestedAt   time.Time           `json:"requested_at"`
}

// RefundNotifier forwards refund obligations to the payment side.
type RefundNotifier interface {
	RefundRequested(ctx context.Context, r RefundRequest) error
}

type CreateInput struct {
	TourID           string
	Travelers        int
	TotalAmountCents int64
	Currency         string
	SelectedDate     *time.Time
}

type Service struct {
	repo    Repository
	audit   Auditor
	refunds RefundNotifier
	clock   clock.Clock
	timeout time.Duration
	log     *logger.Logger
}

func NewService(repo Repository, auditor Auditor, refunds RefundNotifier, c clock.Clock, timeout time.Duration, lg *logger.Logger) *Service {
	if c == nil {
		c = clock.System{}
	}
	if lg == nil {
		lg = logger.Discard()
	}
	return &Service{repo: repo, audit: auditor, refunds: refunds, clock: c, timeout: timeout, log: lg}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}

// storeErr turns a deadline or driver failure into Unavailable and passes
// typed errors through.
func storeErr(err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return ae
	}
	return apperr.Unavailable(err, "booking store")
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if s.audit == nil {
		return
	}
	if _, err := s.audit.Record(ctx, e); err != nil {
		metrics.IncAuditFailure()
		s.log.Error("audit record failed", "action", e.Action, "target", e.Target, "err", err)
	}
}

func (in CreateInput) validate() error {
	switch {
	case strings.TrimSpace(in.TourID) == "":
		return apperr.InvalidInput("tour_id is required")
	case in.Travelers < 1 || in.Travelers > MaxTravelers:
		return apperr.InvalidInput("travelers must be between 1 and 50")
	case in.TotalAmountCents < 0:
		return apperr.InvalidInput("total amount must not be negative")
	case !currencyRe.MatchString(in.Currency):
		return apperr.InvalidInput("currency must be a 3-letter ISO code")
	}
	return nil
}

// Create stores a new Pending/Unpaid booking owned by p.
func (s *Service) Create(ctx context.Context, p model.Principal, in CreateInput) (*model.Booking, error) {
	if err := access.AuthorizePrincipal(p, model.RoleUser); err != nil {
		return nil, err
	}
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	b := &model.Booking{
		ID:               uuid.NewString(),
		OwnerID:          p.ID,
		TourID:           strings.TrimSpace(in.TourID),
		Status:           model.StatusPending,
		PaymentStatus:    model.PaymentUnpaid,
		Travelers:        in.Travelers,
		TotalAmountCents: in.TotalAmountCents,
		Currency:         in.Currency,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if in.SelectedDate != nil {
		d := in.SelectedDate.UTC().Truncate(24 * time.Hour)
		b.SelectedDate = &d
	}

	rctx, cancel := s.withTimeout(ctx)
	err := s.repo.Create(rctx, b)
	cancel()
	if err != nil {
		metrics.IncTransition("create", "failed")
		return nil, storeErr(err)
	}
	metrics.IncTransition("create", "success")
	s.record(ctx, audit.Entry{
		Actor: p.Actor(), Action: audit.ActionBookingCreated, Target: b.ID, Outcome: audit.OutcomeSuccess,
		Metadata: map[string]string{"tour_id": b.TourID},
	})
	return b, nil
}

// Get returns the booking to its owner or to Moderator+. Anyone else gets
// NotFound, the same as for an id that does not exist.
func (s *Service) Get(ctx context.Context, p model.Principal, id string) (*model.Booking, error) {
	if p.IsAnonymous() {
		return nil, apperr.AuthenticationRequired()
	}
	rctx, cancel := s.withTimeout(ctx)
	b, err := s.repo.Get(rctx, id)
	cancel()
	if err != nil {
		return nil, storeErr(err)
	}
	if err := access.AuthorizeOwnerOr(p, b.OwnerID, model.RoleModerator, "booking"); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) ListMine(ctx context.Context, p model.Principal, limit int) ([]*model.Booking, error) {
	if err := access.AuthorizePrincipal(p, model.RoleUser); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultListLimit {
		limit = DefaultListLimit
	}
	rctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.repo.ListByOwner(rctx, p.ID, limit)
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// Approve moves a Pending booking to Approved. Moderator+ only.
func (s *Service) Approve(ctx context.Context, p model.Principal, id string) (*model.Booking, error) {
	return s.staffDecision(ctx, p, id, EventApprove, audit.ActionBookingApproved, "")
}

// Reject moves a Pending booking to Rejected. Moderator+ only.
func (s *Service) Reject(ctx context.Context, p model.Principal, id, reason string) (*model.Booking, error) {
	return s.staffDecision(ctx, p, id, EventReject, audit.ActionBookingRejected, strings.TrimSpace(reason))
}

// staffDecision audits every call, including denied and failed ones.
func (s *Service) staffDecision(ctx context.Context, p model.Principal, id string, ev Event, action audit.Action, reason string) (*model.Booking, error) {
	if err := access.AuthorizePrincipal(p, model.RoleModerator); err != nil {
		metrics.IncTransition(string(ev), "denied")
		s.record(ctx, audit.Entry{
			Actor: p.Actor(), Action: action, Target: id, Outcome: audit.OutcomeDenied,
			Metadata: map[string]string{"error": string(apperr.KindOf(err))},
		})
		return nil, err
	}
	return s.transition(ctx, p.Actor(), id, ev, action, reason, nil)
}

// Cancel is allowed to the owner and to Moderator+. A paid booking gets a
// refund obligation.
func (s *Service) Cancel(ctx context.Context, p model.Principal, id string) (*model.Booking, error) {
	if p.IsAnonymous() {
		return nil, apperr.AuthenticationRequired()
	}
	guard := func(b *model.Booking) error {
		return access.AuthorizeOwnerOr(p, b.OwnerID, model.RoleModerator, "booking")
	}
	return s.transition(ctx, p.Actor(), id, EventCancel, audit.ActionBookingCancelled, "", guard)
}

// RecordDeposit is called after the payment provider confirms a deposit.
func (s *Service) RecordDeposit(ctx context.Context, id string) (*model.Booking, error) {
	return s.transition(ctx, SystemPaymentsActor, id, EventDeposit, audit.ActionDepositRecorded, "", nil)
}

// RecordFullPayment is called after the provider confirms the balance.
func (s *Service) RecordFullPayment(ctx context.Context, id string) (*model.Booking, error) {
	return s.transition(ctx, SystemPaymentsActor, id, EventFullPayment, audit.ActionFullPaymentRecorded, "", nil)
}

// MarkRefunded closes a refund obligation once the provider has paid out.
func (s *Service) MarkRefunded(ctx context.Context, id string) (*model.Booking, error) {
	return s.transition(ctx, SystemPaymentsActor, id, EventRefund, audit.ActionRefundCompleted, "", nil)
}

func (s *Service) transition(ctx context.Context, actor, id string, ev Event, action audit.Action, reason string, guard func(*model.Booking) error) (*model.Booking, error) {
	var (
		eff  Effect
		prev model.Booking
	)
	now := s.clock.Now()
	rctx, cancel := s.withTimeout(ctx)
	b, err := s.repo.Update(rctx, id, func(b *model.Booking) (bool, error) {
		if guard != nil {
			if err := guard(b); err != nil {
				return false, err
			}
		}
		prev = *b
		e, err := Apply(b, ev, now, reason)
		if err != nil {
			return false, err
		}
		eff = e
		return e.Changed, nil
	})
	cancel()

	if err != nil {
		err = storeErr(err)
		outcome := audit.OutcomeFailed
		if k := apperr.KindOf(err); k == apperr.KindNotFound || k == apperr.KindForbidden || k == apperr.KindAuthenticationRequired {
			outcome = audit.OutcomeDenied
		}
		metrics.IncTransition(string(ev), string(outcome))
		s.record(ctx, audit.Entry{
			Actor: actor, Action: action, Target: id, Outcome: outcome,
			Metadata: map[string]string{"error": string(apperr.KindOf(err))},
		})
		return nil, err
	}

	md := map[string]string{
		"status":         string(b.Status),
		"payment_status": string(b.PaymentStatus),
	}
	if eff.Changed {
		md["from_status"] = string(prev.Status)
		md["from_payment_status"] = string(prev.PaymentStatus)
	} else {
		md["idempotent"] = "true"
	}
	if reason != "" {
		md["reason"] = reason
	}
	metrics.IncTransition(string(ev), string(audit.OutcomeSuccess))
	s.record(ctx, audit.Entry{Actor: actor, Action: action, Target: id, Outcome: audit.OutcomeSuccess, Metadata: md})

	if eff.RefundRequested {
		s.requestRefund(ctx, actor, b)
	}
	return b, nil
}

// requestRefund runs after the transition committed. A failed hand-off is
// logged and audited; it does not undo the cancellation.
func (s *Service) requestRefund(ctx context.Context, actor string, b *model.Booking) {
	md := map[string]string{"payment_status": string(b.PaymentStatus)}
	if s.refunds != nil {
		req := RefundRequest{
			BookingID:     b.ID,
			OwnerID:       b.OwnerID,
			PaymentStatus: b.PaymentStatus,
			AmountCents:   b.TotalAmountCents,
			Currency:      b.Currency,
			RequestedBy:   actor,
			RequestedAt:   *b.RefundRequestedAt,
		}
		pctx, cancel := s.withTimeout(context.WithoutCancel(ctx))
		err := s.refunds.RefundRequested(pctx, req)
		cancel()
		if err != nil {
			s.log.Error("refund hand-off failed", "booking_id", b.ID, "err", err)
			md["dispatch_error"] = err.Error()
		}
	}
	s.record(ctx, audit.Entry{Actor: actor, Action: audit.ActionRefundRequested, Target: b.ID, Outcome: audit.OutcomeSuccess, Metadata: md})
}
