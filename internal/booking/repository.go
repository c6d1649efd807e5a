package booking

import (
	"context"
	"sort"
	"sync"

	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
)

// UpdateFunc mutates b in place and reports whether anything changed.
// Returning an error or false leaves the stored booking untouched.
type UpdateFunc func(b *model.Booking) (changed bool, err error)

// Repository persists bookings. Update must run fn as one atomic
// read-modify-write per booking: two concurrent updates of the same id never
// both observe the same prior state.
type Repository interface {
	Create(ctx context.Context, b *model.Booking) error
	// Get returns apperr NotFound for unknown ids.
	Get(ctx context.Context, id string) (*model.Booking, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Booking, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.Booking, error)
}

// MemoryRepo is a process-local Repository.
type MemoryRepo struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{bookings: make(map[string]*model.Booking)}
}

var _ Repository = (*MemoryRepo)(nil)

func (r *MemoryRepo) Create(ctx context.Context, b *model.Booking) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bookings[b.ID]; ok {
		return apperr.InvalidInput("duplicate booking id")
	}
	r.bookings[b.ID] = b.Clone()
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking")
	}
	return b.Clone(), nil
}

func (r *MemoryRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	var out []*model.Booking
	for _, b := range r.bookings {
		if b.OwnerID == ownerID {
			out = append(out, b.Clone())
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) Update(ctx context.Context, id string, fn UpdateFunc) (*model.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.bookings[id]
	if !ok {
		return nil, apperr.NotFound("booking")
	}
	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return nil, err
	}
	if !changed {
		return cur.Clone(), nil
	}
	if err := next.CheckInvariants(); err != nil {
		return nil, apperr.Internal(err, "booking invariant violated")
	}
	r.bookings[id] = next
	return next.Clone(), nil
}
