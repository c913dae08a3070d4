// Package memory provides an in-process order store for local runs and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/utafrali/hdpay/internal/domain"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
)

// OrderRepository implements repository.OrderRepository in memory. It keeps
// deep copies so callers never share state with the store.
type OrderRepository struct {
	mu      sync.RWMutex
	nextID  int64
	orders  map[int64]*domain.Order
	byTx    map[string]map[int64]struct{}
	refunds map[int64][]domain.Refund
}

// NewOrderRepository creates an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:  make(map[int64]*domain.Order),
		byTx:    make(map[string]map[int64]struct{}),
		refunds: make(map[int64][]domain.Refund),
	}
}

// Create stores a copy of o. A zero ID is assigned from a sequence.
func (r *OrderRepository) Create(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.ID == 0 {
		r.nextID++
		o.ID = r.nextID
	} else if o.ID > r.nextID {
		r.nextID = o.ID
	}
	if _, exists := r.orders[o.ID]; exists {
		return apperrors.Conflict(fmt.Sprintf("order %d already exists", o.ID))
	}

	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	o.Version = 1
	o.MarkPersisted()

	stored := o.Clone()
	r.orders[o.ID] = stored
	r.index(stored, "")
	return nil
}

// GetByID returns a copy of the stored order.
func (r *OrderRepository) GetByID(_ context.Context, id int64) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.orders[id]
	if !ok {
		return nil, apperrors.NotFound("order", strconv.FormatInt(id, 10))
	}
	return o.Clone(), nil
}

// FindByTransactionID returns copies of matching orders, most recent first.
func (r *OrderRepository) FindByTransactionID(_ context.Context, tx string, limit int) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matches := make([]*domain.Order, 0, len(r.byTx[tx]))
	for id := range r.byTx[tx] {
		matches = append(matches, r.orders[id])
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	out := make([]domain.Order, 0, len(matches))
	for _, o := range matches {
		out = append(out, *o.Clone())
	}
	return out, nil
}

// Save replaces the stored order when its version still matches.
func (r *OrderRepository) Save(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.saveLocked(o)
}

// CreateRefund records the refund and saves the order under one lock.
func (r *OrderRepository) CreateRefund(_ context.Context, o *domain.Order, ref *domain.Refund) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.saveLocked(o); err != nil {
		return err
	}
	ref.OrderID = o.ID
	r.refunds[o.ID] = append(r.refunds[o.ID], *ref)
	return nil
}

// Refunds lists the refunds recorded for an order.
func (r *OrderRepository) Refunds(orderID int64) []domain.Refund {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]domain.Refund(nil), r.refunds[orderID]...)
}

func (r *OrderRepository) saveLocked(o *domain.Order) error {
	current, ok := r.orders[o.ID]
	if !ok {
		return apperrors.NotFound("order", strconv.FormatInt(o.ID, 10))
	}
	if current.Version != o.Version {
		return apperrors.Conflict(fmt.Sprintf("order %d was modified concurrently", o.ID))
	}

	o.Version++
	o.UpdatedAt = time.Now().UTC()
	o.MarkPersisted()

	stored := o.Clone()
	stored.Key = current.Key
	r.orders[o.ID] = stored
	r.index(stored, current.TransactionID())
	return nil
}

func (r *OrderRepository) index(o *domain.Order, previousTx string) {
	if previousTx != "" && previousTx != o.TransactionID() {
		delete(r.byTx[previousTx], o.ID)
		if len(r.byTx[previousTx]) == 0 {
			delete(r.byTx, previousTx)
		}
	}
	if tx := o.TransactionID(); tx != "" {
		if r.byTx[tx] == nil {
			r.byTx[tx] = make(map[int64]struct{})
		}
		r.byTx[tx][o.ID] = struct{}{}
	}
}
