package repository

import (
	"context"

	"github.com/utafrali/hdpay/internal/domain"
)

// OrderRepository defines the order-store operations the gateway needs.
type OrderRepository interface {
	// Create inserts a new order and assigns its ID and initial version.
	Create(ctx context.Context, order *domain.Order) error

	// GetByID retrieves an order with its notes. Missing orders yield
	// an error wrapping apperrors.ErrNotFound.
	GetByID(ctx context.Context, id int64) (*domain.Order, error)

	// FindByTransactionID returns up to limit orders whose stored
	// transaction id equals tx, most recent first.
	FindByTransactionID(ctx context.Context, tx string, limit int) ([]domain.Order, error)

	// Save persists status, metadata, refund totals and pending notes.
	// The write only succeeds if the stored version still equals
	// order.Version; otherwise it fails with apperrors.ErrConflict.
	// On success order.Version is incremented.
	Save(ctx context.Context, order *domain.Order) error

	// CreateRefund stores refund and saves order in one transaction.
	// The caller applies the refund to the order first.
	CreateRefund(ctx context.Context, order *domain.Order, refund *domain.Refund) error
}
