package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/hdpay/internal/domain"
	"github.com/utafrali/hdpay/pkg/database"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
)

// Amounts cross the driver as text so NUMERIC keeps its exact scale.
const orderColumns = `id, order_key, status, total::text, currency, billing, items, metadata,
	refunded_total::text, version, paid_at, created_at, updated_at`

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool   database.DBTX
	tracer *database.QueryTracer
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
// tracer may be nil.
func NewOrderRepository(pool database.DBTX, tracer *database.QueryTracer) *OrderRepository {
	return &OrderRepository{pool: pool, tracer: tracer}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts the order and its initial notes in a single transaction.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) (err error) {
	ctx, end := r.tracer.Start(ctx, "CreateOrder", "INSERT INTO orders")
	defer func() { end(err) }()

	billingJSON, err := json.Marshal(o.Billing)
	if err != nil {
		return fmt.Errorf("marshal billing: %w", err)
	}
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	metadataJSON, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO orders (order_key, status, total, currency, billing, items, metadata, refunded_total)
		VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8::numeric)
		RETURNING id, version, created_at, updated_at`

	err = tx.QueryRow(ctx, query,
		o.Key,
		o.Status,
		o.Total.String(),
		o.Currency,
		billingJSON,
		itemsJSON,
		metadataJSON,
		o.RefundedTotal.String(),
	).Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if err := insertNotes(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	o.MarkPersisted()
	return nil
}

// GetByID retrieves an order and its notes.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (_ *domain.Order, err error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	ctx, end := r.tracer.Start(ctx, "GetOrderByID", query)
	defer func() { end(err) }()

	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	if err := r.loadNotes(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// FindByTransactionID uses the expression index on the stored transaction id.
func (r *OrderRepository) FindByTransactionID(ctx context.Context, txID string, limit int) (_ []domain.Order, err error) {
	query := `SELECT ` + orderColumns + `
		FROM orders
		WHERE metadata ->> '` + domain.MetaTransactionID + `' = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`
	ctx, end := r.tracer.Start(ctx, "FindOrdersByTransactionID", query)
	defer func() { end(err) }()

	rows, err := r.pool.Query(ctx, query, txID, limit)
	if err != nil {
		return nil, fmt.Errorf("find orders by transaction id: %w", err)
	}

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}

	for i := range orders {
		if err := r.loadNotes(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}

	if orders == nil {
		orders = []domain.Order{}
	}
	return orders, nil
}

// Save writes the mutable order fields and pending notes, guarded by version.
func (r *OrderRepository) Save(ctx context.Context, o *domain.Order) (err error) {
	ctx, end := r.tracer.Start(ctx, "SaveOrder", "UPDATE orders")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	if err := updateOrder(ctx, tx, o, now); err != nil {
		return err
	}
	if err := insertNotes(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	o.Version++
	o.UpdatedAt = now
	o.MarkPersisted()
	return nil
}

// CreateRefund inserts the refund row and saves the order atomically.
func (r *OrderRepository) CreateRefund(ctx context.Context, o *domain.Order, ref *domain.Refund) (err error) {
	ctx, end := r.tracer.Start(ctx, "CreateOrderRefund", "INSERT INTO order_refunds")
	defer func() { end(err) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO order_refunds (id, order_id, amount, reason, created_at)
		VALUES ($1, $2, $3::numeric, $4, $5)`,
		ref.ID,
		o.ID,
		ref.Amount.String(),
		ref.Reason,
		ref.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}

	now := time.Now().UTC()
	if err := updateOrder(ctx, tx, o, now); err != nil {
		return err
	}
	if err := insertNotes(ctx, tx, o); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	o.Version++
	o.UpdatedAt = now
	o.MarkPersisted()
	return nil
}

func updateOrder(ctx context.Context, tx pgx.Tx, o *domain.Order, now time.Time) error {
	metadataJSON, err := marshalMetadata(o.Metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE orders
		SET status = $1, metadata = $2, refunded_total = $3::numeric, paid_at = $4,
		    version = version + 1, updated_at = $5
		WHERE id = $6 AND version = $7`

	ct, err := tx.Exec(ctx, query,
		o.Status,
		metadataJSON,
		o.RefundedTotal.String(),
		o.PaidAt,
		now,
		o.ID,
		o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("order %d was modified concurrently", o.ID))
	}
	return nil
}

func insertNotes(ctx context.Context, tx pgx.Tx, o *domain.Order) error {
	for _, n := range o.PendingNotes() {
		_, err := tx.Exec(ctx, `
			INSERT INTO order_notes (id, order_id, text, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			n.ID, o.ID, n.Text, n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert order note: %w", err)
		}
	}
	return nil
}

func (r *OrderRepository) loadNotes(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `
		SELECT id, text, created_at
		FROM order_notes
		WHERE order_id = $1
		ORDER BY created_at, id`, o.ID)
	if err != nil {
		return fmt.Errorf("list order notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var n domain.Note
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			return fmt.Errorf("scan order note: %w", err)
		}
		o.Notes = append(o.Notes, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate order notes: %w", err)
	}

	o.MarkPersisted()
	return nil
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o            domain.Order
		total        string
		refunded     string
		billingJSON  []byte
		itemsJSON    []byte
		metadataJSON []byte
	)

	if err := row.Scan(
		&o.ID,
		&o.Key,
		&o.Status,
		&total,
		&o.Currency,
		&billingJSON,
		&itemsJSON,
		&metadataJSON,
		&refunded,
		&o.Version,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if o.RefundedTotal, err = decimal.NewFromString(refunded); err != nil {
		return nil, fmt.Errorf("parse refunded total: %w", err)
	}
	if len(billingJSON) > 0 {
		if err := json.Unmarshal(billingJSON, &o.Billing); err != nil {
			return nil, fmt.Errorf("unmarshal billing: %w", err)
		}
	}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
			return nil, fmt.Errorf("unmarshal items: %w", err)
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &o.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return &o, nil
}

func marshalMetadata(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}
