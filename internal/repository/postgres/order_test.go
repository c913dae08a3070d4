package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/hdpay/internal/domain"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
)

// --- Test Helpers ---

var orderRowColumns = []string{
	"id", "order_key", "status", "total", "currency", "billing", "items", "metadata",
	"refunded_total", "version", "paid_at", "created_at", "updated_at",
}

var noteRowColumns = []string{"id", "text", "created_at"}

func newTestRepo(t *testing.T) (*OrderRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewOrderRepository(mock, nil), mock
}

// anyArgs matches a statement with n arguments of any value.
func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func sampleOrder() *domain.Order {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &domain.Order{
		ID:       42,
		Key:      "wc_order_abc",
		Status:   domain.OrderStatusPending,
		Total:    decimal.RequireFromString("25.50"),
		Currency: "USD",
		Billing:  domain.Billing{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"},
		Items: []domain.OrderItem{
			{Name: "Mug", SKU: "MUG-1", Quantity: 2, Total: decimal.RequireFromString("25.50")},
		},
		Metadata:      map[string]string{},
		RefundedTotal: decimal.Zero,
		Version:       3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func orderRow(o *domain.Order) []any {
	billing, _ := json.Marshal(o.Billing)
	items, _ := json.Marshal(o.Items)
	meta, _ := json.Marshal(o.Metadata)
	return []any{
		o.ID, o.Key, o.Status, o.Total.String(), o.Currency, billing, items, meta,
		o.RefundedTotal.String(), o.Version, o.PaidAt, o.CreatedAt, o.UpdatedAt,
	}
}

// --- Create ---

func TestOrderRepository_Create_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.ID = 0
	o.AddNote("Order created.")
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(o.Key, o.Status, "25.5", o.Currency,
			pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`{}`), "0").
		WillReturnRows(pgxmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).
			AddRow(int64(42), int64(1), now, now))
	mock.ExpectExec("INSERT INTO order_notes").
		WithArgs(o.Notes[0].ID, int64(42), "Order created.", o.Notes[0].CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), o))
	assert.Equal(t, int64(42), o.ID)
	assert.Equal(t, int64(1), o.Version)
	assert.Empty(t, o.PendingNotes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Create_InsertError(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO orders").
		WithArgs(anyArgs(8)...).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err := repo.Create(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- GetByID ---

func TestOrderRepository_GetByID_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.Metadata = map[string]string{domain.MetaTransactionID: "tx_9"}
	noteID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM orders WHERE id = \\$1").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(orderRowColumns).AddRow(orderRow(o)...))
	mock.ExpectQuery("FROM order_notes").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(noteRowColumns).AddRow(noteID, "Awaiting HDPay payment.", o.CreatedAt))

	got, err := repo.GetByID(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, "wc_order_abc", got.Key)
	assert.True(t, got.Total.Equal(o.Total))
	assert.Equal(t, "tx_9", got.TransactionID())
	assert.Equal(t, "Ada", got.Billing.FirstName)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "MUG-1", got.Items[0].SKU)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, noteID, got.Notes[0].ID)
	assert.Empty(t, got.PendingNotes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("FROM orders WHERE id").
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), 7)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- FindByTransactionID ---

func TestOrderRepository_FindByTransactionID(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.Metadata = map[string]string{domain.MetaTransactionID: "tx_9"}

	mock.ExpectQuery("WHERE metadata ->> '_hdpay_transaction_id' = \\$1").
		WithArgs("tx_9", 1).
		WillReturnRows(pgxmock.NewRows(orderRowColumns).AddRow(orderRow(o)...))
	mock.ExpectQuery("FROM order_notes").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(noteRowColumns))

	got, err := repo.FindByTransactionID(context.Background(), "tx_9", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(42), got[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_FindByTransactionID_None(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectQuery("_hdpay_transaction_id").
		WithArgs("tx_missing", 1).
		WillReturnRows(pgxmock.NewRows(orderRowColumns))

	got, err := repo.FindByTransactionID(context.Background(), "tx_missing", 1)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- Save ---

func TestOrderRepository_Save_Success(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.MarkPersisted()
	require.NoError(t, o.MarkPaid("tx_9"))
	o.AddNote("HDPay payment completed. Transaction ID: tx_9")

	meta, err := json.Marshal(o.Metadata)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(domain.OrderStatusPaid, meta, "0", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("INSERT INTO order_notes").
		WithArgs(o.Notes[0].ID, int64(42), o.Notes[0].Text, o.Notes[0].CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Save(context.Background(), o))
	assert.Equal(t, int64(4), o.Version)
	assert.Empty(t, o.PendingNotes())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Save_VersionConflict(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), o)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.Equal(t, int64(3), o.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_Save_ExecError(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE orders").
		WithArgs(anyArgs(7)...).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update order")
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- CreateRefund ---

func TestOrderRepository_CreateRefund(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	o.Status = domain.OrderStatusPaid
	o.MarkPersisted()
	ref := domain.NewRefund(o.ID, decimal.RequireFromString("5.00"), "Refunded via HDPay")
	require.NoError(t, o.ApplyRefund(ref))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO order_refunds").
		WithArgs(ref.ID, int64(42), "5", "Refunded via HDPay", ref.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE orders").
		WithArgs(domain.OrderStatusPaid, []byte(`{}`), "5", pgxmock.AnyArg(), pgxmock.AnyArg(), int64(42), int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CreateRefund(context.Background(), o, ref))
	assert.Equal(t, int64(4), o.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_CreateRefund_ConflictRollsBack(t *testing.T) {
	repo, mock := newTestRepo(t)
	defer mock.Close()

	o := sampleOrder()
	ref := domain.NewRefund(o.ID, decimal.RequireFromString("1"), "r")

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO order_refunds").
		WithArgs(anyArgs(5)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE orders").
		WithArgs(anyArgs(7)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := repo.CreateRefund(context.Background(), o, ref)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
