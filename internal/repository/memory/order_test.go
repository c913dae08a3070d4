package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/hdpay/internal/domain"
	apperrors "github.com/utafrali/hdpay/pkg/errors"
)

func seed(t *testing.T, repo *OrderRepository, key string) *domain.Order {
	t.Helper()
	o := &domain.Order{
		Key:      key,
		Status:   domain.OrderStatusPending,
		Total:    decimal.RequireFromString("10.00"),
		Currency: "USD",
	}
	require.NoError(t, repo.Create(context.Background(), o))
	return o
}

func TestCreateAndGet(t *testing.T) {
	repo := NewOrderRepository()
	o := seed(t, repo, "k1")

	assert.Equal(t, int64(1), o.ID)
	assert.Equal(t, int64(1), o.Version)

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, "k1", got.Key)

	got.SetMeta("x", "y")
	again, _ := repo.GetByID(context.Background(), o.ID)
	assert.Empty(t, again.Meta("x"))

	_, err = repo.GetByID(context.Background(), 99)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestCreate_ExplicitIDConflict(t *testing.T) {
	repo := NewOrderRepository()
	require.NoError(t, repo.Create(context.Background(), &domain.Order{ID: 42, Key: "a", Status: domain.OrderStatusPending}))
	err := repo.Create(context.Background(), &domain.Order{ID: 42, Key: "b", Status: domain.OrderStatusPending})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSave_OptimisticLock(t *testing.T) {
	repo := NewOrderRepository()
	o := seed(t, repo, "k1")
	ctx := context.Background()

	first, _ := repo.GetByID(ctx, o.ID)
	second, _ := repo.GetByID(ctx, o.ID)

	require.NoError(t, first.MarkPaid("tx_1"))
	require.NoError(t, repo.Save(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	require.NoError(t, second.TransitionStatus(domain.OrderStatusFailed, "late"))
	assert.ErrorIs(t, repo.Save(ctx, second), apperrors.ErrConflict)

	stored, _ := repo.GetByID(ctx, o.ID)
	assert.Equal(t, domain.OrderStatusPaid, stored.Status)
}

func TestSave_KeyIsImmutable(t *testing.T) {
	repo := NewOrderRepository()
	o := seed(t, repo, "original")
	ctx := context.Background()

	o.Key = "changed"
	require.NoError(t, repo.Save(ctx, o))

	stored, _ := repo.GetByID(ctx, o.ID)
	assert.Equal(t, "original", stored.Key)
}

func TestFindByTransactionID_MostRecentFirstAndReindexes(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()

	older := &domain.Order{Key: "a", Status: domain.OrderStatusPending, CreatedAt: time.Now().Add(-time.Hour)}
	older.SetMeta(domain.MetaTransactionID, "tx_dup")
	require.NoError(t, repo.Create(ctx, older))

	newer := &domain.Order{Key: "b", Status: domain.OrderStatusPending, CreatedAt: time.Now()}
	newer.SetMeta(domain.MetaTransactionID, "tx_dup")
	require.NoError(t, repo.Create(ctx, newer))

	got, err := repo.FindByTransactionID(ctx, "tx_dup", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)

	newer.SetMeta(domain.MetaTransactionID, "tx_new")
	require.NoError(t, repo.Save(ctx, newer))

	got, _ = repo.FindByTransactionID(ctx, "tx_dup", 10)
	require.Len(t, got, 1)
	assert.Equal(t, older.ID, got[0].ID)

	got, _ = repo.FindByTransactionID(ctx, "tx_new", 10)
	require.Len(t, got, 1)
	assert.Equal(t, newer.ID, got[0].ID)
}

func TestCreateRefund(t *testing.T) {
	repo := NewOrderRepository()
	o := seed(t, repo, "k1")
	ctx := context.Background()

	ref := domain.NewRefund(o.ID, decimal.RequireFromString("4"), "partial")
	require.NoError(t, o.ApplyRefund(ref))
	require.NoError(t, repo.CreateRefund(ctx, o, ref))

	refunds := repo.Refunds(o.ID)
	require.Len(t, refunds, 1)
	assert.True(t, refunds[0].Amount.Equal(decimal.NewFromInt(4)))

	stored, _ := repo.GetByID(ctx, o.ID)
	assert.True(t, stored.RefundedTotal.Equal(decimal.NewFromInt(4)))
}

func TestSave_ConcurrentWritersOneWins(t *testing.T) {
	repo := NewOrderRepository()
	o := seed(t, repo, "k1")
	ctx := context.Background()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		loaded, err := repo.GetByID(ctx, o.ID)
		require.NoError(t, err)
		wg.Add(1)
		go func(order *domain.Order) {
			defer wg.Done()
			order.AddNote("attempt")
			if repo.Save(ctx, order) == nil {
				wins.Add(1)
			}
		}(loaded)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	stored, _ := repo.GetByID(ctx, o.ID)
	assert.Len(t, stored.Notes, 1)
}
