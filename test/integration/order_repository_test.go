package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/storefront-backend/internal/order/domain"
	orderpg "github.com/dmehra2102/storefront-backend/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/storefront-backend/pkg/logging"
)

// Requires docker; run with INTEGRATION=1 go test ./test/integration/...
func TestOrderRepository(t *testing.T) {
	if os.Getenv("INTEGRATION") == "" {
		t.Skip("set INTEGRATION=1 to run container-backed tests")
	}

	ctx := context.Background()
	env, err := Setup(ctx)
	require.NoError(t, err)
	defer env.Teardown(ctx)

	pool, err := pgxpool.New(ctx, env.PGURL)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, orderpg.Migrate(ctx, pool))

	repo := orderpg.NewRepository(logging.New("error"), pool)

	o, err := domain.NewOrder("u1", "u1@example.com", domain.MethodGateway, []domain.OrderItem{
		{ProductID: "p1", ProductName: "Free Range Eggs", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00")},
	})
	require.NoError(t, err)
	require.NoError(t, repo.CreateWithOutbox(ctx, o, "OrderCreated", []byte(`{}`)))

	t.Run("round trip", func(t *testing.T) {
		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.True(t, got.TotalPrice.Equal(decimal.RequireFromString("20.00")))
		assert.Equal(t, domain.PaymentPending, got.PaymentStatus)
		require.Len(t, got.Items, 1)
		assert.Equal(t, "Free Range Eggs", got.Items[0].ProductName)
	})

	t.Run("session ref is write once", func(t *testing.T) {
		require.NoError(t, repo.SetSessionRef(ctx, o.ID, "sess_1"))
		// Idempotent for the same ref.
		require.NoError(t, repo.SetSessionRef(ctx, o.ID, "sess_1"))
		// A different ref is refused.
		assert.ErrorIs(t, repo.SetSessionRef(ctx, o.ID, "sess_2"), domain.ErrSessionRefSet)

		found, err := repo.FindBySessionRef(ctx, "sess_1")
		require.NoError(t, err)
		assert.Equal(t, o.ID, found.ID)
	})

	t.Run("conditional paid transition", func(t *testing.T) {
		transitioned, err := repo.MarkPaid(ctx, o.ID, "sess_1", "OrderPaid", []byte(`{}`))
		require.NoError(t, err)
		assert.True(t, transitioned)

		// Second delivery loses the conditional update.
		transitioned, err = repo.MarkPaid(ctx, o.ID, "sess_1", "OrderPaid", []byte(`{}`))
		require.NoError(t, err)
		assert.False(t, transitioned)

		// A late failure event cannot regress the paid order.
		transitioned, err = repo.MarkPaymentFailed(ctx, o.ID, "OrderPaymentFailed", []byte(`{}`))
		require.NoError(t, err)
		assert.False(t, transitioned)

		got, err := repo.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
		assert.Equal(t, domain.OrderProcessing, got.OrderStatus)
	})

	t.Run("paid orders appear in income query", func(t *testing.T) {
		paid, err := repo.FindPaidSince(ctx, o.CreatedAt.AddDate(0, 0, -1))
		require.NoError(t, err)
		require.Len(t, paid, 1)
		assert.Equal(t, o.ID, paid[0].ID)
	})

	t.Run("outbox rows recorded per transition", func(t *testing.T) {
		store := orderpg.NewOutboxStore(logging.New("error"), pool)
		events, err := store.LockBatch(ctx, "test-relay", 10, 5*time.Second)
		require.NoError(t, err)
		types := make([]string, 0, len(events))
		for _, e := range events {
			types = append(types, e.Type)
		}
		assert.ElementsMatch(t, []string{"OrderCreated", "OrderPaid"}, types)
	})

	t.Run("paid transition backfills missing session ref", func(t *testing.T) {
		o2, err := domain.NewOrder("u2", "u2@example.com", domain.MethodGateway, []domain.OrderItem{
			{ProductID: "p2", ProductName: "Farm Butter", Quantity: 1, UnitPrice: decimal.RequireFromString("4.50")},
		})
		require.NoError(t, err)
		require.NoError(t, repo.CreateWithOutbox(ctx, o2, "OrderCreated", []byte(`{}`)))

		transitioned, err := repo.MarkPaid(ctx, o2.ID, "sess_late", "OrderPaid", []byte(`{}`))
		require.NoError(t, err)
		require.True(t, transitioned)

		got, err := repo.Get(ctx, o2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
		assert.Equal(t, "sess_late", got.SessionRef)
	})
}
