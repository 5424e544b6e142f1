package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hilmist/OrderService/internal/domain"
)

// Spins up an ephemeral Postgres container and creates the orders,
// order_items and outbox tables from an inline subset of the schema
// in migrations/0001_init.sql, mirroring the pack's testcontainers
// wiring. Skipped when run with -short, since it needs a working
// Docker daemon.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping testcontainers-backed integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("orders"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	schema := `
		CREATE TABLE orders (
			id TEXT PRIMARY KEY, customer_id TEXT NOT NULL, status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL, confirmed_at TIMESTAMPTZ, cancelled_at TIMESTAMPTZ,
			shipped_at TIMESTAMPTZ, delivered_at TIMESTAMPTZ, cancel_reason TEXT NOT NULL DEFAULT '',
			total_amount BIGINT NOT NULL, currency TEXT NOT NULL, row_version INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE order_items (
			id TEXT PRIMARY KEY, order_id TEXT NOT NULL REFERENCES orders(id),
			product_id TEXT NOT NULL, quantity INTEGER NOT NULL, unit_price BIGINT NOT NULL, currency TEXT NOT NULL
		);
		CREATE TABLE outbox (
			id TEXT PRIMARY KEY, aggregate_id TEXT NOT NULL, event_type TEXT NOT NULL,
			payload JSONB NOT NULL, created_at TIMESTAMPTZ NOT NULL, published_at TIMESTAMPTZ
		);`
	_, err = pool.Exec(ctx, schema)
	require.NoError(t, err)

	return pool
}

func TestOrderStore_CreateAndGet_RoundTrips(t *testing.T) {
	pool := setupTestDB(t)
	s := NewOrderStore(pool)

	order, err := domain.NewOrder("cust-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 2, UnitPrice: domain.NewMoney(10000, "USD")},
	}, "USD")
	require.NoError(t, err)

	id, err := s.CreateWithOutbox(context.Background(), order, []byte(`{"eventType":"order.created"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, loaded.Status)
	require.Equal(t, int64(20000), loaded.TotalAmount.Cents)
	require.Len(t, loaded.Items, 1)

	var outboxCount int
	err = pool.QueryRow(context.Background(), `SELECT count(*) FROM outbox WHERE aggregate_id = $1`, id).Scan(&outboxCount)
	require.NoError(t, err)
	require.Equal(t, 1, outboxCount)
}

func TestOrderStore_Save_DetectsOptimisticConflict(t *testing.T) {
	pool := setupTestDB(t)
	s := NewOrderStore(pool)

	order, err := domain.NewOrder("cust-1", []domain.OrderItem{
		{ProductID: "sku-1", Quantity: 1, UnitPrice: domain.NewMoney(10000, "USD")},
	}, "USD")
	require.NoError(t, err)
	id, err := s.CreateWithOutbox(context.Background(), order, []byte(`{}`))
	require.NoError(t, err)

	first, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	second, err := s.Get(context.Background(), id)
	require.NoError(t, err)

	require.NoError(t, first.Confirm())
	require.NoError(t, s.Save(context.Background(), first))

	require.NoError(t, second.Confirm())
	err = s.Save(context.Background(), second)
	require.Error(t, err)

	var re *domain.RuleError
	require.ErrorAs(t, err, &re)
	require.Equal(t, domain.KindOptimisticConflict, re.Kind)
}
