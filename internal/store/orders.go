// Package store persists the order aggregate, the outbox, and the
// reservation audit projection over Postgres, following the teacher's
// pgxpool transaction idiom: BeginTx, defer Rollback, explicit Commit.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hilmist/OrderService/internal/domain"
)

var ErrNotFound = errors.New("order not found")

type OrderStore struct{ DB *pgxpool.Pool }

func NewOrderStore(db *pgxpool.Pool) *OrderStore { return &OrderStore{DB: db} }

// CreateWithOutbox persists a new Pending order and its items, plus an
// outbox row for order.created, in the same transaction (step 4.I's
// "persist, then publish only after commit" rule, rendered as a
// guaranteed-eventual publish instead of an in-request one).
func (s *OrderStore) CreateWithOutbox(ctx context.Context, o *domain.Order, outboxPayload []byte) (string, error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, status, created_at, total_amount, currency, row_version)
		VALUES ($1, $2, $3, $4, $5, $6, 0)`,
		o.ID, o.CustomerID, string(o.Status), o.CreatedAt, o.TotalAmount.Cents, o.TotalAmount.Currency,
	)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.ID = uuid.NewString()
		it.OrderID = o.ID
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, unit_price, currency)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, it.OrderID, it.ProductID, it.Quantity, it.UnitPrice.Cents, it.UnitPrice.Currency,
		)
		if err != nil {
			return "", fmt.Errorf("insert order item: %w", err)
		}
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO outbox(id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		uuid.NewString(), o.ID, "order.created", outboxPayload,
	); err != nil {
		return "", fmt.Errorf("insert outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return o.ID, nil
}

func (s *OrderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	var o domain.Order
	var status string
	row := s.DB.QueryRow(ctx, `
		SELECT id, customer_id, status, created_at, confirmed_at, cancelled_at,
		       shipped_at, delivered_at, cancel_reason, total_amount, currency, row_version
		FROM orders WHERE id = $1`, id)
	if err := row.Scan(&o.ID, &o.CustomerID, &status, &o.CreatedAt, &o.ConfirmedAt, &o.CancelledAt,
		&o.ShippedAt, &o.DeliveredAt, &o.CancelReason, &o.TotalAmount.Cents, &o.TotalAmount.Currency, &o.RowVersion); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select order: %w", err)
	}
	o.Status = domain.Status(status)

	rows, err := s.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price, currency
		FROM order_items WHERE order_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.UnitPrice.Cents, &it.UnitPrice.Currency); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	return &o, rows.Err()
}

// Save applies an optimistic-locked update: the caller has already
// mutated o in memory via a domain transition method; Save writes the
// new status/timestamps and bumps row_version, conflicting on a
// stale RowVersion read.
func (s *OrderStore) Save(ctx context.Context, o *domain.Order) error {
	tag, err := s.DB.Exec(ctx, `
		UPDATE orders SET status = $1, confirmed_at = $2, cancelled_at = $3,
		       shipped_at = $4, delivered_at = $5, cancel_reason = $6, row_version = row_version + 1
		WHERE id = $7 AND row_version = $8`,
		string(o.Status), o.ConfirmedAt, o.CancelledAt, o.ShippedAt, o.DeliveredAt, o.CancelReason,
		o.ID, o.RowVersion,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NewRuleError(domain.KindOptimisticConflict, "order was modified concurrently")
	}
	o.RowVersion++
	return nil
}
