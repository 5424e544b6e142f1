package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReservationProjection is the read-only mirror of the in-memory
// engine's reservation state, written by the Reservation Consumer
// after each reserve and release it performs, for operational
// visibility. Releases made by the engine's TTL sweep are not
// recorded here. It is never consulted for a reservation decision;
// the engine alone remains authoritative.
type ReservationProjection struct{ DB *pgxpool.Pool }

func NewReservationProjection(db *pgxpool.Pool) *ReservationProjection {
	return &ReservationProjection{DB: db}
}

func (p *ReservationProjection) RecordReserved(ctx context.Context, reservationID, orderID, productID string, qty int) {
	_, _ = p.DB.Exec(ctx, `
		INSERT INTO reservations(reservation_id, order_id, product_id, qty, status, created_at)
		VALUES ($1, $2, $3, $4, 'RESERVED', now())
		ON CONFLICT (reservation_id) DO NOTHING`, reservationID, orderID, productID, qty)
}

func (p *ReservationProjection) RecordReleased(ctx context.Context, reservationID string) {
	_, _ = p.DB.Exec(ctx, `
		UPDATE reservations SET status = 'RELEASED', released_at = now()
		WHERE reservation_id = $1`, reservationID)
}

func (p *ReservationProjection) RecordReleasedByOrder(ctx context.Context, orderID string) {
	_, _ = p.DB.Exec(ctx, `
		UPDATE reservations SET status = 'RELEASED', released_at = now()
		WHERE order_id = $1 AND status = 'RESERVED'`, orderID)
}
