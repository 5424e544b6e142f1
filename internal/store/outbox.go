package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
)

type outboxRow struct {
	id          string
	aggregateID string
	eventType   string
	payload     []byte
}

// OutboxRelay resolves the open question on event duplication at
// reconnect in the direction spec.md prefers: poll unpublished rows,
// publish with confirm, mark published. A row is held by one relay
// tick at a time: FOR UPDATE SKIP LOCKED (the teacher's own
// row-locking idiom from ReserveAll, repurposed for polling instead of
// decrementing stock) plus the claimed_at lease below. A row whose
// publish failed, or whose lease expired, can be claimed again.
type OutboxRelay struct {
	DB       *pgxpool.Pool
	Producer *bus.Producer
	Log      *zap.Logger
	Interval time.Duration
}

func (r *OutboxRelay) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := r.tick(ctx); err != nil {
				r.Log.Warn("outbox relay tick failed", zap.Error(err))
			}
		}
	}
}

// claimLeaseTTL bounds how long a claimed-but-unpublished row blocks a
// retry: a relay that crashes mid-publish leaves claimed_at set, and
// the next tick (any replica) is free to reclaim it once the lease
// has expired.
const claimLeaseTTL = 30 * time.Second

// tick claims a batch of rows and commits immediately, releasing the
// row locks and the pool connection before a single network call is
// made. Publishing and marking a row published are each a single
// autocommit statement afterward, so a slow or stalled broker never
// holds a transaction (or one of the pool's limited connections)
// across the suspension point.
func (r *OutboxRelay) tick(ctx context.Context) error {
	claimed, err := r.claim(ctx)
	if err != nil {
		return err
	}

	for _, o := range claimed {
		if err := r.Producer.PublishConfirm(ctx, bus.PartitionKey(o.aggregateID), o.payload,
			kafkago.Header{Key: "x-event-type", Value: []byte(o.eventType)},
		); err != nil {
			r.Log.Warn("outbox publish failed, releasing claim for retry", zap.String("outbox_id", o.id), zap.Error(err))
			if _, clearErr := r.DB.Exec(ctx, `UPDATE outbox SET claimed_at = NULL WHERE id = $1`, o.id); clearErr != nil {
				r.Log.Warn("failed to release outbox claim", zap.String("outbox_id", o.id), zap.Error(clearErr))
			}
			continue
		}
		if _, err := r.DB.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = $1`, o.id); err != nil {
			r.Log.Warn("failed to mark outbox row published", zap.String("outbox_id", o.id), zap.Error(err))
		}
	}
	return nil
}

// claim runs entirely inside one short transaction with no network
// calls: select-and-lease under FOR UPDATE SKIP LOCKED, then commit,
// so the row locks never outlive the claim itself.
func (r *OutboxRelay) claim(ctx context.Context) ([]outboxRow, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_id, event_type, payload FROM outbox
		WHERE published_at IS NULL
		  AND (claimed_at IS NULL OR claimed_at < now() - $1::interval)
		ORDER BY created_at
		LIMIT 50
		FOR UPDATE SKIP LOCKED`, claimLeaseTTL.String())
	if err != nil {
		return nil, fmt.Errorf("select outbox: %w", err)
	}
	var claimed []outboxRow
	for rows.Next() {
		var o outboxRow
		if err := rows.Scan(&o.id, &o.aggregateID, &o.eventType, &o.payload); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		claimed = append(claimed, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ids := make([]string, len(claimed))
	for i, o := range claimed {
		ids[i] = o.id
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return nil, fmt.Errorf("mark claimed: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}
