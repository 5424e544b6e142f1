// Package idempotency implements the single-operation idempotency
// store: key -> resource-id, first-writer-wins via a DB unique
// constraint. The table also backs the Redis fast-path cache the
// HTTP edge consults before round-tripping to Postgres.
package idempotency

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

// TryInsert inserts {key, candidateResourceID, now}; on a unique-key
// conflict it re-selects and returns whichever resource id was
// actually stored first. The first caller's candidate always wins.
func (s *Store) TryInsert(ctx context.Context, key, candidateResourceID string) (actualResourceID string, err error) {
	_, err = s.DB.Exec(ctx, `
		INSERT INTO idempotency(key, resource_id, created_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO NOTHING`, key, candidateResourceID)
	if err != nil {
		return "", fmt.Errorf("idempotency insert: %w", err)
	}

	var stored string
	row := s.DB.QueryRow(ctx, `SELECT resource_id FROM idempotency WHERE key = $1`, key)
	if err := row.Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("idempotency key vanished after insert: %s", key)
		}
		return "", fmt.Errorf("idempotency select: %w", err)
	}
	return stored, nil
}

// GC deletes idempotency rows older than the given TTL, resolving the
// open question on idempotency garbage collection with a bounded
// window; in-TTL keys keep first-writer-wins semantics unchanged.
// Nothing in the repository calls it: no periodic sweep or admin
// route runs it.
func (s *Store) GC(ctx context.Context, olderThan string) (int64, error) {
	tag, err := s.DB.Exec(ctx, `DELETE FROM idempotency WHERE created_at < now() - $1::interval`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("idempotency gc: %w", err)
	}
	return tag.RowsAffected(), nil
}
