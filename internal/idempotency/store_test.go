package idempotency

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TryInsert's first-writer-wins contract needs a real unique-constraint
// conflict to exercise meaningfully, and pgxpool.Pool has no query-
// expectation seam like database/sql. No test in the repository
// exercises that round-trip; this unit test only pins the
// constructor's wiring contract.
func TestNewStore_WrapsPool(t *testing.T) {
	var pool *pgxpool.Pool
	s := NewStore(pool)
	if s.DB != pool {
		t.Fatalf("expected NewStore to retain the given pool unchanged")
	}
}
