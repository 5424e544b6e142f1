package inventory

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestEngine() *Engine {
	return NewEngine(zap.NewNop())
}

func TestTryReserve_RejectsOverHalfOfAvailable(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 10)

	if ok := e.TryReserve("sku-1", 6, "r1", "cust-1", "order-1", time.Minute); ok {
		t.Fatal("expected reservation above 50% of available stock to be rejected")
	}
	if ok := e.TryReserve("sku-1", 5, "r2", "cust-1", "order-1", time.Minute); !ok {
		t.Fatal("expected reservation of exactly 50% of available stock to succeed")
	}
	if got := e.GetStock("sku-1"); got != 5 {
		t.Fatalf("expected 5 remaining, got %d", got)
	}
}

func TestTryReserve_MinimumOneUnitAllowedWhenHalfRoundsToZero(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 1)
	if ok := e.TryReserve("sku-1", 1, "r1", "cust-1", "order-1", time.Minute); !ok {
		t.Fatal("expected a single unit of stock to allow a 1-unit reservation")
	}
}

func TestTryReserve_IsIdempotentPerOrderAndProduct(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 10)

	if ok := e.TryReserve("sku-1", 5, "r1", "cust-1", "order-1", time.Minute); !ok {
		t.Fatal("first reservation should succeed")
	}
	// Redelivery of the same order+product with a different reservation
	// id must be a no-op returning true, not a second deduction.
	if ok := e.TryReserve("sku-1", 5, "r2", "cust-1", "order-1", time.Minute); !ok {
		t.Fatal("redelivered reservation should report success without mutating stock")
	}
	if got := e.GetStock("sku-1"); got != 5 {
		t.Fatalf("expected stock untouched by redelivery, got %d", got)
	}
}

func TestTryReserve_FlashSaleCapsPerCustomer(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 100)
	e.SetFlashSaleProducts([]string{"sku-1"})

	if ok := e.TryReserve("sku-1", 2, "r1", "cust-1", "order-1", time.Minute); !ok {
		t.Fatal("expected first 2-unit reservation under the flash-sale cap to succeed")
	}
	if ok := e.TryReserve("sku-1", 1, "r2", "cust-1", "order-2", time.Minute); ok {
		t.Fatal("expected reservation exceeding the cumulative flash-sale cap of 2 to be rejected")
	}
}

func TestRelease_RestoresStockAndLedger(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 10)
	e.SetFlashSaleProducts([]string{"sku-1"})

	e.TryReserve("sku-1", 2, "r1", "cust-1", "order-1", time.Minute)
	e.Release("r1")

	if got := e.GetStock("sku-1"); got != 10 {
		t.Fatalf("expected stock restored to 10, got %d", got)
	}
	// Ledger should also be cleared, allowing a fresh 2-unit reservation.
	if ok := e.TryReserve("sku-1", 2, "r2", "cust-1", "order-2", time.Minute); !ok {
		t.Fatal("expected flash-sale ledger to be cleared after release")
	}
}

func TestReleaseByOrder_ReleasesEveryLineItem(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 10)
	e.SetStock("sku-2", 10)

	e.TryReserve("sku-1", 2, "r1", "cust-1", "order-1", time.Minute)
	e.TryReserve("sku-2", 3, "r2", "cust-1", "order-1", time.Minute)

	e.ReleaseByOrder("order-1")

	if got := e.GetStock("sku-1"); got != 10 {
		t.Fatalf("expected sku-1 fully released, got %d", got)
	}
	if got := e.GetStock("sku-2"); got != 10 {
		t.Fatalf("expected sku-2 fully released, got %d", got)
	}
}

func TestReleaseExpired_SweepsPastDeadlineOnly(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 10)

	e.TryReserve("sku-1", 2, "expired", "cust-1", "order-1", -time.Second)
	e.TryReserve("sku-1", 2, "live", "cust-1", "order-2", time.Hour)

	n := e.ReleaseExpired()
	if n != 1 {
		t.Fatalf("expected exactly 1 expired reservation swept, got %d", n)
	}
	if got := e.GetStock("sku-1"); got != 8 {
		t.Fatalf("expected only the expired reservation's stock returned, got %d", got)
	}
}

func TestTryReserve_ConcurrentCallsNeverOversell(t *testing.T) {
	e := newTestEngine()
	e.SetStock("sku-1", 20)

	var wg sync.WaitGroup
	var successCount int
	var mu sync.Mutex

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok := e.TryReserve("sku-1", 1, reservationID(i), "", "", time.Minute)
			if ok {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if successCount != 20 {
		t.Fatalf("expected exactly 20 reservations to succeed against 20 units of stock, got %d", successCount)
	}
	if got := e.GetStock("sku-1"); got != 0 {
		t.Fatalf("expected stock fully exhausted, got %d", got)
	}
}

func reservationID(i int) string {
	const letters = "0123456789abcdef"
	b := make([]byte, 8)
	for j := range b {
		b[j] = letters[(i+j)%len(letters)]
	}
	return string(b)
}
