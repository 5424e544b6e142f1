// Package inventory implements the concurrent, policy-enforcing
// reservation store described by the design: per-product locking, TTL
// expiry, idempotent reservation keys, the 50%-of-available rule,
// flash-sale per-customer caps, and low-stock signalling. State lives
// process-wide for the lifetime of the owning worker; it is never
// persisted directly (see internal/store for the read-only audit
// projection written alongside it).
package inventory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/metrics"
)

const lowStockThreshold = 10

type Reservation struct {
	ReservationID string
	OrderID       string
	ProductID     string
	Qty           int
	CustomerID    string
	ExpiresAt     time.Time
}

// productState holds everything about one product that a reservation
// decision needs, guarded by its own mu and nothing else. No field
// here is ever read or written without mu held, so there is no
// second, coarser lock anywhere in the package: two different
// products' productState values can be mutated concurrently with zero
// contention between them.
type productState struct {
	mu sync.Mutex

	stock     int
	flashSale bool
	ledger    map[string]int          // customerID -> cumulative reserved qty
	idemKeys  map[string]struct{}     // orderID -> already reserved for this product
	reserves  map[string]*Reservation // reservationID -> reservation
}

func newProductState() *productState {
	return &productState{
		ledger:   make(map[string]int),
		idemKeys: make(map[string]struct{}),
		reserves: make(map[string]*Reservation),
	}
}

// Engine is the single process-wide reservation store. All reserve and
// release sequences for a given product run inside that product's own
// productState.mu; cross-product calls acquire one product's lock at a
// time and never hold two simultaneously. The index below exists only
// because Release/ReleaseByOrder are addressed by reservation or order
// id rather than by product: it is a short-lived bookkeeping lookup,
// held only long enough to read or update a map entry, never across a
// policy check or a stock mutation.
type Engine struct {
	log *zap.Logger

	mapsMu   sync.Mutex // guards creation of productState entries only
	products map[string]*productState

	indexMu            sync.Mutex
	reservationProduct map[string]string   // reservationID -> productID
	orderReservations  map[string][]string // orderID -> reservationIDs
}

func NewEngine(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		log:                log,
		products:           make(map[string]*productState),
		reservationProduct: make(map[string]string),
		orderReservations:  make(map[string][]string),
	}
}

// product returns the productState for id, lazily creating it. The
// value itself is never removed once created, so handing it out after
// unlocking mapsMu is always safe.
func (e *Engine) product(id string) *productState {
	e.mapsMu.Lock()
	defer e.mapsMu.Unlock()
	ps, ok := e.products[id]
	if !ok {
		ps = newProductState()
		e.products[id] = ps
	}
	return ps
}

// TryReserve atomically checks policy, decrements stock and records
// the reservation. It never panics or returns an error: every policy
// violation simply returns false with stock unchanged.
func (e *Engine) TryReserve(product string, qty int, reservationID, customerID, orderID string, ttl time.Duration) bool {
	ps := e.product(product)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if orderID != "" {
		if _, seen := ps.idemKeys[orderID]; seen {
			return true // at-least-once redelivery, no side effect
		}
	}
	if qty <= 0 {
		return false
	}

	available := ps.stock

	if orderID != "" {
		maxAllowed := available / 2
		if maxAllowed < 1 {
			maxAllowed = 1
		}
		if qty > maxAllowed {
			return false
		}
	}

	isFlash := false
	if ps.flashSale && customerID != "" {
		isFlash = true
		if ps.ledger[customerID]+qty > 2 {
			return false
		}
	}

	if available < qty {
		return false
	}

	ps.stock = available - qty
	r := &Reservation{
		ReservationID: reservationID,
		OrderID:       orderID,
		ProductID:     product,
		Qty:           qty,
		CustomerID:    customerID,
		ExpiresAt:     time.Now().Add(ttl),
	}
	ps.reserves[reservationID] = r
	if orderID != "" {
		ps.idemKeys[orderID] = struct{}{}
	}
	if isFlash {
		ps.ledger[customerID] += qty
	}

	if ps.stock < lowStockThreshold {
		e.log.Warn("low stock signal", zap.String("product", product), zap.Int("available", ps.stock))
	}

	e.indexMu.Lock()
	e.reservationProduct[reservationID] = product
	if orderID != "" {
		e.orderReservations[orderID] = append(e.orderReservations[orderID], reservationID)
	}
	e.indexMu.Unlock()
	return true
}

// releaseLocked assumes the caller already holds ps.mu and that r
// belongs to ps.
func releaseLocked(ps *productState, r *Reservation) {
	ps.stock += r.Qty
	delete(ps.reserves, r.ReservationID)
	if r.OrderID != "" {
		delete(ps.idemKeys, r.OrderID)
	}
	if ps.flashSale && r.CustomerID != "" {
		ps.ledger[r.CustomerID] -= r.Qty
		if ps.ledger[r.CustomerID] < 0 {
			ps.ledger[r.CustomerID] = 0
		}
	}
}

// Release returns the reservation's stock, decrements the customer
// ledger and clears the idempotent key so a future retry may reserve
// again. A no-op if the key is missing.
func (e *Engine) Release(reservationID string) {
	e.indexMu.Lock()
	productID, ok := e.reservationProduct[reservationID]
	e.indexMu.Unlock()
	if !ok {
		return
	}

	ps := e.product(productID)
	ps.mu.Lock()
	r, still := ps.reserves[reservationID]
	if !still {
		ps.mu.Unlock()
		return
	}
	releaseLocked(ps, r)
	ps.mu.Unlock()

	e.indexMu.Lock()
	delete(e.reservationProduct, reservationID)
	if r.OrderID != "" {
		ids := e.orderReservations[r.OrderID]
		for i, id := range ids {
			if id == reservationID {
				e.orderReservations[r.OrderID] = append(ids[:i], ids[i+1:]...)
				break
			}
		}
	}
	e.indexMu.Unlock()
}

// ReleaseByOrder releases every reservation associated with orderID.
func (e *Engine) ReleaseByOrder(orderID string) {
	e.indexMu.Lock()
	ids := append([]string(nil), e.orderReservations[orderID]...)
	e.indexMu.Unlock()
	for _, id := range ids {
		e.Release(id)
	}
}

// ReleaseExpired sweeps every reservation whose deadline has passed.
// It snapshots each product's reservations under that product's own
// lock, one product at a time, so the sweep never holds more than one
// lock at once.
func (e *Engine) ReleaseExpired() int {
	now := time.Now()

	e.mapsMu.Lock()
	products := make([]*productState, 0, len(e.products))
	for _, ps := range e.products {
		products = append(products, ps)
	}
	e.mapsMu.Unlock()

	var expired []*Reservation
	for _, ps := range products {
		ps.mu.Lock()
		for _, r := range ps.reserves {
			if !r.ExpiresAt.After(now) {
				expired = append(expired, r)
			}
		}
		ps.mu.Unlock()
	}

	for _, r := range expired {
		e.Release(r.ReservationID)
		metrics.ReservationOutcomes.WithLabelValues("expired").Inc()
	}
	if len(expired) > 0 {
		e.log.Info("ttl sweep released reservations", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// StartSweeper runs ReleaseExpired every interval until ctx is done.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.ReleaseExpired()
		}
	}
}

func (e *Engine) CheckAvailability(products []string) map[string]int {
	out := make(map[string]int, len(products))
	for _, p := range products {
		out[p] = e.GetStock(p)
	}
	return out
}

func (e *Engine) GetStock(product string) int {
	ps := e.product(product)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.stock
}

func (e *Engine) SetStock(product string, qty int) {
	ps := e.product(product)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.stock = qty
}

func (e *Engine) BulkSet(stock map[string]int) {
	for p, q := range stock {
		e.SetStock(p, q)
	}
}

// SetFlashSaleProducts replaces the flash-sale set. Every existing
// product is visited once to clear or set its flag, then every
// requested product not seen yet is created and flagged; each visit
// takes and releases that product's own lock in turn, never more than
// one at a time.
func (e *Engine) SetFlashSaleProducts(products []string) {
	want := make(map[string]struct{}, len(products))
	for _, p := range products {
		want[p] = struct{}{}
	}

	e.mapsMu.Lock()
	existing := make([]string, 0, len(e.products))
	for id := range e.products {
		existing = append(existing, id)
	}
	e.mapsMu.Unlock()

	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
		_, inWant := want[id]
		ps := e.product(id)
		ps.mu.Lock()
		ps.flashSale = inWant
		ps.mu.Unlock()
	}
	for id := range want {
		if _, already := seen[id]; already {
			continue
		}
		ps := e.product(id)
		ps.mu.Lock()
		ps.flashSale = true
		ps.mu.Unlock()
	}
}
