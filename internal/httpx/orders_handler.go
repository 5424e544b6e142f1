package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/domain"
	"github.com/hilmist/OrderService/internal/idempotency"
	"github.com/hilmist/OrderService/internal/redisx"
	"github.com/hilmist/OrderService/internal/store"
)

type ItemInput struct {
	ProductID      string `json:"productId"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unitPriceCents"`
}

type CreateOrderReq struct {
	CustomerID string      `json:"customerId"`
	Currency   string      `json:"currency,omitempty"`
	Items      []ItemInput `json:"items"`
}

type CancelReq struct {
	Reason string `json:"reason,omitempty"`
}

type OrderDTO struct {
	ID         string `json:"id"`
	CustomerID string `json:"customerId"`
	Status     string `json:"status"`
	TotalCents int64  `json:"totalCents"`
	CreatedAt  string `json:"createdAt"`
}

func toDTO(o *domain.Order) OrderDTO {
	return OrderDTO{
		ID: o.ID, CustomerID: o.CustomerID, Status: string(o.Status),
		TotalCents: o.TotalAmount.Cents, CreatedAt: o.CreatedAt.Format(time.RFC3339),
	}
}

// OrdersHandler implements 4.I (create) and 4.J (cancel/ship/deliver).
type OrdersHandler struct {
	Orders      *store.OrderStore
	Idempotency *idempotency.Store
	Redis       *redis.Client
	Cancelled   *bus.Producer
	Shipped     *bus.Producer
	Delivered   *bus.Producer
	ServiceName string
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Post("/orders/{id}/ship", h.shipOrder)
	r.Post("/orders/{id}/deliver", h.deliverOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRuleError(w http.ResponseWriter, err error) bool {
	var re *domain.RuleError
	if !errors.As(err, &re) {
		return false
	}
	code := http.StatusBadRequest
	if re.Kind == domain.KindIllegalTransition || re.Kind == domain.KindCancellationWindowExceeded || re.Kind == domain.KindOptimisticConflict {
		code = http.StatusConflict
	}
	writeJSON(w, code, map[string]string{"error": string(re.Kind), "message": re.Message})
	return true
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: it.ProductID, Quantity: it.Qty,
			UnitPrice: domain.NewMoney(it.UnitPriceCents, req.Currency),
		})
	}

	order, err := domain.NewOrder(req.CustomerID, items, req.Currency)
	if err != nil {
		if writeRuleError(w, err) {
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	idemKeyHeader := r.Header.Get("Idempotency-Key")
	candidateID := uuid.NewString()

	if idemKeyHeader != "" {
		redisKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, idemKeyHeader)

		// Redis fast path: a hit here skips the Postgres round trip
		// entirely. A miss (absent or expired key) is never treated as
		// "not a duplicate" — Postgres via TryInsert is still the
		// authoritative check that follows.
		if cachedID, err := h.Redis.Get(ctx, redisKey).Result(); err == nil && cachedID != "" {
			existing, err := h.Orders.Get(ctx, cachedID)
			if err == nil {
				writeJSON(w, http.StatusOK, toDTO(existing))
				return
			}
		}

		actualID, err := h.Idempotency.TryInsert(ctx, idemKeyHeader, candidateID)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		_ = h.Redis.Set(ctx, redisKey, actualID, redisx.TTLIdempotency).Err()
		if actualID != candidateID {
			existing, err := h.Orders.Get(ctx, actualID)
			if err != nil {
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, toDTO(existing))
			return
		}
	}
	order.ID = candidateID

	outboxPayload := bus.MustMarshal(bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventOrderCreated, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: h.ServiceName, CorrelationID: order.ID,
		Payload: bus.MustMarshal(bus.OrderCreatedPayload{
			OrderID: order.ID, CustomerID: order.CustomerID, Total: order.TotalAmount.Cents,
			Items: toItemPrices(items),
		}),
	})

	orderID, err := h.Orders.CreateWithOutbox(ctx, order, outboxPayload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, `{"status":"PENDING"}`, redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusAccepted, toDTO(order))
}

func toItemPrices(items []domain.OrderItem) []bus.ItemPrice {
	out := make([]bus.ItemPrice, 0, len(items))
	for _, it := range items {
		out = append(out, bus.ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, UnitPriceCents: it.UnitPrice.Cents})
	}
	return out
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	order, err := h.Orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, toDTO(order))
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req CancelReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err := order.Cancel(req.Reason); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.Orders.Save(ctx, order); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.publishTerminal(ctx, h.Cancelled, bus.EventOrderCancelled, order.ID, req.Reason); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order cancelled but event publish failed"})
		return
	}
	writeJSON(w, http.StatusOK, toDTO(order))
}

func (h *OrdersHandler) shipOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err := order.MarkShipped(); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.Orders.Save(ctx, order); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.publishTerminal(ctx, h.Shipped, bus.EventOrderShipped, order.ID, ""); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order shipped but event publish failed"})
		return
	}
	writeJSON(w, http.StatusOK, toDTO(order))
}

func (h *OrdersHandler) deliverOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	order, err := h.Orders.Get(ctx, id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err := order.MarkDelivered(); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.Orders.Save(ctx, order); err != nil {
		writeRuleError(w, err)
		return
	}
	if err := h.publishTerminal(ctx, h.Delivered, bus.EventOrderDelivered, order.ID, ""); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order delivered but event publish failed"})
		return
	}
	writeJSON(w, http.StatusOK, toDTO(order))
}

// publishTerminal publishes a cancel/ship/deliver event synchronously,
// with no outbox to fall back on: a BusPublishError here is
// propagated to the caller rather than swallowed, since the state
// transition it reports has no other path to downstream consumers
// (the Refund Consumer, in particular, never runs without
// order.cancelled).
func (h *OrdersHandler) publishTerminal(ctx context.Context, p *bus.Producer, eventType, orderID, reason string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: eventType, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: h.ServiceName, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.OrderTerminalPayload{OrderID: orderID, At: time.Now().UTC(), Reason: reason}),
	}
	return p.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
	)
}
