package bus

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	EventOrderCreated     = "order.created"
	EventStockReserved    = "stock.reserved"
	EventStockFailed      = "stock.failed"
	EventStockReleased    = "stock.released"
	EventPaymentProcessed = "payment.processed"
	EventPaymentFailed    = "payment.failed"
	EventOrderCancelled   = "order.cancelled"
	EventOrderShipped     = "order.shipped"
	EventOrderDelivered   = "order.delivered"
	EventRefundProcessed  = "refund.processed"
	EventRefundFailed     = "refund.failed"
)

// Envelope wraps every published message. orderId is always the
// first field of the wire payload, matching the required-first-field
// rule on event bodies.
type Envelope struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	EventVersion  int             `json:"eventVersion"`
	OccurredAt    time.Time       `json:"occurredAt"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"traceId,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

type ItemQty struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

type ItemPrice struct {
	ProductID     string `json:"productId"`
	Qty           int    `json:"qty"`
	UnitPriceCents int64 `json:"unitPriceCents"`
}

type OrderCreatedPayload struct {
	OrderID    string      `json:"orderId"`
	CustomerID string      `json:"customerId"`
	Total      int64       `json:"totalCents"`
	Items      []ItemPrice `json:"items"`
}

type StockReservedPayload struct {
	OrderID    string    `json:"orderId"`
	Total      int64     `json:"totalCents"`
	ReservedAt time.Time `json:"reservedAt"`
}

type StockFailedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type StockReleasedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type PaymentProcessedPayload struct {
	OrderID    string `json:"orderId"`
	PaymentRef string `json:"paymentRef"`
}

type PaymentFailedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

type OrderTerminalPayload struct {
	OrderID string    `json:"orderId"`
	At      time.Time `json:"at"`
	Reason  string    `json:"reason,omitempty"`
}

type RefundProcessedPayload struct {
	OrderID string `json:"orderId"`
}

type RefundFailedPayload struct {
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func MustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func UnmarshalEnvelope(b []byte, out *Envelope) error {
	return json.Unmarshal(b, out)
}

// UnwrapPayload decodes an envelope's raw payload into T.
func UnwrapPayload[T any](payload json.RawMessage) (T, error) {
	var t T
	if err := json.Unmarshal(payload, &t); err != nil {
		return t, fmt.Errorf("decode payload: %w", err)
	}
	return t, nil
}
