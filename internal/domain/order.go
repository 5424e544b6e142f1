package domain

import "time"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusShipped   Status = "SHIPPED"
	StatusDelivered Status = "DELIVERED"
)

// cancellationWindow is how long after creation an order may still be
// cancelled; exceeding it surfaces CancellationWindowExceeded.
const cancellationWindow = 2 * time.Hour

const (
	minItems  = 1
	maxItems  = 20
	minTotal  = 10000  // 100.00 in cents
	maxTotal  = 5000000 // 50 000.00 in cents
)

type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Quantity   int
	UnitPrice  Money
}

func (it OrderItem) LineTotal() Money {
	return it.UnitPrice.Mul(it.Quantity)
}

// Order is the durable aggregate root. Every state transition is a
// method below; outside the package, Status is only assigned when the
// store loads a persisted order.
type Order struct {
	ID            string
	CustomerID    string
	Status        Status
	CreatedAt     time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
	ShippedAt     *time.Time
	DeliveredAt   *time.Time
	CancelReason  string
	TotalAmount   Money
	RowVersion    int
	Items         []OrderItem
}

// NewOrder validates the invariants spec'd for order creation and
// returns a Pending order with totals computed from its items.
func NewOrder(customerID string, items []OrderItem, currency string) (*Order, error) {
	if len(items) < minItems || len(items) > maxItems {
		return nil, NewRuleError(KindValidation, "item count must be between 1 and 20")
	}
	var total int64
	for i := range items {
		if items[i].Quantity <= 0 {
			return nil, NewRuleError(KindValidation, "item quantity must be positive")
		}
		total += items[i].LineTotal().Cents
	}
	if total < minTotal || total > maxTotal {
		return nil, NewRuleError(KindValidation, "total amount out of bounds")
	}
	now := time.Now().UTC()
	return &Order{
		ID:          "", // assigned by the store on persistence
		CustomerID:  customerID,
		Status:      StatusPending,
		CreatedAt:   now,
		TotalAmount: NewMoney(total, currency),
		RowVersion:  0,
		Items:       items,
	}, nil
}

func (o *Order) withinCancellationWindow(now time.Time) bool {
	return now.Sub(o.CreatedAt) <= cancellationWindow
}

// Confirm: Pending -> Confirmed.
func (o *Order) Confirm() error {
	if o.Status != StatusPending {
		return NewRuleError(KindIllegalTransition, "confirm requires Pending status")
	}
	now := time.Now().UTC()
	o.Status = StatusConfirmed
	o.ConfirmedAt = &now
	return nil
}

// Cancel: Pending|Confirmed -> Cancelled, guarded by the cancellation
// window measured from creation.
func (o *Order) Cancel(reason string) error {
	if o.Status != StatusPending && o.Status != StatusConfirmed {
		return NewRuleError(KindIllegalTransition, "cancel requires Pending or Confirmed status")
	}
	now := time.Now().UTC()
	if !o.withinCancellationWindow(now) {
		return NewRuleError(KindCancellationWindowExceeded, "cancellation window elapsed")
	}
	if len(reason) > 200 {
		reason = reason[:200]
	}
	o.Status = StatusCancelled
	o.CancelledAt = &now
	o.CancelReason = reason
	return nil
}

// MarkShipped: Confirmed -> Shipped.
func (o *Order) MarkShipped() error {
	if o.Status != StatusConfirmed {
		return NewRuleError(KindIllegalTransition, "ship requires Confirmed status")
	}
	now := time.Now().UTC()
	o.Status = StatusShipped
	o.ShippedAt = &now
	return nil
}

// MarkDelivered: Shipped -> Delivered.
func (o *Order) MarkDelivered() error {
	if o.Status != StatusShipped {
		return NewRuleError(KindIllegalTransition, "deliver requires Shipped status")
	}
	now := time.Now().UTC()
	o.Status = StatusDelivered
	o.DeliveredAt = &now
	return nil
}
