package domain

import (
	"errors"
	"testing"
	"time"
)

func item(qty int, priceCents int64) OrderItem {
	return OrderItem{ProductID: "sku-1", Quantity: qty, UnitPrice: NewMoney(priceCents, "USD")}
}

func TestNewOrder_ValidatesItemCount(t *testing.T) {
	if _, err := NewOrder("cust-1", nil, "USD"); err == nil {
		t.Fatal("expected error for zero items")
	}

	items := make([]OrderItem, 21)
	for i := range items {
		items[i] = item(1, 10000)
	}
	if _, err := NewOrder("cust-1", items, "USD"); err == nil {
		t.Fatal("expected error for more than 20 items")
	}
}

func TestNewOrder_ValidatesTotalBounds(t *testing.T) {
	if _, err := NewOrder("cust-1", []OrderItem{item(1, 100)}, "USD"); err == nil {
		t.Fatal("expected error for total below minimum")
	}
	if _, err := NewOrder("cust-1", []OrderItem{item(1, 6_000_000)}, "USD"); err == nil {
		t.Fatal("expected error for total above maximum")
	}
}

func TestNewOrder_ComputesTotalFromItems(t *testing.T) {
	o, err := NewOrder("cust-1", []OrderItem{item(2, 10000), item(1, 5000)}, "USD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.TotalAmount.Cents != 25000 {
		t.Fatalf("expected total 25000, got %d", o.TotalAmount.Cents)
	}
	if o.Status != StatusPending {
		t.Fatalf("expected Pending status, got %s", o.Status)
	}
}

func TestOrder_ConfirmRequiresPending(t *testing.T) {
	o, _ := NewOrder("cust-1", []OrderItem{item(1, 10000)}, "USD")
	if err := o.Confirm(); err != nil {
		t.Fatalf("unexpected error confirming pending order: %v", err)
	}
	if err := o.Confirm(); err == nil {
		t.Fatal("expected error confirming an already-confirmed order")
	}
}

func TestOrder_CancelRejectsOutsideWindow(t *testing.T) {
	o, _ := NewOrder("cust-1", []OrderItem{item(1, 10000)}, "USD")
	o.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)

	err := o.Cancel("changed my mind")
	if err == nil {
		t.Fatal("expected cancellation window error")
	}
	var re *RuleError
	if !errors.As(err, &re) || re.Kind != KindCancellationWindowExceeded {
		t.Fatalf("expected KindCancellationWindowExceeded, got %v", err)
	}
}

func TestOrder_CancelAllowedFromConfirmed(t *testing.T) {
	o, _ := NewOrder("cust-1", []OrderItem{item(1, 10000)}, "USD")
	if err := o.Confirm(); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := o.Cancel("out of stock"); err != nil {
		t.Fatalf("cancel from confirmed should succeed: %v", err)
	}
	if o.Status != StatusCancelled {
		t.Fatalf("expected Cancelled, got %s", o.Status)
	}
}

func TestOrder_ShipRequiresConfirmed(t *testing.T) {
	o, _ := NewOrder("cust-1", []OrderItem{item(1, 10000)}, "USD")
	if err := o.MarkShipped(); err == nil {
		t.Fatal("expected error shipping a pending order")
	}
	_ = o.Confirm()
	if err := o.MarkShipped(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOrder_DeliverRequiresShipped(t *testing.T) {
	o, _ := NewOrder("cust-1", []OrderItem{item(1, 10000)}, "USD")
	_ = o.Confirm()
	if err := o.MarkDelivered(); err == nil {
		t.Fatal("expected error delivering an unshipped order")
	}
	_ = o.MarkShipped()
	if err := o.MarkDelivered(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Status != StatusDelivered {
		t.Fatalf("expected Delivered, got %s", o.Status)
	}
}

func TestRoundHalfAwayFromZero(t *testing.T) {
	cases := map[float64]int64{
		10.5:  11,
		10.4:  10,
		-10.5: -11,
		0.5:   1,
	}
	for in, want := range cases {
		if got := RoundHalfAwayFromZero(in); got != want {
			t.Errorf("RoundHalfAwayFromZero(%v) = %d, want %d", in, got, want)
		}
	}
}
