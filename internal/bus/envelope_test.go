package bus

import (
	"testing"
	"time"
)

func TestUnwrapPayload_RoundTrips(t *testing.T) {
	env := Envelope{
		EventID:    "evt-1",
		EventType:  EventOrderCreated,
		OccurredAt: time.Now().UTC(),
		Payload: MustMarshal(OrderCreatedPayload{
			OrderID:    "order-1",
			CustomerID: "cust-1",
			Total:      25000,
			Items:      []ItemPrice{{ProductID: "sku-1", Qty: 2, UnitPriceCents: 12500}},
		}),
	}

	raw := MustMarshal(env)
	var decoded Envelope
	if err := UnmarshalEnvelope(raw, &decoded); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if decoded.EventType != EventOrderCreated {
		t.Fatalf("expected event type %s, got %s", EventOrderCreated, decoded.EventType)
	}

	payload, err := UnwrapPayload[OrderCreatedPayload](decoded.Payload)
	if err != nil {
		t.Fatalf("unwrap payload: %v", err)
	}
	if payload.OrderID != "order-1" || payload.Total != 25000 {
		t.Fatalf("unexpected payload after round trip: %+v", payload)
	}
	if len(payload.Items) != 1 || payload.Items[0].ProductID != "sku-1" {
		t.Fatalf("unexpected items after round trip: %+v", payload.Items)
	}
}

func TestDLQTopic_AppendsSuffix(t *testing.T) {
	if got := DLQTopic("order.created"); got != "order.created.dlq" {
		t.Fatalf("expected order.created.dlq, got %s", got)
	}
}

func TestPartitionKey_IsStableForSameOrder(t *testing.T) {
	a := PartitionKey("order-1")
	b := PartitionKey("order-1")
	if string(a) != string(b) {
		t.Fatalf("expected stable partition key for the same order id")
	}
}
