// Package saga holds the four cooperating consumers that carry the
// order through Pending -> Confirmed/Cancelled -> Shipped -> Delivered:
// Reservation, Payment, Status Updater and Refund.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/inventory"
	"github.com/hilmist/OrderService/internal/metrics"
	"github.com/hilmist/OrderService/internal/redisx"
	"github.com/hilmist/OrderService/internal/store"
)

// ReservationConsumer implements 4.E: on order.created it tries to
// reserve every line item, stopping at first failure and releasing
// whatever it already held; on stock.released it releases the whole
// order.
type ReservationConsumer struct {
	Engine      *inventory.Engine
	Cache       *inventory.Cache
	Projection  *store.ReservationProjection
	Redis       *redis.Client
	Reserved    *bus.Producer // publishes stock.reserved
	Failed      *bus.Producer // publishes stock.failed
	ServiceName string
	InventoryTTL time.Duration
	Log         *zap.Logger
}

// HandleOrderCreated is the order.created subscription.
func (c *ReservationConsumer) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	var env bus.Envelope
	if err := bus.UnmarshalEnvelope(m.Value, &env); err != nil {
		return bus.Permanent(err, "bad_envelope")
	}
	if env.EventType != bus.EventOrderCreated {
		return nil
	}

	// Redis dedup is a fast-path filter layered on top of the engine's
	// own idempotent-key set; a miss or absence never changes
	// correctness, it only avoids redundant lock acquisition under
	// heavy redelivery.
	dkey := fmt.Sprintf(redisx.KeyDedup, "reservation", env.EventID)
	if exists, _ := redisx.Exists(ctx, c.Redis, dkey); exists {
		return nil
	}

	payload, err := bus.UnwrapPayload[bus.OrderCreatedPayload](env.Payload)
	if err != nil {
		return bus.Permanent(err, "bad_payload")
	}

	ttl := c.InventoryTTL
	if ttl <= 0 {
		ttl = 600 * time.Second
	}

	var held []string
	failed := false
	for _, item := range payload.Items {
		reservationID := uuid.NewString()
		ok := c.Engine.TryReserve(item.ProductID, item.Qty, reservationID, payload.CustomerID, payload.OrderID, ttl)
		if !ok {
			failed = true
			break
		}
		held = append(held, reservationID)
		c.Projection.RecordReserved(ctx, reservationID, payload.OrderID, item.ProductID, item.Qty)
		c.Cache.Invalidate(ctx, item.ProductID)
	}

	_ = c.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()

	if failed {
		for _, id := range held {
			c.Engine.Release(id)
			c.Projection.RecordReleased(ctx, id)
		}
		metrics.ReservationOutcomes.WithLabelValues("rejected").Inc()
		return c.publishFailed(ctx, payload.OrderID, "insufficient_stock", env.TraceID)
	}
	metrics.ReservationOutcomes.WithLabelValues("reserved").Inc()
	return c.publishReserved(ctx, payload.OrderID, payload.Total, env.TraceID)
}

// HandleStockReleased is the independent stock.released subscription.
func (c *ReservationConsumer) HandleStockReleased(ctx context.Context, m kafkago.Message) error {
	var env bus.Envelope
	if err := bus.UnmarshalEnvelope(m.Value, &env); err != nil {
		return bus.Permanent(err, "bad_envelope")
	}
	if env.EventType != bus.EventStockReleased {
		return nil
	}
	payload, err := bus.UnwrapPayload[bus.StockReleasedPayload](env.Payload)
	if err != nil {
		return bus.Permanent(err, "bad_payload")
	}
	c.Engine.ReleaseByOrder(payload.OrderID)
	c.Projection.RecordReleasedByOrder(ctx, payload.OrderID)
	return nil
}

func (c *ReservationConsumer) publishReserved(ctx context.Context, orderID string, total int64, trace string) error {
	env := bus.Envelope{
		EventID:       uuid.NewString(),
		EventType:     bus.EventStockReserved,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.StockReservedPayload{
			OrderID: orderID, Total: total, ReservedAt: time.Now().UTC(),
		}),
	}
	return c.Reserved.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventStockReserved)},
	)
}

func (c *ReservationConsumer) publishFailed(ctx context.Context, orderID, reason, trace string) error {
	env := bus.Envelope{
		EventID:       uuid.NewString(),
		EventType:     bus.EventStockFailed,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      c.ServiceName,
		TraceID:       trace,
		CorrelationID: orderID,
		Payload:       bus.MustMarshal(bus.StockFailedPayload{OrderID: orderID, Reason: reason}),
	}
	return c.Failed.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventStockFailed)},
	)
}
