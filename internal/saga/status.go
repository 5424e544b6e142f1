package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/domain"
	"github.com/hilmist/OrderService/internal/retry"
	"github.com/hilmist/OrderService/internal/store"
)

// StatusConsumer implements 4.G: three subscriptions, each idempotent
// with respect to the order's current status, mutating the order
// aggregate and, on the cancel path, emitting stock.released.
type StatusConsumer struct {
	Orders      *store.OrderStore
	Released    *bus.Producer
	ServiceName string
	Log         *zap.Logger
}

var conflictRetry = retry.Policy{
	MaxAttempts: 3,
	Backoff:     retry.ExponentialBackoff(50*time.Millisecond, 500*time.Millisecond, 50*time.Millisecond),
	Retryable: func(err error) bool {
		var re *domain.RuleError
		return errors.As(err, &re) && re.Kind == domain.KindOptimisticConflict
	},
}

func (c *StatusConsumer) HandlePaymentProcessed(ctx context.Context, m kafkago.Message) error {
	_, payload, err := decode[bus.PaymentProcessedPayload](m, bus.EventPaymentProcessed)
	if err != nil || payload == nil {
		return err
	}
	return conflictRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		order, err := c.Orders.Get(ctx, payload.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Log.Warn("payment.processed for unknown order", zap.String("order_id", payload.OrderID))
				return nil
			}
			return err
		}
		if order.Status == domain.StatusConfirmed {
			return nil
		}
		if err := order.Confirm(); err != nil {
			var re *domain.RuleError
			if errors.As(err, &re) {
				return nil // already past Pending; idempotent no-op
			}
			return err
		}
		return c.Orders.Save(ctx, order)
	})
}

func (c *StatusConsumer) HandlePaymentFailed(ctx context.Context, m kafkago.Message) error {
	env, payload, err := decode[bus.PaymentFailedPayload](m, bus.EventPaymentFailed)
	if err != nil || payload == nil {
		return err
	}
	cancelled := false
	retryErr := conflictRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		order, err := c.Orders.Get(ctx, payload.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Log.Warn("payment.failed for unknown order", zap.String("order_id", payload.OrderID))
				return nil
			}
			return err
		}
		if order.Status == domain.StatusCancelled {
			return nil
		}
		if err := order.Cancel("payment_failed"); err != nil {
			var re *domain.RuleError
			if errors.As(err, &re) {
				return nil
			}
			return err
		}
		if err := c.Orders.Save(ctx, order); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if retryErr != nil {
		return retryErr
	}
	if !cancelled {
		return nil
	}
	return c.publishReleased(ctx, payload.OrderID, "payment_failed", env.TraceID)
}

func (c *StatusConsumer) HandleStockFailed(ctx context.Context, m kafkago.Message) error {
	_, payload, err := decode[bus.StockFailedPayload](m, bus.EventStockFailed)
	if err != nil || payload == nil {
		return err
	}
	return conflictRetry.Do(ctx, func(ctx context.Context, attempt int) error {
		order, err := c.Orders.Get(ctx, payload.OrderID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.Log.Warn("stock.failed for unknown order", zap.String("order_id", payload.OrderID))
				return nil
			}
			return err
		}
		if order.Status == domain.StatusConfirmed || order.Status == domain.StatusCancelled {
			return nil
		}
		if err := order.Cancel("inventory_failed"); err != nil {
			var re *domain.RuleError
			if errors.As(err, &re) {
				return nil
			}
			return err
		}
		return c.Orders.Save(ctx, order)
	})
}

func (c *StatusConsumer) publishReleased(ctx context.Context, orderID, reason, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventStockReleased, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.StockReleasedPayload{OrderID: orderID, Reason: reason}),
	}
	return c.Released.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventStockReleased)},
	)
}

// decode centralizes envelope+payload decoding for the three
// subscriptions above, returning a nil payload and a nil error when
// the event type doesn't match (the handler simply has nothing to do).
func decode[T any](m kafkago.Message, wantType string) (*bus.Envelope, *T, error) {
	var env bus.Envelope
	if err := bus.UnmarshalEnvelope(m.Value, &env); err != nil {
		return nil, nil, bus.Permanent(err, "bad_envelope")
	}
	if env.EventType != wantType {
		return &env, nil, nil
	}
	p, err := bus.UnwrapPayload[T](env.Payload)
	if err != nil {
		return &env, nil, bus.Permanent(err, "bad_payload")
	}
	return &env, &p, nil
}
