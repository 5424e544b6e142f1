package saga

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/metrics"
	"github.com/hilmist/OrderService/internal/retry"
)

var (
	errRefundTimeout  = errors.New("refund timeout")
	errRefundDeclined = errors.New("refund declined")
)

// RefundConsumer implements 4.H: on order.cancelled it runs a retrying
// refund operation (95% success / 3% timeout / 2% declined per
// attempt) and emits refund.processed + stock.released on eventual
// success, or refund.failed on exhaustion.
type RefundConsumer struct {
	Processed   *bus.Producer
	Failed      *bus.Producer
	Released    *bus.Producer
	ServiceName string
	Log         *zap.Logger
}

// refundBackoff renders "200ms*2^(n-1) + rand(0..100)ms" directly,
// since the generic ExponentialBackoff helper's jitter is uniform over
// [0, jitter) which matches the 0..100ms term exactly.
var refundBackoff = retry.ExponentialBackoff(200*time.Millisecond, 1600*time.Millisecond, 100*time.Millisecond)

func simulateRefund() error {
	roll := rand.Float64()
	switch {
	case roll < 0.95:
		return nil
	case roll < 0.98:
		return errRefundTimeout
	default:
		return errRefundDeclined
	}
}

func (c *RefundConsumer) HandleOrderCancelled(ctx context.Context, m kafkago.Message) error {
	var env bus.Envelope
	if err := bus.UnmarshalEnvelope(m.Value, &env); err != nil {
		return bus.Permanent(err, "bad_envelope")
	}
	if env.EventType != bus.EventOrderCancelled {
		return nil
	}
	payload, err := bus.UnwrapPayload[bus.OrderTerminalPayload](env.Payload)
	if err != nil {
		return bus.Permanent(err, "bad_payload")
	}

	policy := retry.Policy{
		MaxAttempts: 3,
		Backoff:     refundBackoff,
		Retryable:   func(err error) bool { return errors.Is(err, errRefundTimeout) },
	}
	refundErr := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		return simulateRefund()
	})

	if refundErr == nil {
		metrics.RefundOutcomes.WithLabelValues("processed").Inc()
		if err := c.publishProcessed(ctx, payload.OrderID, env.TraceID); err != nil {
			return err
		}
		return c.publishReleased(ctx, payload.OrderID, "order_cancelled", env.TraceID)
	}

	reason := "declined"
	if errors.Is(refundErr, errRefundTimeout) {
		reason = "timeout_exhausted"
	}
	metrics.RefundOutcomes.WithLabelValues("failed").Inc()
	return c.publishFailed(ctx, payload.OrderID, reason, env.TraceID)
}

func (c *RefundConsumer) publishProcessed(ctx context.Context, orderID, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventRefundProcessed, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.RefundProcessedPayload{OrderID: orderID}),
	}
	return c.Processed.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventRefundProcessed)},
	)
}

func (c *RefundConsumer) publishFailed(ctx context.Context, orderID, reason, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventRefundFailed, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.RefundFailedPayload{OrderID: orderID, Reason: reason}),
	}
	return c.Failed.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventRefundFailed)},
	)
}

func (c *RefundConsumer) publishReleased(ctx context.Context, orderID, reason, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventStockReleased, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.StockReleasedPayload{OrderID: orderID, Reason: reason}),
	}
	return c.Released.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventStockReleased)},
	)
}
