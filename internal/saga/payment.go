package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/bus"
	"github.com/hilmist/OrderService/internal/metrics"
	"github.com/hilmist/OrderService/internal/retry"
	"github.com/hilmist/OrderService/internal/store"
)

// fraudThresholdCents is spec's 10 000 major-unit fraud threshold
// expressed in the ledger's minor units.
const fraudThresholdCents = 1_000_000

var errPaymentTimeout = errors.New("payment timeout")
var errPaymentDeclined = errors.New("payment declined")

// PaymentConsumer implements 4.F: on stock.reserved it loads the
// order's total from the authoritative store (never trusting the
// event body for the fraud check), applies the fraud rule, then runs
// a three-attempt retry loop against the payment gateway.
type PaymentConsumer struct {
	Orders      *store.OrderStore
	Gateway     Gateway
	Processed   *bus.Producer
	Failed      *bus.Producer
	ServiceName string
	Log         *zap.Logger
}

func (c *PaymentConsumer) HandleStockReserved(ctx context.Context, m kafkago.Message) error {
	var env bus.Envelope
	if err := bus.UnmarshalEnvelope(m.Value, &env); err != nil {
		return bus.Permanent(err, "bad_envelope")
	}
	if env.EventType != bus.EventStockReserved {
		return nil
	}
	payload, err := bus.UnwrapPayload[bus.StockReservedPayload](env.Payload)
	if err != nil {
		return bus.Permanent(err, "bad_payload")
	}

	order, err := c.Orders.Get(ctx, payload.OrderID)
	if err != nil {
		return bus.Permanent(err, "order_not_found")
	}

	if order.TotalAmount.Cents > fraudThresholdCents {
		metrics.PaymentOutcomes.WithLabelValues("failed_fraud").Inc()
		return c.publishFailed(ctx, payload.OrderID, "fraud_verification_required", env.TraceID)
	}

	var paymentRef string
	policy := retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.ExponentialBackoff(500*time.Millisecond, 4*time.Second, 0),
		Retryable:   func(err error) bool { return errors.Is(err, errPaymentTimeout) },
	}
	chargeErr := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		ref, outcome, err := c.Gateway.Charge(order.TotalAmount.Cents)
		if err != nil {
			return err
		}
		switch outcome {
		case OutcomeSuccess:
			paymentRef = ref
			return nil
		case OutcomeTimeout:
			return errPaymentTimeout
		default:
			return errPaymentDeclined
		}
	})

	switch {
	case chargeErr == nil:
		metrics.PaymentOutcomes.WithLabelValues("processed").Inc()
		return c.publishProcessed(ctx, payload.OrderID, paymentRef, env.TraceID)
	case errors.Is(chargeErr, errPaymentTimeout):
		metrics.PaymentOutcomes.WithLabelValues("failed_processor").Inc()
		return c.publishFailed(ctx, payload.OrderID, "processor_error", env.TraceID)
	default:
		metrics.PaymentOutcomes.WithLabelValues("failed_declined").Inc()
		return c.publishFailed(ctx, payload.OrderID, "processor_declined", env.TraceID)
	}
}

func (c *PaymentConsumer) publishProcessed(ctx context.Context, orderID, paymentRef, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventPaymentProcessed, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.PaymentProcessedPayload{OrderID: orderID, PaymentRef: paymentRef}),
	}
	return c.Processed.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventPaymentProcessed)},
	)
}

func (c *PaymentConsumer) publishFailed(ctx context.Context, orderID, reason, trace string) error {
	env := bus.Envelope{
		EventID: uuid.NewString(), EventType: bus.EventPaymentFailed, EventVersion: 1,
		OccurredAt: time.Now().UTC(), Producer: c.ServiceName, TraceID: trace, CorrelationID: orderID,
		Payload: bus.MustMarshal(bus.PaymentFailedPayload{OrderID: orderID, Reason: reason}),
	}
	return c.Failed.PublishConfirm(ctx, bus.PartitionKey(orderID), bus.MustMarshal(env),
		kafkago.Header{Key: "x-event-type", Value: []byte(bus.EventPaymentFailed)},
	)
}
