package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hilmist/OrderService/internal/metrics"
	"github.com/hilmist/OrderService/internal/retry"
)

var consumerTracer = otel.Tracer("bus.consumer")

// Handler returns nil to Ack, or a *PermanentError to route the
// message to its DLQ topic without blocking the partition. Any other
// error is treated as transient: the message is left uncommitted so a
// restart redelivers it.
type Handler func(ctx context.Context, m kafkago.Message) error

// PermanentError marks a handler failure as non-retryable: a poison
// payload or a business rule that will never succeed on redelivery.
// Spec's "Reject-no-requeue -> DLQ" contract.
type PermanentError struct {
	Err    error
	Reason string
}

func (e *PermanentError) Error() string { return fmt.Sprintf("%s: %v", e.Reason, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error, reason string) error {
	return &PermanentError{Err: err, Reason: reason}
}

// Consumer holds one consumer group's durable queue: a long-lived
// reader, a bounded worker pool (the spec's "prefetch = 10"), and a
// producer for its own DLQ topic.
type Consumer struct {
	r         *kafkago.Reader
	workers   int
	topic     string
	dlq       *Producer
	reconnect retry.Policy
	log       *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 10
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	dlq := NewProducer(brokers, DLQTopic(topic), 256)
	return &Consumer{
		r:       r,
		workers: workers,
		topic:   topic,
		dlq:     dlq,
		log:     log,
		reconnect: retry.Policy{
			MaxAttempts: 1 << 30, // reconnect forever until ctx cancellation
			Backoff:     retry.ExponentialBackoff(2*time.Second, 30*time.Second, 0),
			Retryable:   func(error) bool { return true },
		},
	}
}

// Start dispatches messages from the topic to a worker pool. On a read
// failure it waits with the bus's exponential backoff and resumes
// reading on the same reader rather than returning, unless ctx was
// cancelled first.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	c.dlq.Start(ctx)
	defer c.dlq.Close()

	jobs := make(chan kafkago.Message, c.workers*4)
	errs := make(chan error, c.workers)

	for i := 0; i < c.workers; i++ {
		go func() {
			for m := range jobs {
				c.handle(ctx, h, m, errs)
			}
		}()
	}

	readErr := c.reconnect.Do(ctx, func(ctx context.Context, attempt int) error {
		for {
			m, err := c.r.ReadMessage(ctx)
			if err != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
					c.log.Warn("consumer read failed, reconnecting", zap.String("topic", c.topic), zap.Error(err))
					return err
				}
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				return nil
			}
			select {
			case e := <-errs:
				c.log.Warn("handler error", zap.String("topic", c.topic), zap.Error(e))
			default:
			}
		}
	})
	close(jobs)
	return readErr
}

func (c *Consumer) handle(ctx context.Context, h Handler, m kafkago.Message, errs chan error) {
	hctx := otel.GetTextMapPropagator().Extract(ctx, HeaderCarrier{Headers: &m.Headers})
	hctx, span := consumerTracer.Start(hctx, "bus.consume")
	defer span.End()

	start := time.Now()
	err := h(hctx, m)
	metrics.ConsumerDuration.WithLabelValues(c.topic).Observe(time.Since(start).Seconds())
	if err == nil {
		if cerr := c.r.CommitMessages(ctx, m); cerr != nil {
			errs <- fmt.Errorf("commit: %w", cerr)
		}
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		headers := append(m.Headers,
			kafkago.Header{Key: "x-dlq-reason", Value: []byte(perm.Reason)},
			kafkago.Header{Key: "x-dlq-attempts", Value: []byte("1")},
		)
		c.dlq.Publish(m.Key, m.Value, headers...)
		if cerr := c.r.CommitMessages(ctx, m); cerr != nil {
			errs <- fmt.Errorf("commit after dlq: %w", cerr)
		}
		return
	}
	errs <- err
}
