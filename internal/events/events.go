// Package events publishes order lifecycle events to Kafka for downstream
// consumers (fulfilment, notifications). Publishing is best effort: a broker
// outage never fails the settlement path that triggered the event.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Event types emitted by the settlement subsystem.
const (
	TypeOrderPlaced     = "order.placed"
	TypePaymentCaptured = "payment.captured"
	TypePaymentFailed   = "payment.failed"
	TypeOrderCancelled  = "order.cancelled"
)

// Event is the message body for order lifecycle notifications.
type Event struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      string    `json:"user_id"`
	Total       string    `json:"total"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher emits order events. A nil *KafkaPublisher is a valid no-op
// publisher, so wiring stays unconditional even when Kafka is not configured.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// KafkaPublisher writes events to a single Kafka topic, keyed by order id so
// all events for one order land in one partition, in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	lg     *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given brokers and topic.
// It returns nil (a no-op publisher) when no brokers are configured.
func NewKafkaPublisher(brokers []string, topic string, lg *zap.Logger) *KafkaPublisher {
	if len(brokers) == 0 {
		return nil
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		lg: lg,
	}
}

// Publish writes a single event. On a nil receiver it does nothing.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil {
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
	})
	if err != nil {
		p.lg.Warn("publish order event failed",
			zap.String("type", ev.Type),
			zap.String("order_id", ev.OrderID),
			zap.Error(err),
		)
		return errors.Wrap(err, "write event")
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
