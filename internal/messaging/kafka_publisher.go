// Package messaging publishes restock alerts to Kafka.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"pharmstock/internal/core"
)

// MessageWriter is the subset of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewWriter returns a writer for topic. Messages are keyed by product ID so alerts for one
// product stay ordered within a partition.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// KafkaAlertPublisher implements core.AlertPublisher.
type KafkaAlertPublisher struct {
	writer MessageWriter
}

func NewKafkaAlertPublisher(writer MessageWriter) *KafkaAlertPublisher {
	return &KafkaAlertPublisher{writer: writer}
}

func (p *KafkaAlertPublisher) PublishRestockAlerts(ctx context.Context, alerts []core.RestockAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(alerts))
	for _, a := range alerts {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("failed to marshal restock alert for %s: %w", a.ProductID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(a.ProductID),
			Value: payload,
			Headers: []kafka.Header{
				{Key: "event-type", Value: []byte("inventory.restock_alert")},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish %d restock alerts: %w", len(msgs), err)
	}
	return nil
}

func (p *KafkaAlertPublisher) Close() error {
	return p.writer.Close()
}
