package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes SubmittedEvent messages to a topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a publisher over brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}}
}

// Publish sends the event keyed by flow and order id.
func (p *KafkaPublisher) Publish(ctx context.Context, event SubmittedEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("orders: marshal event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(eventKey(event)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("order.submitted")},
		},
	})
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func eventKey(event SubmittedEvent) string {
	return fmt.Sprintf("order-%s-%d", event.Flow, event.OrderID)
}
