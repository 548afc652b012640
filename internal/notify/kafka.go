package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/momentum/internal/events"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaChannel relays reminders to a topic consumed by an external delivery worker.
type KafkaChannel struct {
	writer messageWriter
	now    func() time.Time
}

// NewKafkaChannel builds a synchronous writer for topic.
func NewKafkaChannel(brokers []string, topic string) (*KafkaChannel, *kafka.Writer) {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaChannel{writer: writer, now: time.Now}, writer
}

// Send implements Channel.
func (c *KafkaChannel) Send(ctx context.Context, address string, msg Message) error {
	body, err := json.Marshal(events.Reminder{
		Address: address,
		Title:   msg.Title,
		Body:    msg.Body,
		SentAt:  c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode reminder: %v", ErrDelivery, err)
	}
	if err := c.writer.WriteMessages(ctx, kafka.Message{Key: []byte(address), Value: body}); err != nil {
		return fmt.Errorf("%w: kafka: %v", ErrDelivery, err)
	}
	return nil
}
