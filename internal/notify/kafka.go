package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/GTDGit/gtd_ticketing/internal/models"
)

// KafkaNotifier publishes payment events to a topic, keyed by registration id so a
// registration's events stay ordered within one partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier creates a notifier writing to topic on brokers.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
			Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Debug().Msgf("[KAFKA] "+msg, args...)
			}),
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				log.Error().Msgf("[KAFKA] "+msg, args...)
			}),
		},
	}
}

// Notify publishes the event and waits for the broker acknowledgement.
func (n *KafkaNotifier) Notify(ctx context.Context, event *models.PaymentEvent) error {
	msg, err := buildMessage(event)
	if err != nil {
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for %s: %w", event.Type, event.RegistrationID, err)
	}
	return nil
}

// Close flushes pending writes.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func buildMessage(event *models.PaymentEvent) (kafka.Message, error) {
	value, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal payment event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.RegistrationID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}, nil
}
