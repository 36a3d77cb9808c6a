package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/carpoolhq/settlement-engine/internal/settlement"
)

// KafkaPublisher emits settlement events onto a Kafka topic. Events for the
// same trip share a key so consumers see them in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	log    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			WriteTimeout: 2 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
		log: log,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev settlement.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal settlement event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("trip-%d", ev.TripID)),
		Value: payload,
		Time:  ev.OccurredAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write settlement event: %w", err)
	}
	p.log.Debug("settlement event published", "type", ev.Type, "tripId", ev.TripID)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
