package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig configures the event stream writer.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// WriteTimeout defaults to 10s.
	WriteTimeout time.Duration
	// MaxAttempts defaults to 3.
	MaxAttempts int
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRepo publishes events to a Kafka topic keyed by negotiation id, so
// every event for one negotiation lands on the same partition in order.
type KafkaRepo struct {
	w     messageWriter
	topic string
}

func NewKafkaRepo(cfg KafkaConfig) (*KafkaRepo, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("audit: at least one kafka broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("audit: kafka topic required")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		MaxAttempts:  cfg.MaxAttempts,
	})
	return &KafkaRepo{w: w, topic: cfg.Topic}, nil
}

func (r *KafkaRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.NegotiationID),
		Value: payload,
		Time:  e.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := r.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: kafka write to %s: %w", r.topic, err)
	}
	return nil
}

func (r *KafkaRepo) Close() error {
	if r == nil || r.w == nil {
		return nil
	}
	return r.w.Close()
}
