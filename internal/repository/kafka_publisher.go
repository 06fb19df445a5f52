package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"FinTreasury/internal/domain/models"
	"FinTreasury/internal/domain/repository"
	pkgkafka "FinTreasury/pkg/kafka"
)

// KafkaPublisher implements InstructionPublisher for Kafka. A batch is one
// message keyed by asset, so a hash-balanced writer keeps per-asset order.
type KafkaPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaPublisher creates Kafka publisher.
func NewKafkaPublisher(producer *pkgkafka.Producer, topic string) repository.InstructionPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishBatch(ctx context.Context, batch *models.InstructionBatch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	key := batch.Asset
	if key == "" {
		key = batch.Command
	}
	msg := pkgkafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "trace_id", Value: []byte(batch.ID)},
			{Key: "command", Value: []byte(batch.Command)},
		},
	}
	if err := p.producer.PublishBatch(ctx, p.topic, []pkgkafka.Message{msg}); err != nil {
		return fmt.Errorf("publish batch %s: %w", batch.ID, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// LogPublisher drops batches after logging them; used when no broker is configured.
type LogPublisher struct {
	fn func(batch *models.InstructionBatch)
}

// NewLogPublisher calls fn for every published batch.
func NewLogPublisher(fn func(batch *models.InstructionBatch)) *LogPublisher {
	return &LogPublisher{fn: fn}
}

func (p *LogPublisher) PublishBatch(_ context.Context, batch *models.InstructionBatch) error {
	if p.fn != nil {
		p.fn(batch)
	}
	return nil
}

func (p *LogPublisher) Close() error { return nil }
