// Package events publishes queue lifecycle and sync audit events to Kafka.
// Publishing is best effort: callers log failures and move on, the queue
// itself never depends on the broker being up.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/bookacut/queuesync/pkg/logger"
)

type Producer interface {
	PublishQueueJoined(ctx context.Context, event QueueJoinedEvent) error
	PublishQueueLeft(ctx context.Context, event QueueLeftEvent) error
	PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error
	PublishReplaySucceeded(ctx context.Context, event ReplaySucceededEvent) error
	PublishReplayDropped(ctx context.Context, event ReplayDroppedEvent) error
	Close() error
}

type kafkaProducer struct {
	producer sarama.SyncProducer
	l        logger.Logger
}

func NewProducer(producer sarama.SyncProducer, l logger.Logger) Producer {
	return &kafkaProducer{
		producer: producer,
		l:        l,
	}
}

func (p *kafkaProducer) PublishQueueJoined(ctx context.Context, event QueueJoinedEvent) error {
	return p.publish(ctx, TopicQueueJoined, event.ShopID, event)
}

func (p *kafkaProducer) PublishQueueLeft(ctx context.Context, event QueueLeftEvent) error {
	return p.publish(ctx, TopicQueueLeft, event.ShopID, event)
}

func (p *kafkaProducer) PublishStatusChanged(ctx context.Context, event StatusChangedEvent) error {
	return p.publish(ctx, TopicStatusChanged, event.ShopID, event)
}

func (p *kafkaProducer) PublishReplaySucceeded(ctx context.Context, event ReplaySucceededEvent) error {
	return p.publish(ctx, TopicReplaySucceeded, event.MutationID, event)
}

func (p *kafkaProducer) PublishReplayDropped(ctx context.Context, event ReplayDroppedEvent) error {
	return p.publish(ctx, TopicReplayDropped, event.MutationID, event)
}

func (p *kafkaProducer) publish(ctx context.Context, topic, key string, event any) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		// Partition by shop so per-shop event order holds.
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.l.Errorf(ctx, "events.kafkaProducer.publish: %v", err)
		return fmt.Errorf("failed to send kafka message: %w", err)
	}

	p.l.Debug(ctx, "Kafka event published",
		"topic", topic,
		"partition", partition,
		"offset", offset,
	)

	return nil
}

func (p *kafkaProducer) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}
