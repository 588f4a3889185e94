package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/bookacut/queuesync/pkg/logger"
)

type ProducerConfig struct {
	Brokers      []string
	RetryMax     int
	RequiredAcks int
}

// NewProducer builds the sync producer behind internal/events. Sync delivery
// keeps replay-audit events ordered with the drain pass that emitted them.
func NewProducer(ctx context.Context, cfg ProducerConfig, l logger.Logger) (sarama.SyncProducer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.ClientID = "queuesync"
	saramaCfg.Producer.RequiredAcks = sarama.RequiredAcks(cfg.RequiredAcks)
	saramaCfg.Producer.Retry.Max = cfg.RetryMax
	saramaCfg.Producer.Return.Successes = true

	prod, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	l.Info(ctx, "Kafka producer connected", "brokers", cfg.Brokers)

	return prod, nil
}
