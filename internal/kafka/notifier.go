package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/domain"
)

// Notifier publishes change events to the changes topic. Publishing is
// fire-and-forget: a slow or unreachable broker never blocks the completion
// pipeline, and delivery failures are only logged.
type Notifier struct {
	topic    string
	producer sarama.AsyncProducer
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewNotifier creates a Kafka-backed change notifier
func NewNotifier(cfg *config.KafkaConfig, logger *slog.Logger) (*Notifier, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Flush.Frequency = 100 * time.Millisecond
	saramaConfig.Producer.Flush.Messages = 100
	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Retry.Max = cfg.RetryAttempts
	saramaConfig.Producer.Retry.Backoff = cfg.RetryDelay

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("creating change producer: %w", err)
	}

	n := &Notifier{
		topic:    cfg.ChangesTopic,
		producer: producer,
		logger:   logger,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for err := range producer.Errors() {
			logger.Warn("change event delivery failed", "error", err)
		}
	}()

	return n, nil
}

// NotifyChange enqueues one change event. Events are keyed by entity ID so
// changes to the same entity stay ordered within a partition.
func (n *Notifier) NotifyChange(_ context.Context, event domain.ChangeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal change event",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
			"error", err,
		)
		return
	}

	select {
	case n.producer.Input() <- &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(event.EntityID),
		Value: sarama.ByteEncoder(data),
	}:
	default:
		// Input buffer full; dropping beats stalling a completion
		n.logger.Warn("change event dropped, producer backlogged",
			"entity_type", event.EntityType,
			"entity_id", event.EntityID,
		)
	}
}

// Close flushes pending events and shuts the producer down
func (n *Notifier) Close() error {
	n.producer.AsyncClose()
	n.wg.Wait()
	return nil
}
