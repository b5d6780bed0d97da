package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/domain"
)

// CompletionHandler processes activity completion requests
type CompletionHandler interface {
	CompleteActivity(ctx context.Context, activityID string, results []domain.ParticipantResult) (*domain.CompletionOutcome, error)
}

// Consumer consumes completion requests from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       CompletionHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler CompletionHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		handler:       handler,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.CompletionsTopic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.CompletionsTopic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Every message is
// marked regardless of outcome: completion is idempotent, so a redelivered
// activity resolves to a conflict rather than a double rating.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	logger := h.consumer.logger
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var request domain.CompletionRequest
			if err := json.Unmarshal(message.Value, &request); err != nil {
				logger.Warn("failed to unmarshal completion request",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if request.ActivityID == "" {
				logger.Warn("completion request without activity id",
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			h.process(session.Context(), request)
			session.MarkMessage(message, "")
		}
	}
}

func (h *consumerGroupHandler) process(parent context.Context, request domain.CompletionRequest) {
	ctx, cancel := context.WithTimeout(parent, 30*time.Second)
	defer cancel()

	logger := h.consumer.logger
	outcome, err := h.consumer.handler.CompleteActivity(ctx, request.ActivityID, request.Results)
	switch {
	case err == nil:
		logger.Debug("completion request processed",
			"activity_id", request.ActivityID,
			"state", outcome.State,
			"skipped", outcome.Skipped,
		)
	case domain.IsConflictError(err):
		// Redelivery of an activity another caller already claimed
		logger.Debug("completion request already handled",
			"activity_id", request.ActivityID,
			"error", err,
		)
	case domain.IsValidationError(err) || domain.IsNotFoundError(err):
		logger.Warn("rejecting completion request",
			"activity_id", request.ActivityID,
			"error", err,
		)
	default:
		// Terminal failure recorded on the status row; no automatic retry
		logger.Error("completion request failed",
			"activity_id", request.ActivityID,
			"error", err,
		)
	}
}
