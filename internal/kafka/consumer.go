package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"table-service/internal/apperrors"
	"table-service/internal/config"
	"table-service/internal/logger"
	"table-service/internal/models"
)

// PaymentHandler applies one payment event. Validation, not-found and
// conflict errors are final and the message is skipped; any other error stops
// the claim so the group resumes from the failed message.
type PaymentHandler func(ctx context.Context, event *models.PaymentEvent) error

type Consumer struct {
	consumer sarama.ConsumerGroup
	topics   []string
	log      *logger.Logger
}

func NewConsumer(cfg config.KafkaConfig, log *logger.Logger) (*Consumer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetNewest

	consumer, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	log.LogKafka("CONNECTED", "consumer", fmt.Sprintf("Consumer group %s joined brokers %v", cfg.GroupID, cfg.Brokers))
	return &Consumer{
		consumer: consumer,
		topics:   cfg.PaymentTopics,
		log:      log,
	}, nil
}

// ConsumePayments blocks until ctx is cancelled, feeding every payment event
// on the configured topics to handler.
func (c *Consumer) ConsumePayments(ctx context.Context, handler PaymentHandler) error {
	consumerHandler := &paymentConsumerHandler{handler: handler, log: c.log}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumer.Consume(ctx, c.topics, consumerHandler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				c.log.Error("KAFKA", fmt.Sprintf("Error consuming messages: %v", err))
				return err
			}
			if consumerHandler.failed.Swap(false) {
				c.log.LogKafka("RETRY", "consumer", fmt.Sprintf("Rejoining in %s to retry a failed payment event", retryDelay))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(retryDelay):
				}
			}
		}
	}
}

func (c *Consumer) Close() error {
	return c.consumer.Close()
}

const retryDelay = 2 * time.Second

type paymentConsumerHandler struct {
	handler PaymentHandler
	log     *logger.Logger
	failed  atomic.Bool
}

func (h *paymentConsumerHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *paymentConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *paymentConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event models.PaymentEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			// poison message, skip it for good
			h.log.Error("KAFKA", fmt.Sprintf("Failed to unmarshal message at %s/%d@%d: %v", message.Topic, message.Partition, message.Offset, err))
			session.MarkMessage(message, "")
			continue
		}

		if err := h.handler(session.Context(), &event); err != nil {
			if permanent(err) {
				h.log.Warn("KAFKA", fmt.Sprintf("Dropping payment event %s for payment %s: %v", event.Type, event.PaymentID, err))
				session.MarkMessage(message, "")
				continue
			}
			// offsets are cumulative: marking a later message would commit past this one
			h.log.Error("KAFKA", fmt.Sprintf("Failed to handle payment event %s for payment %s at %s/%d@%d: %v",
				event.Type, event.PaymentID, message.Topic, message.Partition, message.Offset, err))
			h.failed.Store(true)
			return fmt.Errorf("payment event at %s/%d@%d: %w", message.Topic, message.Partition, message.Offset, err)
		}

		h.log.LogKafka("CONSUMED", message.Topic, fmt.Sprintf("Applied %s for payment %s", event.Type, event.PaymentID))
		session.MarkMessage(message, "")
	}

	return nil
}

func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrValidation) ||
		errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrConflict)
}
