package kafka

import (
	"context"
	"errors"
	"fmt"

	"merch-svc/middleware"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// InitConsumerGroup joins groupID. Offsets are committed as messages are
// handled; a group with no committed offset starts from the oldest message,
// so events published while the service was down are still delivered.
func InitConsumerGroup(brokers []string, groupID string, logger *zap.Logger) (sarama.ConsumerGroup, error) {
	config := sarama.NewConfig()
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka consumer group: %w", err)
	}

	logger.Info("Kafka consumer group initialized", zap.Strings("brokers", brokers), zap.String("group", groupID))
	return group, nil
}

// MessageHandler processes one message body. A returned error is logged and
// the message is still marked, so one bad message cannot stall the partition.
type MessageHandler func(ctx context.Context, body []byte) error

// Consume runs group sessions on topic until ctx is cancelled or the group is
// closed, passing each message to handle with the producer's trace context.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topic string, handle MessageHandler, logger *zap.Logger) error {
	go func() {
		for err := range group.Errors() {
			logger.Error("Kafka consumer error", zap.Error(err))
		}
	}()

	logger.Info("Kafka consumer started", zap.String("topic", topic))
	h := &groupHandler{topic: topic, handle: handle, logger: logger}
	for {
		// Consume returns on every rebalance; loop to rejoin.
		if err := group.Consume(ctx, []string{topic}, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			return fmt.Errorf("failed to consume %s: %w", topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type groupHandler struct {
	topic  string
	handle MessageHandler
	logger *zap.Logger
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka partitions assigned", zap.Any("claims", session.Claims()))
	return nil
}

func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := handleMessage(message, h.handle, h.logger); err != nil {
				h.logger.Error("Failed to handle message", zap.String("topic", h.topic), zap.Error(err))
			}
			session.MarkMessage(message, "")
		}
	}
}

func handleMessage(message *sarama.ConsumerMessage, handle MessageHandler, logger *zap.Logger) error {
	carrier := saramaHeaderCarrierConsumer(message.Headers)
	ctx := otel.GetTextMapPropagator().Extract(context.Background(), carrier)

	ctx, span := otel.Tracer("merch-svc").Start(ctx, "ConsumeMessage")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", message.Topic),
		attribute.Int("messaging.partition", int(message.Partition)),
		attribute.Int64("messaging.offset", message.Offset),
	)

	logger.Info("Received message",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("topic", message.Topic),
		zap.Int64("offset", message.Offset),
	)

	if err := handle(ctx, message.Value); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// saramaHeaderCarrierConsumer adapts consumer record headers to a TextMapCarrier.
type saramaHeaderCarrierConsumer []*sarama.RecordHeader

func (c saramaHeaderCarrierConsumer) Get(key string) string {
	for _, h := range c {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c saramaHeaderCarrierConsumer) Set(key, value string) {}

func (c saramaHeaderCarrierConsumer) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = string(h.Key)
	}
	return keys
}
