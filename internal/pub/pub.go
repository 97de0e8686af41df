// Package pub publishes settlement notifications to the outside world: a
// redis channel for realtime consumers and a kafka topic for durable ones.
package pub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultChannel = "settlement_events"

// Event is the wire form of one notification for one recipient.
type Event struct {
	EventType  string            `json:"event_type"`
	UserID     string            `json:"user_id"`
	Context    map[string]string `json:"context,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Expand flattens a batch into one event per recipient.
func Expand(batch []domain.Notification) []Event {
	var events []Event
	for _, n := range batch {
		for _, r := range n.Recipients {
			events = append(events, Event{
				EventType:  string(n.Kind),
				UserID:     r,
				Context:    n.Context,
				OccurredAt: n.OccurredAt,
			})
		}
	}
	return events
}

// Publisher is the slice of the redis client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

type RedisSink struct {
	rdb     Publisher
	channel string
	logger  *zap.Logger
}

func NewRedisSink(rdb Publisher, channel string, logger *zap.Logger) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{rdb: rdb, channel: channel, logger: logger}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, batch []domain.Notification) error {
	events := Expand(batch)
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish event: %w", err)
		}
	}
	s.logger.Debug("events published to redis",
		zap.String("channel", s.channel),
		zap.Int("count", len(events)))
	return nil
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
	logger  *zap.Logger
}

func NewKafkaSink(writer MessageWriter, logger *zap.Logger) *KafkaSink {
	return &KafkaSink{writer: writer, timeout: 10 * time.Second, logger: logger}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Publish keys every message by recipient so one user's events stay ordered
// within a partition.
func (s *KafkaSink) Publish(ctx context.Context, batch []domain.Notification) error {
	events := Expand(batch)
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("failed to marshal event", zap.String("event_type", ev.EventType), zap.Error(err))
			continue
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(ev.UserID),
			Value: payload,
			Time:  ev.OccurredAt,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(ev.EventType)},
			},
		})
	}
	if len(msgs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		s.logger.Error("failed to publish events to kafka", zap.Int("count", len(msgs)), zap.Error(err))
		return err
	}
	return nil
}

// NewKafkaWriter builds the batching async writer used in production.
func NewKafkaWriter(brokers []string, topic string, logger *zap.Logger) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...))
		}),
	}
}
