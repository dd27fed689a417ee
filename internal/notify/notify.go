// Package notify publishes job status notifications on a per-user channel and
// relays them to connected realtime clients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/aegisshield/ml-workbench/internal/config"
	"github.com/aegisshield/ml-workbench/internal/models"
)

const (
	channelPrefix = "INFO#"
	sourceService = "ml-workbench"
)

// Message is the payload delivered for every job status change
type Message struct {
	TaskID  string           `json:"task_id"`
	Status  models.JobStatus `json:"status"`
	Message string           `json:"message"`
}

// Channel returns the notification channel of a user
func Channel(userID string) string {
	return channelPrefix + userID
}

// Publisher delivers messages to a user's channel
type Publisher interface {
	Publish(ctx context.Context, userID string, msg Message) error
	Close() error
}

// Deliverer hands an encoded message to locally connected clients
type Deliverer interface {
	Deliver(userID string, payload []byte)
}

// NewRedisClient creates a Redis client from configuration
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
}

// NewPublisher creates the publisher selected by cfg.Type. The Redis client is
// returned as well so the realtime hub can subscribe to the same bus; it is nil
// for other bus types.
func NewPublisher(cfg config.NotifyConfig, logger *zap.Logger) (Publisher, *redis.Client, error) {
	switch cfg.Type {
	case "redis":
		client := NewRedisClient(cfg.Redis)
		return NewRedisPublisher(client, logger), client, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return nil, nil, errors.New("kafka notify bus needs brokers and a topic")
		}
		return NewKafkaPublisher(cfg.Kafka, logger), nil, nil
	case "", "none":
		return NopPublisher{}, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notify type: %s", cfg.Type)
	}
}

// RedisPublisher publishes messages on Redis pub/sub
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, userID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, Channel(userID), data).Err(); err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("channel", Channel(userID)),
			zap.String("task_id", msg.TaskID),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// KafkaPublisher writes messages to a Kafka topic keyed by channel
type KafkaPublisher struct {
	writer *kafka.Writer
	config config.KafkaConfig
	logger *zap.Logger
}

func NewKafkaPublisher(cfg config.KafkaConfig, logger *zap.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: writer, config: cfg, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, userID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(Channel(userID)),
		Value: data,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte("application/json")},
			{Key: "source-service", Value: []byte(sourceService)},
		},
	}

	if err := p.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		p.logger.Error("Failed to publish notification",
			zap.String("topic", p.config.Topic),
			zap.String("key", Channel(userID)),
			zap.Error(err))
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher discards messages
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Message) error { return nil }
func (NopPublisher) Close() error                                   { return nil }

// Tee publishes to the bus and also hands the message to local clients.
// It is used when the bus does not loop messages back to this process.
type Tee struct {
	Bus   Publisher
	Local Deliverer
}

func (t Tee) Publish(ctx context.Context, userID string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	t.Local.Deliver(userID, data)
	return t.Bus.Publish(ctx, userID, msg)
}

func (t Tee) Close() error {
	return t.Bus.Close()
}
