package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaConfig configures the Kafka sink. An empty broker list disables it.
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic" validate:"required_with=Brokers"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DefaultKafkaConfig returns a disabled sink publishing to "trading_signals".
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Topic:        "trading_signals",
		WriteTimeout: 5 * time.Second,
	}
}

// Enabled reports whether any broker is configured.
func (c KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// MessageWriter is the subset of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink forwards bus events to a Kafka topic keyed by symbol.
type KafkaSink struct {
	logger  *zap.Logger
	writer  MessageWriter
	timeout time.Duration
}

// NewKafkaSink builds a sink writing to the configured brokers.
func NewKafkaSink(logger *zap.Logger, config KafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
	}
	return NewKafkaSinkWithWriter(logger, writer, config.WriteTimeout)
}

// NewKafkaSinkWithWriter builds a sink around an existing writer.
func NewKafkaSinkWithWriter(logger *zap.Logger, writer MessageWriter, timeout time.Duration) *KafkaSink {
	if timeout <= 0 {
		timeout = DefaultKafkaConfig().WriteTimeout
	}
	return &KafkaSink{
		logger:  logger.Named("kafka"),
		writer:  writer,
		timeout: timeout,
	}
}

// Handle writes one event. It has the Handler signature so the sink can
// subscribe to a Bus directly.
func (k *KafkaSink) Handle(event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.Symbol),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", event.Type, event.Symbol, err)
	}

	k.logger.Debug("Published event",
		zap.String("id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("symbol", event.Symbol),
	)
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
