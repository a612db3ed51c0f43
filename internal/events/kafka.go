package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/resilience"
)

// KafkaConfig configures the call event producer
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

// ProducerResult is where a message landed
type ProducerResult struct {
	Partition int32
	Offset    int64
}

// KafkaPublisher writes call events to a topic keyed by call id, so all events
// of one call stay ordered on a partition
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *gobreaker.CircuitBreaker[ProducerResult]
}

// NewSaramaConfig returns the producer settings used for call events
func NewSaramaConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_6_0_0
	cfg.ClientID = clientID
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	return cfg
}

// NewKafkaPublisher connects a sync producer to the brokers
func NewKafkaPublisher(cfg KafkaConfig, breakerCfg resilience.BreakerConfig) (*KafkaPublisher, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewSaramaConfig(cfg.ClientID))
	if err != nil {
		logger.Error("Failed to create Kafka producer",
			zap.Strings("brokers", cfg.Brokers),
			zap.Error(err))
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	logger.Info("Connected Kafka producer",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))

	return NewKafkaPublisherWithProducer(producer, cfg.Topic, breakerCfg), nil
}

// NewKafkaPublisherWithProducer wraps an existing producer
func NewKafkaPublisherWithProducer(producer sarama.SyncProducer, topic string, breakerCfg resilience.BreakerConfig) *KafkaPublisher {
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		breaker:  resilience.NewBreaker[ProducerResult]("kafka-call-events", breakerCfg),
	}
}

// Publish sends one message per event. Recipients travel inside the payload.
func (p *KafkaPublisher) Publish(ctx context.Context, event *CallEvent) error {
	value, err := Encode(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.CallID.String()),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	result, err := p.breaker.Execute(func() (ProducerResult, error) {
		partition, offset, err := p.producer.SendMessage(msg)
		if err != nil {
			return ProducerResult{}, err
		}
		return ProducerResult{Partition: partition, Offset: offset}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to send call event to kafka: %w", err)
	}

	logger.Debug("Call event sent to Kafka",
		zap.String("topic", p.topic),
		zap.String("event_type", string(event.Type)),
		zap.Int32("partition", result.Partition),
		zap.Int64("offset", result.Offset))
	return nil
}

// Close flushes and closes the producer
func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		logger.Error("Failed to close Kafka producer", zap.Error(err))
		return err
	}
	logger.Info("Kafka producer closed")
	return nil
}
