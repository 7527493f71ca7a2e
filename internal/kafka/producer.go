// Package kafka publishes records to a Kafka topic, one message per record.
package kafka

import (
	"context"
	"fmt"
	"sync"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/storage"
	"github.com/jittakal/lbuffer/pkg/stream"
)

// Ensure implementation satisfies interface at compile time.
var _ stream.RecordSink = (*Sink)(nil)

// MetricsCollector defines metrics operations for the Kafka sink.
type MetricsCollector interface {
	IncKafkaMessages(topic string, status string)
}

// ProducerFactory creates the underlying producer. Tests substitute a mock.
type ProducerFactory func(brokers []string, config *sarama.Config) (sarama.SyncProducer, error)

// SinkConfig contains the settings of one Kafka sink.
type SinkConfig struct {
	Brokers []string
	Topic   string
	// Key is set on every message so the whole run lands on one partition.
	Key   string
	Kafka dto.KafkaConfig
}

// Sink publishes each record as one message value, delimiter included.
type Sink struct {
	producer sarama.SyncProducer
	topic    string
	key      sarama.Encoder
	name     string
	metrics  MetricsCollector
	logger   *zap.Logger

	mu     sync.Mutex
	closed bool
	sent   int64
}

// NewSaramaConfig builds the producer configuration for cfg.
func NewSaramaConfig(cfg dto.KafkaConfig, logger *zap.Logger) (*sarama.Config, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Producer.RequiredAcks)
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner

	codec, err := parseCompression(cfg.Producer.Compression)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.Compression = codec

	if cfg.Producer.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.Producer.MaxMessageBytes
	}
	if cfg.Producer.RetryMax > 0 {
		saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	}

	// Idempotent producer requires Net.MaxOpenRequests to be 1
	if cfg.Producer.Idempotent {
		saramaConfig.Producer.Idempotent = true
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
		saramaConfig.Net.MaxOpenRequests = 1
	}

	if err := configureSecurity(saramaConfig, cfg, logger); err != nil {
		return nil, fmt.Errorf("failed to configure security: %w", err)
	}

	if err := saramaConfig.Validate(); err != nil {
		return nil, &errors.ConfigError{Field: "kafka", Reason: err.Error()}
	}
	return saramaConfig, nil
}

// NewSink creates a new Kafka sink.
func NewSink(cfg SinkConfig, logger *zap.Logger, metrics MetricsCollector) (*Sink, error) {
	return newSink(cfg, logger, metrics, sarama.NewSyncProducer)
}

func newSink(cfg SinkConfig, logger *zap.Logger, metrics MetricsCollector, newProducer ProducerFactory) (*Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := fmt.Sprintf("kafka://%s", cfg.Topic)
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, &errors.ConfigError{Field: "output", Reason: "kafka destination needs brokers and a topic"}
	}

	saramaConfig, err := NewSaramaConfig(cfg.Kafka, logger)
	if err != nil {
		return nil, err
	}

	producer, err := newProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, &errors.WriteError{Sink: name, Op: "open", Err: err}
	}

	var key sarama.Encoder
	if cfg.Key != "" {
		key = sarama.StringEncoder(cfg.Key)
	}

	logger.Info("kafka sink created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("security_protocol", cfg.Kafka.SecurityProtocol),
	)

	return &Sink{
		producer: producer,
		topic:    cfg.Topic,
		key:      key,
		name:     name,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Name returns the sink's display name.
func (s *Sink) Name() string {
	return s.name
}

// WriteRecord publishes record and waits for the broker to acknowledge it.
// The producer is synchronous, so record may be reused once this returns.
func (s *Sink) WriteRecord(record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.ErrSinkClosed
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   s.key,
		Value: sarama.ByteEncoder(record),
	}

	partition, offset, err := s.producer.SendMessage(msg)
	if err != nil {
		s.incMessages("error")
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}
	s.incMessages("success")
	s.sent++

	if ce := s.logger.Check(zap.DebugLevel, "record published"); ce != nil {
		ce.Write(
			zap.String("topic", s.topic),
			zap.Int32("partition", partition),
			zap.Int64("offset", offset),
			zap.Int("bytes", len(record)),
		)
	}
	return nil
}

// Write publishes p as a single record.
func (s *Sink) Write(p []byte) (int, error) {
	if err := s.WriteRecord(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the producer. Every record was acknowledged when
// WriteRecord returned, so there is nothing left to flush.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.logger.Info("kafka sink closed", zap.String("topic", s.topic), zap.Int64("messages", s.sent))
	if err := s.producer.Close(); err != nil {
		return &errors.WriteError{Sink: s.name, Op: "close", Err: err}
	}
	return nil
}

func (s *Sink) incMessages(status string) {
	if s.metrics != nil {
		s.metrics.IncKafkaMessages(s.topic, status)
	}
}

// Factory returns a storage.SinkFactory that opens Kafka sinks with cfg.
// Every message of the run carries key.
func Factory(cfg dto.KafkaConfig, key string, logger *zap.Logger, metrics MetricsCollector) storage.SinkFactory {
	return factory(cfg, key, logger, metrics, sarama.NewSyncProducer)
}

func factory(cfg dto.KafkaConfig, key string, logger *zap.Logger, metrics MetricsCollector, newProducer ProducerFactory) storage.SinkFactory {
	return func(ctx context.Context, loc storage.Location, clobber bool) (stream.Sink, error) {
		if clobber && logger != nil {
			logger.Debug("clobber has no effect on kafka topics", zap.String("topic", loc.Key))
		}
		return newSink(SinkConfig{
			Brokers: loc.Brokers(),
			Topic:   loc.Key,
			Key:     key,
			Kafka:   cfg,
		}, logger, metrics, newProducer)
	}
}
