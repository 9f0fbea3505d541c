package sink

import (
	"context"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stacksampler/pkg/config"
	"github.com/ajitpratap0/stacksampler/pkg/errors"
)

// maxKafkaMessageBytes matches the producer's MaxMessageBytes setting.
const maxKafkaMessageBytes = 8 << 20

// KafkaSink publishes each object as one message keyed by the object name.
// Metadata travels as record headers.
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
	logger   *zap.Logger
}

// OpenKafka connects a synchronous producer to the configured brokers.
func OpenKafka(cfg config.KafkaConfig, log *zap.Logger) (*KafkaSink, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, newKafkaConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create kafka producer").
			WithDetail("brokers", cfg.Brokers)
	}
	return newKafkaSink(cfg.Topic, producer, log), nil
}

func newKafkaConfig(cfg config.KafkaConfig) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.ClientID
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	sc.Producer.MaxMessageBytes = maxKafkaMessageBytes
	// Payloads are already compressed by the exporter.
	sc.Producer.Compression = sarama.CompressionNone
	return sc
}

func newKafkaSink(topic string, producer sarama.SyncProducer, log *zap.Logger) *KafkaSink {
	return &KafkaSink{topic: topic, producer: producer, logger: log}
}

func (s *KafkaSink) Write(ctx context.Context, name string, data []byte, meta map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(data) > maxKafkaMessageBytes {
		return errors.New(errors.ErrorTypeData, "batch exceeds kafka message size limit").
			WithDetail("bytes", len(data)).
			WithDetail("limit", maxKafkaMessageBytes)
	}

	headers := make([]sarama.RecordHeader, 0, len(meta))
	for k, v := range meta {
		headers = append(headers, sarama.RecordHeader{Key: []byte(k), Value: []byte(v)})
	}

	partition, offset, err := s.producer.SendMessage(&sarama.ProducerMessage{
		Topic:   s.topic,
		Key:     sarama.StringEncoder(name),
		Value:   sarama.ByteEncoder(data),
		Headers: headers,
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to publish to kafka").
			WithDetail("topic", s.topic)
	}

	s.logger.Debug("object published",
		zap.String("topic", s.topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *KafkaSink) Type() string { return config.SinkKafka }

func (s *KafkaSink) Close() error {
	if err := s.producer.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to close kafka producer")
	}
	return nil
}
