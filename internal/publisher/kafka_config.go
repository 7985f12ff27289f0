package publisher

import (
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"go.uber.org/zap"
)

func parseRequiredAcks(v string) (sarama.RequiredAcks, error) {
	switch strings.ToLower(v) {
	case "none", "no_response":
		return sarama.NoResponse, nil
	case "leader", "local", "wait_for_local", "1":
		return sarama.WaitForLocal, nil
	case "all", "wait_for_all", "-1":
		return sarama.WaitForAll, nil
	default:
		return sarama.WaitForAll, fmt.Errorf("invalid kafka requiredAcks: %s", v)
	}
}

func parseCompression(v string) (sarama.CompressionCodec, bool) {
	switch strings.ToLower(v) {
	case "none":
		return sarama.CompressionNone, true
	case "gzip":
		return sarama.CompressionGZIP, true
	case "snappy":
		return sarama.CompressionSnappy, true
	case "lz4":
		return sarama.CompressionLZ4, true
	case "zstd":
		return sarama.CompressionZSTD, true
	default:
		return sarama.CompressionSnappy, false
	}
}

// SaramaConfig translates the producer settings into a Sarama config.
func SaramaConfig(cfg config.KafkaConfig, logger *zap.Logger) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()

	acks, err := parseRequiredAcks(cfg.Producer.RequiredAcks)
	if err != nil {
		return nil, err
	}
	saramaConfig.Producer.RequiredAcks = acks

	codec, ok := parseCompression(cfg.Producer.CompressionCodec)
	if !ok {
		logger.Warn("Unknown compression codec, defaulting to Snappy", zap.String("codec", cfg.Producer.CompressionCodec))
	}
	saramaConfig.Producer.Compression = codec

	saramaConfig.Producer.Flush.Frequency = cfg.Producer.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.Producer.FlushMessages
	saramaConfig.Producer.Flush.Bytes = cfg.Producer.FlushBytes
	saramaConfig.Producer.Retry.Max = cfg.Producer.RetryMax
	saramaConfig.Producer.Retry.Backoff = cfg.Producer.RetryBackoff
	saramaConfig.Producer.Return.Successes = cfg.Producer.ReturnSuccesses
	saramaConfig.Producer.Return.Errors = cfg.Producer.ReturnErrors
	return saramaConfig, nil
}

// NewKafkaProducer creates a Sarama AsyncProducer for cfg.
func NewKafkaProducer(cfg config.KafkaConfig, logger *zap.Logger) (sarama.AsyncProducer, error) {
	saramaConfig, err := SaramaConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("error creating Sarama AsyncProducer: %w", err)
	}
	return producer, nil
}
