package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
	"go.uber.org/zap"

	"github.com/jittakal/lbuffer/internal/config/dto"
)

// configureSecurity configures SASL and TLS settings
func configureSecurity(saramaConfig *sarama.Config, cfg dto.KafkaConfig, logger *zap.Logger) error {
	switch cfg.SecurityProtocol {
	case "", "PLAINTEXT":
		logger.Debug("using PLAINTEXT security protocol")

	case "SASL_PLAINTEXT":
		saramaConfig.Net.SASL.Enable = true
		if err := configureSASL(saramaConfig, cfg, logger); err != nil {
			return err
		}

	case "SASL_SSL":
		saramaConfig.Net.SASL.Enable = true
		if err := configureSASL(saramaConfig, cfg, logger); err != nil {
			return err
		}
		if err := configureTLS(saramaConfig, cfg.TLS, logger); err != nil {
			return err
		}

	case "SSL":
		if err := configureTLS(saramaConfig, cfg.TLS, logger); err != nil {
			return err
		}

	default:
		return fmt.Errorf("unsupported security protocol: %s", cfg.SecurityProtocol)
	}

	return nil
}

// configureSASL configures SASL authentication
func configureSASL(saramaConfig *sarama.Config, cfg dto.KafkaConfig, logger *zap.Logger) error {
	switch cfg.SASLMechanism {
	case "PLAIN":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		saramaConfig.Net.SASL.User = cfg.SASLUsername
		saramaConfig.Net.SASL.Password = cfg.SASLPassword

	case "SCRAM-SHA-256", "SCRAM-SHA-512":
		mechanism, generator, err := scramMechanism(cfg.SASLMechanism)
		if err != nil {
			return err
		}
		saramaConfig.Net.SASL.Mechanism = mechanism
		saramaConfig.Net.SASL.User = cfg.SASLUsername
		saramaConfig.Net.SASL.Password = cfg.SASLPassword
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = generator

	case "AWS_MSK_IAM":
		if cfg.AWSMSK.Region == "" {
			return fmt.Errorf("AWS MSK IAM authentication requires a region")
		}
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeOAuth
		saramaConfig.Net.SASL.TokenProvider = &MSKAccessTokenProvider{region: cfg.AWSMSK.Region}

	default:
		return fmt.Errorf("unsupported SASL mechanism: %s", cfg.SASLMechanism)
	}

	logger.Debug("configured SASL authentication", zap.String("mechanism", cfg.SASLMechanism))
	return nil
}

// configureTLS configures TLS settings
func configureTLS(saramaConfig *sarama.Config, cfg dto.TLSConfig, logger *zap.Logger) error {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return fmt.Errorf("failed to parse CA certificate %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
		logger.Debug("loaded CA certificate", zap.String("file", cfg.CACertFile))
	}

	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.InsecureSkipVerify {
		logger.Warn("TLS certificate verification is disabled")
	}

	saramaConfig.Net.TLS.Enable = true
	saramaConfig.Net.TLS.Config = tlsConfig
	return nil
}

// parseCompression parses a compression codec name
func parseCompression(name string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(name) {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("unsupported compression: %s", name)
	}
}

// MSKAccessTokenProvider implements sarama.AccessTokenProvider for AWS MSK IAM.
type MSKAccessTokenProvider struct {
	region string
}

// Token generates a signed IAM token from the default AWS credential chain.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, _, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK IAM token: %w", err)
	}
	return &sarama.AccessToken{Token: token}, nil
}
