package dto

import (
	"fmt"

	"github.com/jittakal/lbuffer/internal/errors"
)

// ApplicationConfig is the root configuration structure
type ApplicationConfig struct {
	Buffer        BufferConfig        `mapstructure:"buffer"`
	Delimiter     string              `mapstructure:"delimiter"`
	Output        OutputConfig        `mapstructure:"output"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// BufferConfig contains queue and watermark settings
type BufferConfig struct {
	Lines           int  `mapstructure:"lines"`
	HighWM          int  `mapstructure:"high_wm"`
	LowWM           int  `mapstructure:"low_wm"`
	PageSize        int  `mapstructure:"page_size"`
	ChannelCapacity int  `mapstructure:"channel_capacity"`
	RecyclerSize    int  `mapstructure:"recycler_size"`
	MaxRetainBytes  int  `mapstructure:"max_retain_bytes"`
	SeparateSources bool `mapstructure:"separate_sources"`
}

// OutputConfig contains output destination settings
type OutputConfig struct {
	Destination string `mapstructure:"destination"`
	Clobber     bool   `mapstructure:"clobber"`
}

// StorageConfig contains object storage client settings shared by sources and sinks
type StorageConfig struct {
	S3    S3Config    `mapstructure:"s3"`
	GCS   GCSConfig   `mapstructure:"gcs"`
	Azure AzureConfig `mapstructure:"azure"`
}

// S3Config contains AWS S3 configuration
type S3Config struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
	SSEEnabled   bool   `mapstructure:"sse_enabled"`
	SSEKMSKeyID  string `mapstructure:"sse_kms_key_id"`
	PartSizeMB   int64  `mapstructure:"part_size_mb"`
}

// GCSConfig contains Google Cloud Storage configuration
type GCSConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
	CredentialsJSON string `mapstructure:"credentials_json"`
	Endpoint        string `mapstructure:"endpoint"`
}

// AzureConfig contains Azure Blob Storage configuration
type AzureConfig struct {
	AccountName string `mapstructure:"account_name"`
	AccountKey  string `mapstructure:"account_key"`
	Endpoint    string `mapstructure:"endpoint"`
}

// KafkaConfig contains Kafka producer configuration for the record sink
type KafkaConfig struct {
	SecurityProtocol string         `mapstructure:"security_protocol"`
	SASLMechanism    string         `mapstructure:"sasl_mechanism"`
	SASLUsername     string         `mapstructure:"sasl_username"`
	SASLPassword     string         `mapstructure:"sasl_password"`
	TLS              TLSConfig      `mapstructure:"tls"`
	AWSMSK           AWSMSKConfig   `mapstructure:"aws_msk"`
	Producer         ProducerConfig `mapstructure:"producer"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	CACertFile         string `mapstructure:"ca_cert_file"`
	ClientCertFile     string `mapstructure:"client_cert_file"`
	ClientKeyFile      string `mapstructure:"client_key_file"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
}

// AWSMSKConfig represents AWS MSK specific configuration
type AWSMSKConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
}

// ProducerConfig contains Kafka producer tuning
type ProducerConfig struct {
	RequiredAcks    int    `mapstructure:"required_acks"`
	Compression     string `mapstructure:"compression"`
	MaxMessageBytes int    `mapstructure:"max_message_bytes"`
	RetryMax        int    `mapstructure:"retry_max"`
	Idempotent      bool   `mapstructure:"idempotent"`
}

// ObservabilityConfig contains observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics and health server settings.
// An empty Addr disables the HTTP server.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	if err := c.Buffer.Validate(); err != nil {
		return err
	}
	if c.Delimiter == "" {
		return &errors.ConfigError{Field: "delimiter", Reason: "must not be empty"}
	}
	return nil
}

// Validate validates the queue and watermark settings.
func (c *BufferConfig) Validate() error {
	if c.Lines < 1 {
		return &errors.ConfigError{Field: "buffer.lines", Reason: fmt.Sprintf("must be at least 1, got %d", c.Lines)}
	}
	if c.HighWM < 0 {
		return &errors.ConfigError{Field: "buffer.high_wm", Reason: "must not be negative"}
	}
	if c.LowWM < 0 {
		return &errors.ConfigError{Field: "buffer.low_wm", Reason: "must not be negative"}
	}
	if c.HighWM >= c.Lines {
		return &errors.ConfigError{Field: "buffer.high_wm", Reason: "high-wm must be less than buffer-lines"}
	}
	if c.LowWM >= c.Lines {
		return &errors.ConfigError{Field: "buffer.low_wm", Reason: "low-wm must be less than buffer-lines"}
	}
	if c.PageSize < 1 {
		return &errors.ConfigError{Field: "buffer.page_size", Reason: "must be positive"}
	}
	if c.ChannelCapacity < 0 {
		return &errors.ConfigError{Field: "buffer.channel_capacity", Reason: "must not be negative"}
	}
	return nil
}

// Validate validates TLS configuration.
func (c *TLSConfig) Validate() error {
	if (c.ClientCertFile == "") != (c.ClientKeyFile == "") {
		return &errors.ConfigError{Field: "kafka.tls", Reason: "client_cert_file and client_key_file must be set together"}
	}
	return nil
}

// Validate validates Kafka configuration.
func (c *KafkaConfig) Validate() error {
	switch c.SecurityProtocol {
	case "PLAINTEXT", "SASL_PLAINTEXT", "SASL_SSL", "SSL":
	default:
		return &errors.ConfigError{Field: "kafka.security_protocol", Reason: fmt.Sprintf("unsupported security protocol: %s", c.SecurityProtocol)}
	}
	if c.SASLMechanism == "AWS_MSK_IAM" && c.AWSMSK.Region == "" {
		return &errors.ConfigError{Field: "kafka.aws_msk.region", Reason: "required for AWS_MSK_IAM"}
	}
	return c.TLS.Validate()
}
