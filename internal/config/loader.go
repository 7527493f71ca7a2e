package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/jittakal/lbuffer/internal/config/dto"
	"github.com/jittakal/lbuffer/internal/errors"
	"github.com/jittakal/lbuffer/internal/storage"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. LBUFFER_BUFFER_LINES.
const EnvPrefix = "LBUFFER"

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"buffer-lines":     "buffer.lines",
	"high-wm":          "buffer.high_wm",
	"low-wm":           "buffer.low_wm",
	"page-size":        "buffer.page_size",
	"channel-capacity": "buffer.channel_capacity",
	"recycler-size":    "buffer.recycler_size",
	"separate-sources": "buffer.separate_sources",
	"delimiter":        "delimiter",
	"output":           "output.destination",
	"clobber":          "output.clobber",
	"log-level":        "observability.logging.level",
	"log-format":       "observability.logging.format",
	"metrics-addr":     "observability.metrics.addr",
}

// Loader handles configuration loading and validation
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return &Loader{v: v}
}

// BindFlags binds the command line flags present in fs. Only flags the user
// actually set override environment and file values.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load loads configuration from file, environment variables and bound flags.
// Precedence is flag > env > file > default.
func (l *Loader) Load(path string) (*dto.ApplicationConfig, error) {
	l.setDefaults()

	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, &errors.ConfigError{Field: "config", Reason: fmt.Sprintf("failed to read config file: %v", err)}
			}
		}
	}

	// Only expand values containing ${...}
	for _, key := range l.v.AllKeys() {
		value := l.v.GetString(key)
		if strings.Contains(value, "${") {
			l.v.Set(key, os.ExpandEnv(value))
		}
	}

	var config dto.ApplicationConfig
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, &errors.ConfigError{Field: "config", Reason: fmt.Sprintf("failed to unmarshal config: %v", err)}
	}

	if config.Buffer.RecyclerSize <= 0 {
		config.Buffer.RecyclerSize = DefaultRecyclerSize(config.Buffer.ChannelCapacity)
	}

	if err := l.Validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultRecyclerSize is enough buffers to cover both channels plus the
// reader's hold buffer and its spare.
func DefaultRecyclerSize(channelCapacity int) int {
	return 2*channelCapacity + 2
}

// setDefaults sets default configuration values
func (l *Loader) setDefaults() {
	// Buffer defaults
	l.v.SetDefault("buffer.lines", 1024)
	l.v.SetDefault("buffer.high_wm", 1)
	l.v.SetDefault("buffer.low_wm", 1023)
	l.v.SetDefault("buffer.page_size", 4096)
	l.v.SetDefault("buffer.channel_capacity", 2)
	l.v.SetDefault("buffer.recycler_size", 0)
	l.v.SetDefault("buffer.max_retain_bytes", 1<<20)
	l.v.SetDefault("buffer.separate_sources", false)

	l.v.SetDefault("delimiter", `\n`)

	// Output defaults
	l.v.SetDefault("output.destination", "-")
	l.v.SetDefault("output.clobber", false)

	// Storage defaults
	l.v.SetDefault("storage.s3.region", "us-east-1")
	l.v.SetDefault("storage.s3.endpoint", "")
	l.v.SetDefault("storage.s3.use_path_style", false)
	l.v.SetDefault("storage.s3.sse_enabled", false)
	l.v.SetDefault("storage.s3.sse_kms_key_id", "")
	l.v.SetDefault("storage.s3.part_size_mb", 5)
	l.v.SetDefault("storage.gcs.project_id", "")
	l.v.SetDefault("storage.gcs.credentials_file", "")
	l.v.SetDefault("storage.gcs.credentials_json", "")
	l.v.SetDefault("storage.gcs.endpoint", "")
	l.v.SetDefault("storage.azure.account_name", "")
	l.v.SetDefault("storage.azure.account_key", "")
	l.v.SetDefault("storage.azure.endpoint", "")

	// Kafka sink defaults
	l.v.SetDefault("kafka.security_protocol", "PLAINTEXT")
	l.v.SetDefault("kafka.sasl_mechanism", "PLAIN")
	l.v.SetDefault("kafka.sasl_username", "")
	l.v.SetDefault("kafka.sasl_password", "")
	l.v.SetDefault("kafka.tls.enabled", false)
	l.v.SetDefault("kafka.tls.ca_cert_file", "")
	l.v.SetDefault("kafka.tls.client_cert_file", "")
	l.v.SetDefault("kafka.tls.client_key_file", "")
	l.v.SetDefault("kafka.tls.insecure_skip_verify", false)
	l.v.SetDefault("kafka.aws_msk.enabled", false)
	l.v.SetDefault("kafka.aws_msk.region", "")
	l.v.SetDefault("kafka.producer.required_acks", -1)
	l.v.SetDefault("kafka.producer.compression", "none")
	l.v.SetDefault("kafka.producer.max_message_bytes", 1000000)
	l.v.SetDefault("kafka.producer.retry_max", 3)
	l.v.SetDefault("kafka.producer.idempotent", false)

	// Observability defaults
	l.v.SetDefault("observability.logging.level", "info")
	l.v.SetDefault("observability.logging.format", "json")
	l.v.SetDefault("observability.logging.output", "stderr")
	l.v.SetDefault("observability.metrics.addr", "")
	l.v.SetDefault("observability.metrics.path", "/metrics")
}

// Validate validates the configuration
func (l *Loader) Validate(config *dto.ApplicationConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}

	loc, err := storage.ParseURI(config.Output.Destination)
	if err != nil {
		return &errors.ConfigError{Field: "output.destination", Reason: err.Error()}
	}
	if loc.Scheme == storage.SchemeKafka {
		if err := config.Kafka.Validate(); err != nil {
			return err
		}
	}

	switch config.Observability.Logging.Format {
	case "json", "console", "text":
	default:
		return &errors.ConfigError{
			Field:  "observability.logging.format",
			Reason: fmt.Sprintf("unsupported log format: %s", config.Observability.Logging.Format),
		}
	}

	switch config.Observability.Logging.Output {
	case "stderr", "stdout", "discard", "none", "":
	default:
		return &errors.ConfigError{
			Field:  "observability.logging.output",
			Reason: fmt.Sprintf("unsupported log output: %s", config.Observability.Logging.Output),
		}
	}

	if config.Observability.Logging.Output == "stdout" && isStdout(config.Output.Destination) {
		return &errors.ConfigError{
			Field:  "observability.logging.output",
			Reason: "logs cannot share stdout with record output",
		}
	}

	return nil
}

func isStdout(destination string) bool {
	return destination == "" || destination == "-"
}
