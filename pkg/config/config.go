// Package config loads the load-applier's process configuration the way
// the teacher's pkg/config does: a Config struct tree bound through
// spf13/viper with registered defaults, a searched config file, live
// reload via fsnotify, and struct-tag validation on top via
// go-playground/validator.
package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// LedgerConfig names the ledger this process applies events against and
// selects the Driver implementation it connects through.
type LedgerConfig struct {
	Name                 string `mapstructure:"name" validate:"required"`
	Region               string `mapstructure:"region" validate:"required"`
	MaxSessionsPerLedger int    `mapstructure:"max_sessions_per_ledger" validate:"min=1"`
	// Kind selects the Driver implementation. "memory" is the only
	// built-in kind — this module vendors no real ledger/QLDB client, so
	// any other kind must be wired by the deployment's own Driver
	// implementation at build time.
	Kind string `mapstructure:"kind" validate:"oneof=memory"`
}

// ChannelConfig configures the single Dispatcher channel this process
// consumes from. Kind selects which of the concrete RecordSource/
// BatchSource implementations backs it; the queue/topic/event-bus/ledger-
// stream channel contracts themselves are transport-agnostic (see
// SPEC_FULL.md's DOMAIN STACK) and need a Source supplied by the
// deployment when Kind isn't one of the two built-in transports below.
type ChannelConfig struct {
	Kind string `mapstructure:"kind" validate:"oneof=kafka mysqlbinlog"`

	// Kafka fields, used when Kind == "kafka".
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaGroup   string   `mapstructure:"kafka_group"`
	KafkaTopics  []string `mapstructure:"kafka_topics"`

	// MySQL binlog fields, used when Kind == "mysqlbinlog".
	MySQLAddr     string `mapstructure:"mysql_addr"`
	MySQLUser     string `mapstructure:"mysql_user"`
	MySQLPassword string `mapstructure:"mysql_password"`
	MySQLDatabase string `mapstructure:"mysql_database"`
	SourceName    string `mapstructure:"source_name"`

	PollInterval string `mapstructure:"poll_interval"`
}

// WriterConfig selects and tunes the Writer strategy.
type WriterConfig struct {
	Strategy          string            `mapstructure:"strategy" validate:"oneof=back_link table_mapper"`
	StrictMode        bool              `mapstructure:"strict_mode"`
	MaxOCCRetries     int               `mapstructure:"max_occ_retries" validate:"min=0"`
	BackLinkFieldName string            `mapstructure:"before_image_field_name" validate:"required"`
	IdentityFields    map[string]string `mapstructure:"identity_fields"`
}

// MappingConfig selects and tunes the Mapper.
type MappingConfig struct {
	Kind     string `mapstructure:"kind" validate:"oneof=file identity"`
	FilePath string `mapstructure:"file_path"`
}

// StoreConfig selects the deduplication store backend.
type StoreConfig struct {
	Kind     string `mapstructure:"kind" validate:"oneof=memory mysql mongo cosmos"`
	Capacity int    `mapstructure:"capacity" validate:"min=1"`
	DSN      string `mapstructure:"dsn"`
	Database string `mapstructure:"database"`
	Table    string `mapstructure:"table"`
}

// AuditConfig selects the decision-audit sink.
type AuditConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Addresses []string `mapstructure:"addresses"`
	Index     string   `mapstructure:"index"`
}

// ServerConfig configures the health/metrics/config HTTP surface.
type ServerConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     string `mapstructure:"read_timeout"`
	WriteTimeout    string `mapstructure:"write_timeout"`
	ShutdownTimeout string `mapstructure:"shutdown_timeout"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Port      int    `mapstructure:"port" validate:"min=1,max=65535"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig configures the zerolog hot-path logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output"`
}

// Config is the complete load-applier process configuration.
type Config struct {
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Writer  WriterConfig  `mapstructure:"writer"`
	Mapping MappingConfig `mapstructure:"mapping"`
	Store   StoreConfig   `mapstructure:"store"`
	Channel ChannelConfig `mapstructure:"channel"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Server  ServerConfig  `mapstructure:"server"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// Global holds the last configuration loaded by Load. Components that
// cannot be handed a Config directly (the reload hook) read it here.
var Global *Config

// envPrefix matches spec.md's LEDGER_APPLIER_ environment override
// convention, e.g. LEDGER_APPLIER_LEDGER_NAME, LEDGER_APPLIER_WRITER_STRATEGY.
const envPrefix = "LEDGER_APPLIER"

func setDefaults() {
	viper.SetDefault("ledger.max_sessions_per_ledger", 10)
	viper.SetDefault("ledger.kind", "memory")

	viper.SetDefault("channel.kind", "mysqlbinlog")
	viper.SetDefault("channel.poll_interval", "0s")

	viper.SetDefault("writer.strategy", "back_link")
	viper.SetDefault("writer.strict_mode", false)
	viper.SetDefault("writer.max_occ_retries", 3)
	viper.SetDefault("writer.before_image_field_name", "oldDocumentId")

	viper.SetDefault("mapping.kind", "identity")

	viper.SetDefault("store.kind", "memory")
	viper.SetDefault("store.capacity", 10000)

	viper.SetDefault("audit.enabled", false)
	viper.SetDefault("audit.index", "load-applier-decisions")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "10s")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.namespace", "load_applier")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output", "stdout")
}

// Load reads configuration from /etc/ledger-applier/, $HOME/.ledger-applier
// and ./conf, applies LEDGER_APPLIER_-prefixed environment overrides, and
// validates the result. It wires fsnotify-backed hot reload the same way
// the teacher's LoadConfiguration does: a changed file re-populates Global
// but callers already holding a *Config see no change until they reload.
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("load-applier")
	viper.AddConfigPath("/etc/ledger-applier/")
	viper.AddConfigPath("$HOME/.ledger-applier")
	viper.AddConfigPath("./conf")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
		log.Warn().Msg("config: no config file found, using defaults and environment")
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode into struct: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	applyLogLevel(cfg.Logging.Level)

	viper.WatchConfig()
	viper.OnConfigChange(reloadConfig)

	Global = &cfg
	return &cfg, nil
}

func reloadConfig(e fsnotify.Event) {
	log.Info().Str("file", e.Name).Msg("config: file changed, reloading")

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		log.Error().Err(err).Msg("config: reload: decode failed, keeping previous configuration")
		return
	}
	if err := Validate(&cfg); err != nil {
		log.Error().Err(err).Msg("config: reload: validation failed, keeping previous configuration")
		return
	}

	applyLogLevel(cfg.Logging.Level)
	Global = &cfg
}

func applyLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
