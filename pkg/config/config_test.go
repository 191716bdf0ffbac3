package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	return &Config{
		Ledger:  LedgerConfig{Name: "orders-ledger", Region: "us-east-1", MaxSessionsPerLedger: 10, Kind: "memory"},
		Writer:  WriterConfig{Strategy: "back_link", MaxOCCRetries: 3, BackLinkFieldName: "oldDocumentId"},
		Mapping: MappingConfig{Kind: "identity"},
		Store:   StoreConfig{Kind: "memory", Capacity: 100},
		Channel: ChannelConfig{Kind: "mysqlbinlog", MySQLAddr: "127.0.0.1:3306", MySQLDatabase: "orders"},
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Metrics: MetricsConfig{Port: 9090},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejectsMissingLedgerName(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Name = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsUnknownWriterStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Writer.Strategy = "bogus"
	assert.Error(t, Validate(cfg))
}

func TestValidateRequiresIdentityFieldsForTableMapperStrategy(t *testing.T) {
	cfg := validConfig()
	cfg.Writer.Strategy = "table_mapper"
	assert.Error(t, Validate(cfg))

	cfg.Writer.IdentityFields = map[string]string{"*": "id"}
	assert.NoError(t, Validate(cfg))
}

func TestValidateRequiresFilePathForFileMappingKind(t *testing.T) {
	cfg := validConfig()
	cfg.Mapping.Kind = "file"
	assert.Error(t, Validate(cfg))

	cfg.Mapping.FilePath = "./mapping.json"
	assert.NoError(t, Validate(cfg))
}

func TestValidateRequiresDSNForNonMemoryStore(t *testing.T) {
	cfg := validConfig()
	cfg.Store.Kind = "mysql"
	assert.Error(t, Validate(cfg))

	cfg.Store.DSN = "user:pass@tcp(localhost:3306)/dedup"
	assert.NoError(t, Validate(cfg))
}

func TestValidateRequiresKafkaFieldsForKafkaChannel(t *testing.T) {
	cfg := validConfig()
	cfg.Channel = ChannelConfig{Kind: "kafka"}
	assert.Error(t, Validate(cfg))

	cfg.Channel.KafkaBrokers = []string{"localhost:9092"}
	cfg.Channel.KafkaTopics = []string{"orders"}
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsUnknownLedgerKind(t *testing.T) {
	cfg := validConfig()
	cfg.Ledger.Kind = "qldb"
	assert.Error(t, Validate(cfg))
}
