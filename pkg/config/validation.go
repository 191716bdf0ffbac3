package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate runs struct-tag validation over cfg, matching the teacher's
// loader.go use of go-playground/validator, and adds the cross-field
// checks validator tags alone can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(verrs)
		}
		return err
	}

	if cfg.Writer.Strategy == "table_mapper" && len(cfg.Writer.IdentityFields) == 0 {
		return fmt.Errorf("writer.identity_fields is required when writer.strategy is table_mapper")
	}
	if cfg.Mapping.Kind == "file" && cfg.Mapping.FilePath == "" {
		return fmt.Errorf("mapping.file_path is required when mapping.kind is file")
	}
	if cfg.Store.Kind != "memory" && cfg.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required when store.kind is %q", cfg.Store.Kind)
	}
	if cfg.Audit.Enabled && len(cfg.Audit.Addresses) == 0 {
		return fmt.Errorf("audit.addresses is required when audit.enabled is true")
	}
	if cfg.Channel.Kind == "kafka" && (len(cfg.Channel.KafkaBrokers) == 0 || len(cfg.Channel.KafkaTopics) == 0) {
		return fmt.Errorf("channel.kafka_brokers and channel.kafka_topics are required when channel.kind is kafka")
	}
	if cfg.Channel.Kind == "mysqlbinlog" && (cfg.Channel.MySQLAddr == "" || cfg.Channel.MySQLDatabase == "") {
		return fmt.Errorf("channel.mysql_addr and channel.mysql_database are required when channel.kind is mysqlbinlog")
	}

	return nil
}

func formatValidationErrors(verrs validator.ValidationErrors) error {
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q validation (got %q)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
}
