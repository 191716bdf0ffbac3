// Command loadapplier is the process entry point, wiring Config into a
// registry/store/mapping/writer/dispatcher pipeline and running it under
// service.Service until a shutdown signal arrives. It replaces the
// teacher's cmd/replicator scratch script with a real wiring main.
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"

	"github.com/ledgerapply/loadapplier/pkg/api"
	"github.com/ledgerapply/loadapplier/pkg/audit"
	"github.com/ledgerapply/loadapplier/pkg/config"
	"github.com/ledgerapply/loadapplier/pkg/dispatcher"
	"github.com/ledgerapply/loadapplier/pkg/ledger"
	"github.com/ledgerapply/loadapplier/pkg/mapping"
	"github.com/ledgerapply/loadapplier/pkg/metrics"
	"github.com/ledgerapply/loadapplier/pkg/registry"
	"github.com/ledgerapply/loadapplier/pkg/service"
	"github.com/ledgerapply/loadapplier/pkg/store"
	"github.com/ledgerapply/loadapplier/pkg/writer"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("loadapplier: fatal startup error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	ctx := context.Background()

	driver, err := buildDriver(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("build ledger driver: %w", err)
	}
	defer driver.Close()

	tables, err := registry.New(ctx, driver)
	if err != nil {
		return fmt.Errorf("load active-tables registry: %w", err)
	}

	dedup, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("build dedup store: %w", err)
	}

	mapper, err := mapping.New(mapping.Kind(cfg.Mapping.Kind), cfg.Mapping.FilePath)
	if err != nil {
		return fmt.Errorf("build mapper: %w", err)
	}

	w, err := writer.New(writerConfigFrom(cfg.Writer), driver, tables, dedup)
	if err != nil {
		return fmt.Errorf("build writer: %w", err)
	}

	var auditSink audit.Sink
	if cfg.Audit.Enabled {
		auditSink, err = audit.NewElasticSink(cfg.Audit.Addresses, cfg.Audit.Index)
		if err != nil {
			return fmt.Errorf("build audit sink: %w", err)
		}
	}

	telemetry, err := metrics.NewTelemetryManager(cfg.Metrics)
	if err != nil {
		return fmt.Errorf("build telemetry manager: %w", err)
	}

	channel, closeChannel, err := buildChannel(cfg.Channel, mapper, w)
	if err != nil {
		return fmt.Errorf("build dispatcher channel: %w", err)
	}

	pollInterval, err := time.ParseDuration(cfg.Channel.PollInterval)
	if err != nil {
		pollInterval = 0
	}

	svc, err := service.New(service.Options{
		Config:    cfg,
		Logger:    logger,
		Telemetry: telemetry,
		Audit:     auditSink,
		Channels: []service.NamedChannel{
			{Name: cfg.Channel.Kind, Channel: channel, PollInterval: pollInterval},
		},
	})
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	apiServer := api.NewServer(cfg, svc, telemetry)

	shutdown := svc.ShutdownHandlerRef()
	shutdown.AddHook(service.CreateChannelStopHook(cfg.Channel.Kind, func(ctx context.Context) error {
		return closeChannel()
	}))
	shutdown.AddHook(service.ShutdownHook{
		Name:     "api_server_stop",
		Priority: 5,
		Timeout:  10 * time.Second,
		Fn:       apiServer.Stop,
	})

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Error("api server stopped with error")
		}
	}()

	return shutdown.Wait()
}

// buildDriver constructs the ledger.Driver for cfg.Kind. "memory" is the
// only built-in kind; this module vendors no QLDB client, so any other
// kind requires a deployment-supplied Driver wired in here at build time.
func buildDriver(cfg config.LedgerConfig) (ledger.Driver, error) {
	switch cfg.Kind {
	case "memory", "":
		return ledger.NewMemoryDriver(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger.kind %q", cfg.Kind)
	}
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (writer.DedupStore, error) {
	switch cfg.Kind {
	case "mysql":
		return store.NewMySQLStore(ctx, cfg.DSN, cfg.Table)
	case "mongo":
		return store.NewMongoStore(ctx, cfg.DSN, cfg.Database, cfg.Table)
	case "cosmos":
		return store.NewCosmosStore(ctx, store.CosmosConfig{
			Endpoint:  cfg.DSN,
			Database:  cfg.Database,
			Container: cfg.Table,
		})
	case "memory", "":
		return store.NewMemoryStore(cfg.Capacity), nil
	default:
		return nil, fmt.Errorf("unsupported store.kind %q", cfg.Kind)
	}
}

// writerConfigFrom translates config.WriterConfig's underscore-separated
// strategy names (the env-var-friendly spelling validated against
// writer.strategy's oneof tag) into writer.Strategy's hyphenated
// constants.
func writerConfigFrom(cfg config.WriterConfig) writer.Config {
	strategy := writer.Strategy(strings.ReplaceAll(cfg.Strategy, "_", "-"))
	return writer.Config{
		Strategy:          strategy,
		StrictMode:        cfg.StrictMode,
		MaxOCCRetries:     cfg.MaxOCCRetries,
		BackLinkFieldName: cfg.BackLinkFieldName,
		IdentityFields:    cfg.IdentityFields,
	}
}

// buildChannel constructs the single configured Dispatcher channel along
// with a close function the shutdown hook calls to release its source.
func buildChannel(cfg config.ChannelConfig, mapper mapping.Mapper, w writer.Writer) (dispatcher.Channel, func() error, error) {
	switch cfg.Kind {
	case "kafka":
		src, err := dispatcher.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaGroup, cfg.KafkaTopics)
		if err != nil {
			return nil, nil, err
		}
		ch := &dispatcher.PartitionedLogChannel{Source: src, Mapper: mapper, Writer: w}
		return ch, src.Close, nil

	case "mysqlbinlog":
		tracker := store.NewMemoryPositionTracker()
		src, err := dispatcher.NewMySQLBinlogSource(cfg.MySQLAddr, cfg.MySQLUser, cfg.MySQLPassword, cfg.MySQLDatabase, cfg.SourceName, tracker)
		if err != nil {
			return nil, nil, err
		}
		ch := &dispatcher.CDCChannel{Source: src, Mapper: mapper, Writer: w}
		return ch, src.Close, nil

	default:
		return nil, nil, fmt.Errorf("unsupported channel.kind %q", cfg.Kind)
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
