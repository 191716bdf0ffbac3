package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/ledgerapply/loadapplier/pkg/config"
)

// TelemetryManager owns the OpenTelemetry meter provider and the
// counters/histograms the Writer and Dispatcher report into, exposed
// through the OTel Prometheus bridge exporter rather than an OTLP
// collector, since there's no collector deployment in this system.
type TelemetryManager struct {
	cfg    config.MetricsConfig
	reg    *prometheus.Registry
	mp     *sdkmetric.MeterProvider
	meter  metric.Meter

	eventsApplied metric.Int64Counter
	eventsSkipped metric.Int64Counter
	eventsFailed  metric.Int64Counter
	batchSize     metric.Float64Histogram

	mutex   sync.RWMutex
	started bool
}

// NewTelemetryManager builds a TelemetryManager from cfg. It does not
// start collecting until Start is called.
func NewTelemetryManager(cfg config.MetricsConfig) (*TelemetryManager, error) {
	tm := &TelemetryManager{cfg: cfg}
	if !cfg.Enabled {
		return tm, nil
	}
	if err := tm.initialize(); err != nil {
		return nil, fmt.Errorf("metrics: initialize telemetry: %w", err)
	}
	return tm, nil
}

func (tm *TelemetryManager) initialize() error {
	tm.reg = prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(tm.reg))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	tm.mp = sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			attribute.String("service.name", tm.cfg.Namespace),
		)),
	)
	otel.SetMeterProvider(tm.mp)
	tm.meter = tm.mp.Meter(tm.cfg.Namespace)

	return tm.createInstruments()
}

func (tm *TelemetryManager) createInstruments() error {
	var err error

	tm.eventsApplied, err = tm.meter.Int64Counter(
		tm.cfg.Namespace+"_events_applied_total",
		metric.WithDescription("Total number of events applied to the ledger"),
	)
	if err != nil {
		return fmt.Errorf("create events_applied counter: %w", err)
	}

	tm.eventsSkipped, err = tm.meter.Int64Counter(
		tm.cfg.Namespace+"_events_skipped_total",
		metric.WithDescription("Total number of events skipped as stale, duplicate, or already-applied"),
	)
	if err != nil {
		return fmt.Errorf("create events_skipped counter: %w", err)
	}

	tm.eventsFailed, err = tm.meter.Int64Counter(
		tm.cfg.Namespace+"_events_failed_total",
		metric.WithDescription("Total number of events that failed validation or ledger write"),
	)
	if err != nil {
		return fmt.Errorf("create events_failed counter: %w", err)
	}

	tm.batchSize, err = tm.meter.Float64Histogram(
		tm.cfg.Namespace+"_dispatcher_batch_size",
		metric.WithDescription("Size of batches received by Dispatcher channels"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return fmt.Errorf("create dispatcher_batch_size histogram: %w", err)
	}

	return nil
}

// RecordDecision increments the counter matching decision ("applied",
// "skipped", or "failed" — writer.Decision's underlying values). A nil
// TelemetryManager or a disabled one is a no-op, so callers never need a
// nil check before reporting. Takes the decision as a string rather than
// writer.Decision to avoid an import cycle (writer reports OCC retries
// into this package).
func (tm *TelemetryManager) RecordDecision(ctx context.Context, table, decision string) {
	if tm == nil || !tm.cfg.Enabled {
		return
	}
	switch decision {
	case "applied":
		tm.eventsApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
	case "skipped":
		tm.eventsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
	case "failed":
		tm.eventsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
	}
}

// RecordBatchSize reports a Dispatcher channel's batch size.
func (tm *TelemetryManager) RecordBatchSize(ctx context.Context, channel string, size int) {
	if tm == nil || !tm.cfg.Enabled {
		return
	}
	tm.batchSize.Record(ctx, float64(size), metric.WithAttributes(attribute.String("channel", channel)))
}

// Handler exposes both the OTel-bridged registry and the promauto default
// registry (used by counters.go) on a single /metrics endpoint.
func (tm *TelemetryManager) Handler() http.Handler {
	if tm == nil || tm.reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(
		prometheus.Gatherers{tm.reg, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)
}

// Start marks the manager started; collection itself runs continuously
// once instruments are created, so Start only guards double-start.
func (tm *TelemetryManager) Start(ctx context.Context) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if tm.started {
		return fmt.Errorf("telemetry manager already started")
	}
	if !tm.cfg.Enabled {
		log.Info().Msg("metrics: telemetry disabled, skipping start")
		return nil
	}

	tm.started = true
	log.Info().Int("port", tm.cfg.Port).Str("path", tm.cfg.Path).Msg("metrics: telemetry started")
	return nil
}

// Stop shuts down the meter provider, flushing any buffered data.
func (tm *TelemetryManager) Stop(ctx context.Context) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if !tm.started {
		return nil
	}
	if tm.mp != nil {
		if err := tm.mp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("metrics: meter provider shutdown failed")
		}
	}
	tm.started = false
	return nil
}
