// Package service wires the configured Dispatcher channels, the Writer,
// and the telemetry/audit surface into a single runnable process, the way
// the teacher's pkg/replicator.Service wires streams, the API server, and
// the metrics collector together.
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sirupsen/logrus"

	"github.com/ledgerapply/loadapplier/pkg/audit"
	"github.com/ledgerapply/loadapplier/pkg/config"
	"github.com/ledgerapply/loadapplier/pkg/dispatcher"
	"github.com/ledgerapply/loadapplier/pkg/metrics"
)

// Status mirrors the teacher's ServiceStatus lifecycle.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// NamedChannel pairs a Dispatcher channel with the name it is reported
// under in logs, metrics, and the /healthz endpoint.
type NamedChannel struct {
	Name string
	Channel dispatcher.Channel
	// PollInterval is how often Run is invoked. Channels backed by a
	// blocking Receive/ReceiveBatch (Kafka, MySQL binlog) should use a
	// near-zero interval since the block itself paces the loop; channels
	// polling a non-blocking source should set a real interval.
	PollInterval time.Duration
}

// Options configures a Service.
type Options struct {
	Config    *config.Config
	Logger    *logrus.Logger
	Telemetry *metrics.TelemetryManager
	Audit     audit.Sink
	Channels  []NamedChannel
}

// Service runs every configured channel concurrently until Stop is called
// or a channel reports a permanent error.
type Service struct {
	cfg       *config.Config
	logger    *logrus.Logger
	telemetry *metrics.TelemetryManager
	audit     audit.Sink
	channels  []NamedChannel
	shutdown  *ShutdownHandler

	status    Status
	startTime time.Time
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
}

// New builds a Service from opts. Channels are not started until Start is
// called.
func New(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("service: config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("service: at least one channel is required")
	}

	s := &Service{
		cfg:       opts.Config,
		logger:    opts.Logger,
		telemetry: opts.Telemetry,
		audit:     opts.Audit,
		channels:  opts.Channels,
		stopCh:    make(chan struct{}),
		status:    StatusStopped,
	}
	s.shutdown = NewShutdownHandler(ShutdownHandlerOptions{Service: s, Logger: opts.Logger})
	return s, nil
}

// Start launches every configured channel's poll loop and the telemetry
// manager, returning once everything is running (not once it's done).
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusStopped {
		return fmt.Errorf("service: already running or starting")
	}
	s.status = StatusStarting
	s.startTime = time.Now()

	if s.telemetry != nil {
		if err := s.telemetry.Start(ctx); err != nil {
			s.status = StatusError
			return fmt.Errorf("service: start telemetry: %w", err)
		}
	}

	for _, nc := range s.channels {
		s.wg.Add(1)
		go s.runChannel(ctx, nc)
	}

	s.status = StatusRunning
	s.logger.WithField("channels", len(s.channels)).Info("load applier service started")
	return nil
}

// runChannel polls one channel until stopCh closes. A single failed
// Run call is logged and retried after PollInterval; channels don't stop
// the whole service on a transient error, matching the Dispatcher
// contracts' own per-item/per-batch failure handling upstream.
func (s *Service) runChannel(ctx context.Context, nc NamedChannel) {
	defer s.wg.Done()

	interval := nc.PollInterval
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := nc.Channel.Run(ctx); err != nil {
			log.Warn().Err(err).Str("channel", nc.Name).Msg("service: channel run failed")
			if s.telemetry != nil {
				metrics.RecordBatchFailure(nc.Name)
			}
		}

		if interval > 0 {
			select {
			case <-time.After(interval):
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop signals every channel loop to exit and waits up to the context
// deadline for them to do so.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.status != StatusRunning {
		s.mu.Unlock()
		return fmt.Errorf("service: not running")
	}
	s.status = StatusStopping
	s.mu.Unlock()

	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all channels stopped")
	case <-ctx.Done():
		s.logger.Warn("shutdown context cancelled before all channels stopped")
	}

	if s.telemetry != nil {
		if err := s.telemetry.Stop(ctx); err != nil {
			s.logger.WithError(err).Warn("telemetry stop failed")
		}
	}

	s.mu.Lock()
	s.status = StatusStopped
	s.mu.Unlock()
	s.logger.WithField("uptime", time.Since(s.startTime)).Info("load applier service stopped")
	return nil
}

// GetStatus returns the current lifecycle status.
func (s *Service) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// ShutdownHandler returns the signal-driven shutdown handler so cmd/
// can call Wait() on it.
func (s *Service) ShutdownHandlerRef() *ShutdownHandler {
	return s.shutdown
}
