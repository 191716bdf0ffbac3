package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownHandler manages graceful shutdown of the load applier service,
// adapted from the teacher's pkg/replicator.ShutdownHandler. Like the
// teacher, lifecycle events here go through logrus while the hot path
// (Writer, Dispatcher) logs through zerolog.
type ShutdownHandler struct {
	service         *Service
	logger          *logrus.Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
	hooks           []ShutdownHook
	mu              sync.RWMutex
	isShuttingDown  bool
}

// ShutdownHook is a named, priority-ordered cleanup step run during
// shutdown before the service itself stops.
type ShutdownHook struct {
	Name     string
	Priority int // lower runs first
	Timeout  time.Duration
	Fn       func(ctx context.Context) error
}

// ShutdownHandlerOptions configures a ShutdownHandler.
type ShutdownHandlerOptions struct {
	Service         *Service
	Logger          *logrus.Logger
	ShutdownTimeout time.Duration
	Signals         []os.Signal
}

// NewShutdownHandler builds a ShutdownHandler with sane defaults.
func NewShutdownHandler(opts ShutdownHandlerOptions) *ShutdownHandler {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.Signals == nil {
		opts.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	}

	return &ShutdownHandler{
		service:         opts.Service,
		logger:          opts.Logger,
		shutdownTimeout: opts.ShutdownTimeout,
		signals:         opts.Signals,
		hooks:           make([]ShutdownHook, 0),
	}
}

// AddHook registers a cleanup step, keeping hooks sorted by Priority.
func (sh *ShutdownHandler) AddHook(hook ShutdownHook) {
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if hook.Timeout == 0 {
		hook.Timeout = 10 * time.Second
	}
	sh.hooks = append(sh.hooks, hook)
	for i := len(sh.hooks) - 1; i > 0; i-- {
		if sh.hooks[i].Priority < sh.hooks[i-1].Priority {
			sh.hooks[i], sh.hooks[i-1] = sh.hooks[i-1], sh.hooks[i]
		} else {
			break
		}
	}
}

// Wait blocks until a configured signal arrives, then runs Shutdown.
func (sh *ShutdownHandler) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sh.signals...)

	sh.logger.WithField("signals", sh.signals).Info("waiting for shutdown signal")
	sig := <-sigChan
	sh.logger.WithField("signal", sig).Info("received shutdown signal")

	return sh.Shutdown()
}

// Shutdown runs every hook in priority order, then stops the service.
func (sh *ShutdownHandler) Shutdown() error {
	sh.mu.Lock()
	if sh.isShuttingDown {
		sh.mu.Unlock()
		return fmt.Errorf("shutdown already in progress")
	}
	sh.isShuttingDown = true
	sh.mu.Unlock()

	sh.logger.Info("starting graceful shutdown")
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), sh.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := sh.executeHooks(ctx); err != nil {
		sh.logger.WithError(err).Error("some shutdown hooks failed")
		shutdownErr = err
	}

	if sh.service != nil {
		sh.logger.Info("stopping service")
		if err := sh.service.Stop(ctx); err != nil {
			sh.logger.WithError(err).Error("failed to stop service")
			if shutdownErr == nil {
				shutdownErr = err
			}
		}
	}

	duration := time.Since(start)
	if shutdownErr == nil {
		sh.logger.WithField("duration", duration).Info("graceful shutdown completed")
	} else {
		sh.logger.WithFields(logrus.Fields{"duration": duration, "error": shutdownErr}).Error("graceful shutdown completed with errors")
	}
	return shutdownErr
}

func (sh *ShutdownHandler) executeHooks(ctx context.Context) error {
	sh.mu.RLock()
	hooks := make([]ShutdownHook, len(sh.hooks))
	copy(hooks, sh.hooks)
	sh.mu.RUnlock()

	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		hookCtx, hookCancel := context.WithTimeout(ctx, hook.Timeout)
		start := time.Now()
		err := hook.Fn(hookCtx)
		hookCancel()

		if err != nil {
			sh.logger.WithFields(logrus.Fields{"hook": hook.Name, "duration": time.Since(start), "error": err}).Error("shutdown hook failed")
			errs = append(errs, fmt.Errorf("hook %s failed: %w", hook.Name, err))
		} else {
			sh.logger.WithFields(logrus.Fields{"hook": hook.Name, "duration": time.Since(start)}).Debug("shutdown hook completed")
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown hooks failed: %v", errs)
	}
	return nil
}

// IsShuttingDown reports whether Shutdown has been called.
func (sh *ShutdownHandler) IsShuttingDown() bool {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.isShuttingDown
}

// HandlePanic recovers a panic, attempts a graceful shutdown, then exits.
func (sh *ShutdownHandler) HandlePanic() {
	if r := recover(); r != nil {
		sh.logger.WithField("panic", r).Error("panic occurred, initiating graceful shutdown")

		go func() {
			if err := sh.Shutdown(); err != nil {
				sh.logger.WithError(err).Error("failed to shutdown gracefully after panic")
			}
			os.Exit(1)
		}()

		time.Sleep(sh.shutdownTimeout + 5*time.Second)
		sh.logger.Error("forced exit after panic")
		os.Exit(1)
	}
}

// CreateChannelStopHook builds a hook that stops one named Dispatcher
// channel's backing source, for sources with their own Close method
// (KafkaSource, MySQLBinlogSource).
func CreateChannelStopHook(channelName string, stop func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{
		Name:     fmt.Sprintf("channel_%s_stop", channelName),
		Priority: 10,
		Timeout:  15 * time.Second,
		Fn:       stop,
	}
}

// CreateAuditFlushHook builds a hook that gives the audit sink a final
// chance to flush before the service stops.
func CreateAuditFlushHook(flush func(ctx context.Context) error) ShutdownHook {
	return ShutdownHook{
		Name:     "audit_flush",
		Priority: 20,
		Timeout:  10 * time.Second,
		Fn:       flush,
	}
}
