// Package bot orchestrates the botfleet process: it bootstraps the registry from storage,
// serves the HTTP API, runs the scheduler, and stops every bot on shutdown.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/registry"
)

// Fleet owns the lifecycle of every long-running component.
type Fleet struct {
	logger    *slog.Logger
	cfg       config.HTTPConfig
	store     database.Store
	registry  *registry.Registry
	handler   http.Handler
	scheduler *Scheduler

	// ready is closed once the HTTP listener is bound.
	ready chan struct{}
	addr  net.Addr
}

// NewFleet wires the orchestrator. handler serves the API.
func NewFleet(
	logger *slog.Logger,
	cfg config.HTTPConfig,
	store database.Store,
	reg *registry.Registry,
	handler http.Handler,
	scheduler *Scheduler,
) *Fleet {
	return &Fleet{
		logger:    logger.With("component", "fleet"),
		cfg:       cfg,
		store:     store,
		registry:  reg,
		handler:   handler,
		scheduler: scheduler,
		ready:     make(chan struct{}),
	}
}

// Run starts every enabled bot, then serves until ctx is cancelled or a component fails.
// On the way out it stops all running bots.
func (f *Fleet) Run(ctx context.Context) error {
	f.logger.Info("Starting fleet orchestrator...")

	enabled, err := f.store.ListEnabledBots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load enabled bots: %w", err)
	}
	if err := f.registry.ReconcileAll(ctx, enabled); err != nil {
		// Launch failures are per bot; the rest of the fleet keeps running.
		f.logger.Warn("Some bots failed to start", "error", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(f.cfg.Port)))
	if err != nil {
		f.stopBots()
		return fmt.Errorf("failed to listen on port %d: %w", f.cfg.Port, err)
	}
	f.addr = ln.Addr()
	close(f.ready)

	server := &http.Server{
		Handler:      f.handler,
		ReadTimeout:  f.cfg.ReadTimeout,
		WriteTimeout: f.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		f.logger.Info("HTTP API listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		f.logger.Info("Shutdown signal received, stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			f.logger.Error("Error shutting down HTTP server", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		if f.scheduler == nil {
			return nil
		}
		if err := f.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		f.logger.Info("Shutdown signal received, stopping scheduler...")
		if err := f.scheduler.Stop(); err != nil {
			f.logger.Error("Error stopping scheduler", "error", err)
		}
		return nil
	})

	f.logger.Info("Fleet running. Waiting for shutdown signal or error...", "bots_running", len(f.registry.List()))
	err = g.Wait()

	f.stopBots()

	if err != nil && !errors.Is(err, context.Canceled) {
		f.logger.Error("Fleet stopped due to error", "error", err)
		return err
	}

	f.logger.Info("Fleet stopped gracefully.")
	return nil
}

// Addr returns the bound API address once the listener is up.
func (f *Fleet) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-f.ready:
		return f.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fleet) stopBots() {
	stopCtx, cancel := context.WithTimeout(context.Background(), f.shutdownTimeout())
	defer cancel()
	if err := f.registry.StopAll(stopCtx); err != nil {
		f.logger.Warn("Some bots did not stop cleanly", "error", err)
	}
}

func (f *Fleet) shutdownTimeout() time.Duration {
	if f.cfg.ShutdownTimeout > 0 {
		return f.cfg.ShutdownTimeout
	}
	return 10 * time.Second
}
