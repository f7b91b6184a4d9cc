// Package main contains the entrypoint for the botfleet multi-bot manager.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/edgard/botfleet/internal/api"
	"github.com/edgard/botfleet/internal/bot"
	"github.com/edgard/botfleet/internal/bot/handlers"
	"github.com/edgard/botfleet/internal/bot/tasks"
	"github.com/edgard/botfleet/internal/broadcast"
	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/logger"
	"github.com/edgard/botfleet/internal/registry"
	"github.com/edgard/botfleet/internal/telegram"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx, os.Args[1:])
	stop()
	os.Exit(exitCode)
}

// run wires every component, blocks until shutdown, and returns the process exit code.
func run(ctx context.Context, args []string) int {
	flags := pflag.NewFlagSet("botfleet", pflag.ContinueOnError)
	config.RegisterFlags(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		slog.Error("Failed to parse flags", "error", err)
		return 2
	}
	configPath, _ := flags.GetString("config")

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		slog.Error("Failed to load configuration", "path", configPath, "error", err)
		return 1
	}

	log, logCloser := logger.NewLogger(cfg.Logger)
	defer logCloser.Close()
	log.Info("Logger initialized", "level", cfg.Logger.Level, "json", cfg.Logger.JSON, "file", cfg.Logger.File)

	db, err := database.NewDB(cfg.Database.URL)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer database.CloseDB(db)
	store := database.NewStore(db, log)

	launcher := telegram.NewLauncher(telegram.LauncherConfig{
		PollTimeout:   cfg.Telegram.PollTimeout,
		LaunchTimeout: cfg.Registry.LaunchTimeout,
		ServerURL:     cfg.Telegram.ServerURL,
	}, log)

	hDeps := handlers.HandlerDeps{
		Logger:    log,
		Store:     store,
		Messages:  cfg.Messages,
		OpTimeout: cfg.Database.OpTimeout,
	}
	reg := registry.New(ctx, log, launcher, handlers.NewHandlerFactory(hDeps), registry.Config{
		LaunchTimeout: cfg.Registry.LaunchTimeout,
		StopTimeout:   cfg.Registry.StopTimeout,
	})

	server := api.NewServer(api.Deps{
		Logger:        log,
		Store:         store,
		Bots:          reg,
		Broadcaster:   broadcast.NewService(log, store, reg, cfg.Broadcast.SendTimeout),
		AdminPassword: cfg.Admin.Password,
	})

	tDeps := tasks.TaskDeps{
		Logger:        log,
		Store:         store,
		Registry:      reg,
		Notifications: cfg.Notifications,
	}
	sched, err := bot.NewScheduler(log, cfg.Scheduler, tasks.RegisterAllTasks(tDeps))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	fleet := bot.NewFleet(log, cfg.HTTP, store, reg, server.Handler(), sched)

	log.Info("Starting botfleet...")
	if err := fleet.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Botfleet stopped due to error", "error", err)
		return 1
	}

	log.Info("Botfleet stopped gracefully.")
	return 0
}
