package handlers

import (
	"log/slog"
	"time"

	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
)

// HandlerDeps provides dependencies for the per-bot event handlers.
type HandlerDeps struct {
	Logger   *slog.Logger
	Store    database.Store
	Messages config.MessagesConfig
	// OpTimeout bounds each store call made while handling an event. Zero means no bound.
	OpTimeout time.Duration
}
