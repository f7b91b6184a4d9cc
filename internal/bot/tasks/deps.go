// Package tasks implements the scheduled maintenance tasks of botfleet.
package tasks

import (
	"log/slog"

	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
)

// RunningBots reports which bots have a live instance.
type RunningBots interface {
	List() []string
}

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger        *slog.Logger
	Store         database.Store
	Registry      RunningBots
	Notifications config.NotificationsConfig
}
