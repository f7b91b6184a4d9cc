package handlers

import (
	"context"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/registry"
	"github.com/edgard/botfleet/internal/telegram"
)

// NewHandlerFactory returns the factory the registry uses to attach behaviors to each bot it
// launches. The subscription handler is always attached; the reaction handler only when the
// launch snapshot has reactions enabled.
func NewHandlerFactory(deps HandlerDeps) registry.HandlerFactory {
	return func(cfg database.BotConfig) telegram.Handlers {
		log := deps.Logger.With("bot_id", cfg.ID)

		h := telegram.Handlers{
			OnSubscribe: Recover(log, NewSubscribeHandler(deps, cfg)),
			OnError: func(err error) {
				log.Warn("Telegram adapter error", "error", err)
			},
		}
		if cfg.ReactionEnabled {
			h.OnMessage = Recover(log, NewReactionHandler(deps, cfg.ID))
		}
		return h
	}
}

// opContext bounds a store call by the configured timeout.
func (d HandlerDeps) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.OpTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.OpTimeout)
}
