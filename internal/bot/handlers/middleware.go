// Package handlers contains the behaviors attached to every running bot: recording
// subscribers, the force-join reminder and the automatic reaction.
package handlers

import (
	"context"
	"log/slog"

	"github.com/edgard/botfleet/internal/telegram"
)

// Recover wraps an event handler so a panic while handling one event is logged and
// does not take down the bot's poll loop.
func Recover[E any](log *slog.Logger, next func(context.Context, telegram.Sender, E)) func(context.Context, telegram.Sender, E) {
	return func(ctx context.Context, s telegram.Sender, ev E) {
		defer func() {
			if r := recover(); r != nil {
				log.ErrorContext(ctx, "Recovered from panic in event handler", "panic", r)
			}
		}()
		next(ctx, s, ev)
	}
}
