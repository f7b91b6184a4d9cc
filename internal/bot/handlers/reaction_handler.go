package handlers

import (
	"context"

	"github.com/edgard/botfleet/internal/telegram"
)

// NewReactionHandler returns the handler that replies to each inbound message with the
// bot's reaction emoji.
func NewReactionHandler(deps HandlerDeps, botID string) func(context.Context, telegram.Sender, telegram.MessageEvent) {
	return reactionHandler{deps: deps, botID: botID}.Handle
}

type reactionHandler struct {
	deps  HandlerDeps
	botID string
}

func (h reactionHandler) Handle(ctx context.Context, s telegram.Sender, ev telegram.MessageEvent) {
	log := h.deps.Logger.With("handler", "reaction", "bot_id", h.botID)

	opCtx, cancel := h.deps.opContext(ctx)
	cfg, err := h.deps.Store.GetBot(opCtx, h.botID)
	cancel()
	if err != nil {
		log.WarnContext(ctx, "Failed to reload bot settings; skipping reaction", "error", err)
		return
	}
	if !cfg.ReactionEnabled || cfg.ReactionEmoji == "" {
		return
	}

	if err := s.Reply(ctx, ev.ChatID, ev.MessageID, cfg.ReactionEmoji); err != nil {
		log.WarnContext(ctx, "Failed to send reaction", "error", err, "chat_id", ev.ChatID, "message_id", ev.MessageID)
	}
}
