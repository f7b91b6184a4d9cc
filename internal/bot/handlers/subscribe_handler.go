package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/telegram"
)

// NewSubscribeHandler returns the handler for /start. snapshot is the configuration the
// bot was launched with; it is used only when the current row cannot be read.
func NewSubscribeHandler(deps HandlerDeps, snapshot database.BotConfig) func(context.Context, telegram.Sender, telegram.SubscribeEvent) {
	return subscribeHandler{deps: deps, snapshot: snapshot}.Handle
}

type subscribeHandler struct {
	deps     HandlerDeps
	snapshot database.BotConfig
}

func (h subscribeHandler) Handle(ctx context.Context, s telegram.Sender, ev telegram.SubscribeEvent) {
	log := h.deps.Logger.With("handler", "subscribe", "bot_id", h.snapshot.ID, "user_id", ev.UserID)

	log.InfoContext(ctx, "Handling /start", "chat_id", ev.ChatID)

	cfg := h.current(ctx, log)

	opCtx, cancel := h.deps.opContext(ctx)
	defer cancel()

	created, err := h.deps.Store.UpsertSubscriber(opCtx, &database.Subscriber{
		BotID:          cfg.ID,
		PlatformUserID: ev.UserID,
		Username:       ev.Username,
		FirstName:      ev.FirstName,
		LastName:       ev.LastName,
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to record subscriber", "error", err)
		return
	}

	if created && cfg.NotifyNewUser {
		rec := &database.NotificationRecord{BotID: cfg.ID, PlatformUserID: ev.UserID, Username: ev.Username}
		if err := h.deps.Store.InsertNotification(opCtx, rec); err != nil {
			log.ErrorContext(ctx, "Failed to record new subscriber notification", "error", err)
		}
	}

	if cfg.ForceJoinChannel == "" {
		return
	}
	reminder := fmt.Sprintf(h.deps.Messages.ForceJoinReminder, cfg.ForceJoinChannel)
	if err := s.SendText(ctx, ev.ChatID, reminder); err != nil {
		log.WarnContext(ctx, "Failed to send force-join reminder", "error", err, "chat_id", ev.ChatID)
		return
	}
	log.DebugContext(ctx, "Sent force-join reminder", "chat_id", ev.ChatID, "channel", cfg.ForceJoinChannel)
}

// current re-reads the bot so settings changed after launch apply to this event.
func (h subscribeHandler) current(ctx context.Context, log *slog.Logger) database.BotConfig {
	opCtx, cancel := h.deps.opContext(ctx)
	defer cancel()

	cfg, err := h.deps.Store.GetBot(opCtx, h.snapshot.ID)
	if err != nil {
		log.WarnContext(ctx, "Failed to reload bot settings; using launch snapshot", "error", err)
		return h.snapshot
	}
	return *cfg
}
