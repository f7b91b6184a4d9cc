package telegram

import (
	"strings"

	"github.com/go-telegram/bot/models"
)

// SubscribeEvent is a user sending /start to a bot.
type SubscribeEvent struct {
	ChatID    int64
	UserID    int64
	Username  string
	FirstName string
	LastName  string
}

// MessageEvent is any other inbound message.
type MessageEvent struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Text      string
}

func subscribeEventFrom(update *models.Update) (SubscribeEvent, bool) {
	if update == nil || update.Message == nil || update.Message.From == nil {
		return SubscribeEvent{}, false
	}
	msg := update.Message
	return SubscribeEvent{
		ChatID:    msg.Chat.ID,
		UserID:    msg.From.ID,
		Username:  msg.From.Username,
		FirstName: msg.From.FirstName,
		LastName:  msg.From.LastName,
	}, true
}

func messageEventFrom(update *models.Update) (MessageEvent, bool) {
	if update == nil || update.Message == nil {
		return MessageEvent{}, false
	}
	msg := update.Message
	// /start is routed to the subscribe handler; never react to it.
	if isStartCommand(msg.Text) {
		return MessageEvent{}, false
	}
	ev := MessageEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.ID,
		Text:      msg.Text,
	}
	if msg.From != nil {
		ev.UserID = msg.From.ID
	}
	return ev, true
}

func isStartCommand(text string) bool {
	cmd, _, _ := strings.Cut(strings.TrimSpace(text), " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return cmd == "/start"
}
