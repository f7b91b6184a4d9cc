// Package telegram adapts github.com/go-telegram/bot to the small surface the bot registry needs:
// launch a long-polling client for a token, route /start and plain messages to callbacks,
// and send or reply with text.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/edgard/botfleet/internal/logger"
)

// Sender sends text to platform chats on behalf of one bot.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
	Reply(ctx context.Context, chatID int64, messageID int, text string) error
}

// Client is a launched adapter. Run blocks in the long-poll loop until ctx is cancelled.
type Client interface {
	Sender
	Run(ctx context.Context)
}

// Handlers are the behaviors attached to a client at launch. OnMessage may be nil.
type Handlers struct {
	OnSubscribe func(ctx context.Context, s Sender, ev SubscribeEvent)
	OnMessage   func(ctx context.Context, s Sender, ev MessageEvent)
	OnError     func(err error)
}

// Launcher constructs clients bound to a token. Launch fails when the platform rejects
// the token or cannot be reached.
type Launcher interface {
	Launch(ctx context.Context, botID, token string, h Handlers) (Client, error)
}

// LauncherConfig configures every client created by NewLauncher.
type LauncherConfig struct {
	PollTimeout   time.Duration
	LaunchTimeout time.Duration
	ServerURL     string
}

type launcher struct {
	cfg    LauncherConfig
	logger *slog.Logger
}

// NewLauncher returns a Launcher backed by go-telegram/bot.
func NewLauncher(cfg LauncherConfig, log *slog.Logger) Launcher {
	if log == nil {
		log = slog.Default()
	}
	return &launcher{cfg: cfg, logger: log.With("component", "telegram")}
}

func (l *launcher) Launch(ctx context.Context, botID, token string, h Handlers) (Client, error) {
	if token == "" {
		return nil, errors.New("telegram bot token cannot be empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := l.logger.With("bot_id", botID)

	opts := []bot.Option{
		bot.WithMiddlewares(logger.Middleware(log)),
		bot.WithDefaultHandler(messageHandler(h)),
		bot.WithHTTPClient(l.cfg.PollTimeout, &http.Client{Timeout: l.cfg.PollTimeout + 10*time.Second}),
	}
	if l.cfg.LaunchTimeout > 0 {
		opts = append(opts, bot.WithCheckInitTimeout(l.cfg.LaunchTimeout))
	}
	if l.cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(l.cfg.ServerURL))
	}
	if h.OnError != nil {
		opts = append(opts, bot.WithErrorsHandler(h.OnError))
	}

	// bot.New calls getMe, so an invalid token or unreachable API fails here.
	b, err := bot.New(token, opts...)
	if err != nil {
		log.Warn("Failed to create Telegram bot instance", "error", err)
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	b.RegisterHandler(bot.HandlerTypeMessageText, "start", bot.MatchTypeCommandStartOnly, startHandler(h))

	log.Info("Telegram bot instance created")
	return &client{b: b}, nil
}

type client struct {
	b *bot.Bot
}

func (c *client) Run(ctx context.Context) {
	c.b.Start(ctx)
}

func (c *client) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := c.b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	return err
}

func (c *client) Reply(ctx context.Context, chatID int64, messageID int, text string) error {
	_, err := c.b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            text,
		ReplyParameters: &models.ReplyParameters{MessageID: messageID},
	})
	return err
}

func startHandler(h Handlers) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		ev, ok := subscribeEventFrom(update)
		if !ok || h.OnSubscribe == nil {
			return
		}
		h.OnSubscribe(ctx, &client{b: b}, ev)
	}
}

func messageHandler(h Handlers) bot.HandlerFunc {
	return func(ctx context.Context, b *bot.Bot, update *models.Update) {
		ev, ok := messageEventFrom(update)
		if !ok || h.OnMessage == nil {
			return
		}
		h.OnMessage(ctx, &client{b: b}, ev)
	}
}
