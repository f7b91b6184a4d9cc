package handlers_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/botfleet/internal/bot/handlers"
	"github.com/edgard/botfleet/internal/config"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/telegram"
	"github.com/edgard/botfleet/internal/telegram/telegramtest"
)

func newDeps(t *testing.T) handlers.HandlerDeps {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "handlers.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := database.NewDB(dsn)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return handlers.HandlerDeps{
		Logger:    log,
		Store:     database.NewStore(db, log),
		Messages:  config.MessagesConfig{ForceJoinReminder: "join %s"},
		OpTimeout: time.Second,
	}
}

func launch(t *testing.T, deps handlers.HandlerDeps, cfg database.BotConfig) *telegramtest.Client {
	t.Helper()

	if err := deps.Store.CreateBot(context.Background(), &cfg); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	h := handlers.NewHandlerFactory(deps)(cfg)
	c, err := telegramtest.NewLauncher().Launch(context.Background(), cfg.ID, cfg.Token, h)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return c.(*telegramtest.Client)
}

func TestSubscribeRecordsOneRowPerUser(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	ctx := context.Background()
	client := launch(t, deps, database.BotConfig{ID: "a", Token: "1:a", Owner: "alice", Enabled: true})

	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 7, UserID: 7, Username: "first", FirstName: "F"})
	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 7, UserID: 7, Username: "second", FirstName: "S", LastName: "L"})

	subs, err := deps.Store.ListSubscribers(ctx, "a")
	if err != nil {
		t.Fatalf("ListSubscribers: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("got %d subscribers, want 1", len(subs))
	}
	if subs[0].Username != "second" || subs[0].LastName != "L" {
		t.Errorf("subscriber = %+v, want latest fields", subs[0])
	}
	if len(client.Sent()) != 0 {
		t.Errorf("unexpected messages sent: %+v", client.Sent())
	}
}

func TestSubscribeNotifiesOnlyNewSubscribers(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	ctx := context.Background()
	client := launch(t, deps, database.BotConfig{ID: "a", Token: "1:a", Owner: "alice", Enabled: true, NotifyNewUser: true})

	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 1, UserID: 1, Username: "u1"})
	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 1, UserID: 1, Username: "u1"})
	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 2, UserID: 2, Username: "u2"})

	notes, err := deps.Store.ListNotifications(ctx, false, 10)
	if err != nil {
		t.Fatalf("ListNotifications: %v", err)
	}
	if len(notes) != 2 {
		t.Errorf("got %d notifications, want 2", len(notes))
	}
}

func TestSubscribeUsesCurrentSettings(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	ctx := context.Background()
	cfg := database.BotConfig{ID: "a", Token: "1:a", Owner: "alice", Enabled: true}
	client := launch(t, deps, cfg)

	// Settings change after launch apply to the next event.
	cfg.ForceJoinChannel = "@news"
	cfg.NotifyNewUser = true
	if err := deps.Store.UpdateBot(ctx, &cfg); err != nil {
		t.Fatalf("UpdateBot: %v", err)
	}

	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 5, UserID: 5})

	sent := client.Sent()
	if len(sent) != 1 || sent[0].ChatID != 5 || sent[0].Text != "join @news" {
		t.Errorf("sent = %+v, want one reminder to chat 5", sent)
	}
	if n, _ := deps.Store.CountSubscribers(ctx, "a"); n != 1 {
		t.Errorf("subscribers = %d, want 1", n)
	}
}

func TestSubscribeReminderFailureIsSwallowed(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	ctx := context.Background()
	client := launch(t, deps, database.BotConfig{
		ID: "a", Token: "1:a", Owner: "alice", Enabled: true, ForceJoinChannel: "@news",
	})
	client.FailChat(9)

	client.Subscribe(ctx, telegram.SubscribeEvent{ChatID: 9, UserID: 9})

	if n, err := deps.Store.CountSubscribers(ctx, "a"); err != nil || n != 1 {
		t.Errorf("CountSubscribers = %d, %v; want 1", n, err)
	}
}

func TestReactionHandler(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name      string
		launchOn  bool
		currentOn bool
		emoji     string
		wantReply bool
		wantHook  bool
	}{
		{name: "enabled", launchOn: true, currentOn: true, emoji: "🔥", wantReply: true, wantHook: true},
		{name: "disabled after launch", launchOn: true, currentOn: false, emoji: "🔥", wantReply: false, wantHook: true},
		{name: "empty emoji", launchOn: true, currentOn: true, emoji: "", wantReply: false, wantHook: true},
		{name: "not attached", launchOn: false, currentOn: true, emoji: "🔥", wantReply: false, wantHook: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			deps := newDeps(t)
			ctx := context.Background()
			cfg := database.BotConfig{
				ID: "a", Token: "1:a", Owner: "alice", Enabled: true,
				ReactionEnabled: tc.launchOn, ReactionEmoji: "👍",
			}
			client := launch(t, deps, cfg)

			cfg.ReactionEnabled = tc.currentOn
			cfg.ReactionEmoji = tc.emoji
			if err := deps.Store.UpdateBot(ctx, &cfg); err != nil {
				t.Fatalf("UpdateBot: %v", err)
			}

			hooked := client.Message(ctx, telegram.MessageEvent{ChatID: 3, MessageID: 44, UserID: 3, Text: "hi"})
			if hooked != tc.wantHook {
				t.Fatalf("handler attached = %v, want %v", hooked, tc.wantHook)
			}

			sent := client.Sent()
			if !tc.wantReply {
				if len(sent) != 0 {
					t.Errorf("unexpected reply: %+v", sent)
				}
				return
			}
			if len(sent) != 1 || sent[0].ReplyTo != 44 || sent[0].Text != tc.emoji {
				t.Errorf("sent = %+v, want reply to 44 with %s", sent, tc.emoji)
			}
		})
	}
}

func TestReactionFailureDoesNotStopLaterMessages(t *testing.T) {
	t.Parallel()
	deps := newDeps(t)
	ctx := context.Background()
	client := launch(t, deps, database.BotConfig{
		ID: "a", Token: "1:a", Owner: "alice", Enabled: true, ReactionEnabled: true, ReactionEmoji: "👍",
	})
	client.FailChat(1)

	client.Message(ctx, telegram.MessageEvent{ChatID: 1, MessageID: 1})
	client.Message(ctx, telegram.MessageEvent{ChatID: 2, MessageID: 2})

	sent := client.Sent()
	if len(sent) != 1 || sent[0].ChatID != 2 {
		t.Errorf("sent = %+v, want one reply to chat 2", sent)
	}
}

func TestRecoverContainsPanics(t *testing.T) {
	t.Parallel()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := handlers.Recover(log, func(context.Context, telegram.Sender, telegram.MessageEvent) {
		panic("boom")
	})
	h(context.Background(), nil, telegram.MessageEvent{})
}
