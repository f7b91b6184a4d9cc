package broadcast_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgard/botfleet/internal/broadcast"
	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/registry"
	"github.com/edgard/botfleet/internal/telegram/telegramtest"
)

type fixture struct {
	store    database.Store
	launcher *telegramtest.Launcher
	registry *registry.Registry
	service  *broadcast.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "broadcast.db") + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := database.NewDB(dsn)
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { database.CloseDB(db) })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := database.NewStore(db, log)
	launcher := telegramtest.NewLauncher()
	reg := registry.New(ctx, log, launcher, nil, registry.Config{StopTimeout: time.Second})

	return &fixture{
		store:    store,
		launcher: launcher,
		registry: reg,
		service:  broadcast.NewService(log, store, reg, time.Second),
	}
}

func (f *fixture) runningBot(t *testing.T, id string, subscribers ...int64) *telegramtest.Client {
	t.Helper()
	ctx := context.Background()

	cfg := database.BotConfig{ID: id, Token: "1:" + id, Owner: "alice", Enabled: true}
	if err := f.store.CreateBot(ctx, &cfg); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}
	for _, uid := range subscribers {
		if _, err := f.store.UpsertSubscriber(ctx, &database.Subscriber{BotID: id, PlatformUserID: uid}); err != nil {
			t.Fatalf("UpsertSubscriber: %v", err)
		}
	}
	if err := f.registry.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return f.launcher.Last(id)
}

func TestBroadcastZeroSubscribersStillLogs(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.runningBot(t, "a")

	res, err := f.service.Send(ctx, "a", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res != (broadcast.Result{}) {
		t.Errorf("result = %+v, want zero", res)
	}
	if n, _ := f.store.CountBroadcasts(ctx, "a"); n != 1 {
		t.Errorf("broadcast records = %d, want 1", n)
	}
}

func TestBroadcastSwallowsRecipientFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	client := f.runningBot(t, "a", 1, 2, 3)
	client.FailChat(2)

	res, err := f.service.Send(ctx, "a", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res != (broadcast.Result{Attempted: 3, Sent: 2}) {
		t.Errorf("result = %+v, want {3 2}", res)
	}
	if n, _ := f.store.CountBroadcasts(ctx, "a"); n != 1 {
		t.Errorf("broadcast records = %d, want 1", n)
	}
	for _, s := range client.Sent() {
		if s.ChatID == 2 || s.Text != "hello" {
			t.Errorf("unexpected send %+v", s)
		}
	}
}

func TestBroadcastRequiresRunningInstance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.runningBot(t, "a", 1)

	if err := f.registry.Stop(ctx, "a"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	_, err := f.service.Send(ctx, "a", "hello")
	if !errors.Is(err, broadcast.ErrNotRunning) {
		t.Fatalf("Send error = %v, want ErrNotRunning", err)
	}
	if n, _ := f.store.CountBroadcasts(ctx, "a"); n != 0 {
		t.Errorf("broadcast records = %d, want 0", n)
	}
}
