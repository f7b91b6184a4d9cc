package registry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/registry"
	"github.com/edgard/botfleet/internal/telegram"
	"github.com/edgard/botfleet/internal/telegram/telegramtest"
)

func newRegistry(t *testing.T, launcher telegram.Launcher, cfg registry.Config) *registry.Registry {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Second
	}
	return registry.New(ctx, log, launcher, nil, cfg)
}

func botConfig(id string, enabled bool) database.BotConfig {
	return database.BotConfig{ID: id, Token: "123456:tok-" + id, Owner: "alice", Enabled: enabled}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	for range 3 {
		if err := reg.Start(ctx, botConfig("a", true)); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}

	if n := launcher.Launches(); n != 1 {
		t.Errorf("launches = %d, want 1", n)
	}
	if _, ok := reg.Get("a"); !ok {
		t.Error("instance not registered")
	}
}

func TestConcurrentStartSameIDYieldsOneInstance(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	launcher.LaunchDelay = 50 * time.Millisecond
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- reg.Start(ctx, botConfig("a", true))
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Start: %v", err)
		}
	}
	if n := launcher.Launches(); n != 1 {
		t.Errorf("launches = %d, want 1", n)
	}
	if ids := reg.List(); len(ids) != 1 || ids[0] != "a" {
		t.Errorf("List = %v, want [a]", ids)
	}
}

func TestConcurrentStartDifferentIDs(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	launcher.LaunchDelay = 20 * time.Millisecond
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	ids := []string{"a", "b", "c", "d"}
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Start(ctx, botConfig(id, true)); err != nil {
				t.Errorf("Start(%s): %v", id, err)
			}
		}()
	}
	wg.Wait()

	if got := reg.List(); len(got) != len(ids) {
		t.Errorf("List = %v, want %v", got, ids)
	}
}

func TestStartLaunchFailureRegistersNothing(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	cfg := botConfig("bad", true)
	launcher.FailTokens[cfg.Token] = true
	reg := newRegistry(t, launcher, registry.Config{})

	err := reg.Start(context.Background(), cfg)
	if !errors.Is(err, registry.ErrLaunchFailed) {
		t.Fatalf("Start error = %v, want ErrLaunchFailed", err)
	}
	if _, ok := reg.Get("bad"); ok {
		t.Error("failed launch left an instance behind")
	}

	// A retry after the token is accepted succeeds.
	delete(launcher.FailTokens, cfg.Token)
	if err := reg.Start(context.Background(), cfg); err != nil {
		t.Fatalf("retry Start: %v", err)
	}
	if _, ok := reg.Get("bad"); !ok {
		t.Error("retry did not register instance")
	}
}

func TestStartRequiresToken(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, telegramtest.NewLauncher(), registry.Config{})

	err := reg.Start(context.Background(), database.BotConfig{ID: "a"})
	if !errors.Is(err, registry.ErrLaunchFailed) {
		t.Errorf("Start error = %v, want ErrLaunchFailed", err)
	}
}

func TestStopThenStartYieldsOneNewInstance(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()
	cfg := botConfig("a", true)

	if err := reg.Start(ctx, cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, _ := reg.Get("a")

	if err := reg.Stop(ctx, "a"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-launcher.Last("a").Stopped():
	case <-time.After(time.Second):
		t.Fatal("poll loop still running after Stop")
	}
	if _, ok := reg.Get("a"); ok {
		t.Error("instance still registered after Stop")
	}

	if err := reg.Start(ctx, cfg); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	second, ok := reg.Get("a")
	if !ok || second == first {
		t.Error("expected a new instance after restart")
	}
	if n := len(reg.List()); n != 1 {
		t.Errorf("running = %d, want 1", n)
	}
	if n := launcher.Launches(); n != 2 {
		t.Errorf("launches = %d, want 2", n)
	}
}

func TestStopUnknownIsNoop(t *testing.T) {
	t.Parallel()
	reg := newRegistry(t, telegramtest.NewLauncher(), registry.Config{})

	if err := reg.Stop(context.Background(), "ghost"); err != nil {
		t.Errorf("Stop(ghost) = %v, want nil", err)
	}
}

func TestStopRemovesEntryEvenWhenShutdownFails(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	launcher.Stubborn = true
	reg := newRegistry(t, launcher, registry.Config{StopTimeout: 30 * time.Millisecond})
	ctx := context.Background()

	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	client := launcher.Last("a")
	t.Cleanup(client.Release)

	err := reg.Stop(ctx, "a")
	if !errors.Is(err, registry.ErrStopTimeout) {
		t.Fatalf("Stop error = %v, want ErrStopTimeout", err)
	}
	if _, ok := reg.Get("a"); ok {
		t.Error("stale entry left after failed stop")
	}

	// The stale loop does not block a restart.
	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start after failed stop: %v", err)
	}
	if _, ok := reg.Get("a"); !ok {
		t.Error("restart did not register instance")
	}
	t.Cleanup(func() { launcher.Last("a").Release() })
}

func TestUnexpectedLoopExitDropsInstance(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launcher.Last("a").Release()

	waitFor(t, func() bool {
		_, ok := reg.Get("a")
		return !ok
	})

	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start after crash: %v", err)
	}
	if n := launcher.Launches(); n != 2 {
		t.Errorf("launches = %d, want 2", n)
	}
}

func TestReconcileAllStartsOnlyEnabled(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})

	configs := []database.BotConfig{
		botConfig("a", true),
		botConfig("b", false),
		botConfig("c", true),
		botConfig("d", false),
	}
	if err := reg.ReconcileAll(context.Background(), configs); err != nil {
		t.Fatalf("ReconcileAll: %v", err)
	}

	got := reg.List()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Errorf("running = %v, want [a c]", got)
	}
	for _, id := range []string{"b", "d"} {
		if _, ok := reg.Get(id); ok {
			t.Errorf("disabled bot %s is running", id)
		}
	}
}

func TestReconcileAllReportsFailuresAndContinues(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	bad := botConfig("bad", true)
	launcher.FailTokens[bad.Token] = true
	reg := newRegistry(t, launcher, registry.Config{})

	err := reg.ReconcileAll(context.Background(), []database.BotConfig{bad, botConfig("good", true)})
	if !errors.Is(err, registry.ErrLaunchFailed) {
		t.Errorf("ReconcileAll error = %v, want ErrLaunchFailed", err)
	}
	if _, ok := reg.Get("good"); !ok {
		t.Error("good bot not started")
	}
}

func TestStopAll(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := reg.Start(ctx, botConfig(id, true)); err != nil {
			t.Fatalf("Start(%s): %v", id, err)
		}
	}
	if err := reg.StopAll(ctx); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if got := reg.List(); len(got) != 0 {
		t.Errorf("running after StopAll = %v", got)
	}
}

func TestHandlersAttachedFromFactory(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var seen []int64
	factory := func(cfg database.BotConfig) telegram.Handlers {
		return telegram.Handlers{
			OnSubscribe: func(_ context.Context, _ telegram.Sender, ev telegram.SubscribeEvent) {
				seen = append(seen, ev.UserID)
			},
		}
	}
	reg := registry.New(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)), launcher, factory, registry.Config{})

	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	launcher.Last("a").Subscribe(ctx, telegram.SubscribeEvent{UserID: 9})

	if len(seen) != 1 || seen[0] != 9 {
		t.Errorf("subscribe handler saw %v", seen)
	}
	if launcher.Last("a").Message(ctx, telegram.MessageEvent{}) {
		t.Error("no message handler should be attached")
	}
}

func TestInstanceSendsThroughClient(t *testing.T) {
	t.Parallel()
	launcher := telegramtest.NewLauncher()
	reg := newRegistry(t, launcher, registry.Config{})
	ctx := context.Background()

	if err := reg.Start(ctx, botConfig("a", true)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	inst, _ := reg.Get("a")
	if err := inst.SendText(ctx, 5, "hi"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if err := inst.Reply(ctx, 5, 11, "👍"); err != nil {
		t.Fatalf("Reply: %v", err)
	}

	sent := launcher.Last("a").Sent()
	if len(sent) != 2 || sent[0].Text != "hi" || sent[1].ReplyTo != 11 {
		t.Errorf("sent = %+v", sent)
	}
}
