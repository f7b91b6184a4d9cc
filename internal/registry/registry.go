// Package registry keeps at most one running messaging client per bot id and keeps
// that set consistent with the persisted bot configuration across start, stop,
// restart and unexpected poll-loop exits.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/telegram"
)

var (
	// ErrLaunchFailed means the adapter could not begin polling (bad token, network).
	ErrLaunchFailed = errors.New("bot launch failed")
	// ErrStopTimeout means the poll loop did not exit within the stop timeout.
	// The instance is removed from the registry regardless.
	ErrStopTimeout = errors.New("bot poll loop did not stop in time")
)

// reconcileConcurrency bounds parallel launches during ReconcileAll.
const reconcileConcurrency = 8

// HandlerFactory builds the behaviors attached to a bot's client at launch.
type HandlerFactory func(cfg database.BotConfig) telegram.Handlers

// Config bounds launch and shutdown of instances.
type Config struct {
	LaunchTimeout time.Duration
	StopTimeout   time.Duration
}

// Instance is a running bot. The underlying client is owned by the registry;
// callers can only send through it.
type Instance struct {
	BotID     string
	StartedAt time.Time

	token  string
	client telegram.Client
	cancel context.CancelFunc
	done   chan struct{}
}

// SendText sends a message to chatID through the running client.
func (i *Instance) SendText(ctx context.Context, chatID int64, text string) error {
	return i.client.SendText(ctx, chatID, text)
}

// Reply sends text as a reply to messageID in chatID.
func (i *Instance) Reply(ctx context.Context, chatID int64, messageID int, text string) error {
	return i.client.Reply(ctx, chatID, messageID, text)
}

// Registry maps bot ids to running instances.
type Registry struct {
	logger   *slog.Logger
	launcher telegram.Launcher
	handlers HandlerFactory
	cfg      Config

	// baseCtx parents every poll loop, so loops outlive the request that started them.
	baseCtx context.Context

	mu        sync.RWMutex
	instances map[string]*Instance
	locks     map[string]*idMutex

	starts singleflight.Group
}

// New creates an empty registry. Poll loops are children of ctx.
func New(ctx context.Context, logger *slog.Logger, launcher telegram.Launcher, handlers HandlerFactory, cfg Config) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Registry{
		logger:    logger.With("component", "registry"),
		launcher:  launcher,
		handlers:  handlers,
		cfg:       cfg,
		baseCtx:   ctx,
		instances: make(map[string]*Instance),
		locks:     make(map[string]*idMutex),
	}
}

// idMutex serializes start and stop for one bot id. refs counts holders and waiters.
type idMutex struct {
	sync.Mutex
	refs int
}

// lockID takes the mutex for id and returns its release. The entry is dropped from
// r.locks once nobody holds or waits on it.
func (r *Registry) lockID(id string) (unlock func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &idMutex{}
		r.locks[id] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, id)
		}
		r.mu.Unlock()
	}
}

// Start launches cfg's bot unless it is already running. Concurrent calls for the same id
// share one launch attempt and its result.
func (r *Registry) Start(ctx context.Context, cfg database.BotConfig) error {
	if cfg.ID == "" {
		return errors.New("bot id is required")
	}
	if cfg.Token == "" {
		return fmt.Errorf("%w: bot %s has no token", ErrLaunchFailed, cfg.ID)
	}

	_, err, shared := r.starts.Do(cfg.ID, func() (any, error) {
		return nil, r.start(ctx, cfg)
	})
	if shared {
		r.logger.DebugContext(ctx, "Start call absorbed by an in-flight start", "bot_id", cfg.ID)
	}
	return err
}

func (r *Registry) start(ctx context.Context, cfg database.BotConfig) error {
	unlock := r.lockID(cfg.ID)
	defer unlock()

	if existing, ok := r.Get(cfg.ID); ok {
		if existing.token != cfg.Token {
			r.logger.WarnContext(ctx, "Bot token changed while running; restart required to apply it",
				"bot_id", cfg.ID)
		}
		return nil
	}

	launchCtx := ctx
	if r.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, r.cfg.LaunchTimeout)
		defer cancel()
	}

	var h telegram.Handlers
	if r.handlers != nil {
		h = r.handlers(cfg)
	}

	startTime := time.Now()
	client, err := r.launcher.Launch(launchCtx, cfg.ID, cfg.Token, h)
	if err != nil {
		r.logger.WarnContext(ctx, "Failed to launch bot", "bot_id", cfg.ID, "token", cfg.TokenHint(), "error", err)
		return fmt.Errorf("%w: bot %s: %v", ErrLaunchFailed, cfg.ID, err)
	}

	runCtx, cancel := context.WithCancel(r.baseCtx)
	inst := &Instance{
		BotID:     cfg.ID,
		StartedAt: time.Now().UTC(),
		token:     cfg.Token,
		client:    client,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.instances[cfg.ID] = inst
	r.mu.Unlock()

	go r.run(runCtx, inst)

	r.logger.InfoContext(ctx, "Bot started", "bot_id", cfg.ID, "duration", time.Since(startTime))
	return nil
}

// run drives the poll loop. If the loop exits without being cancelled the entry is dropped,
// so a later Start can launch a fresh instance.
func (r *Registry) run(ctx context.Context, inst *Instance) {
	defer close(inst.done)

	inst.client.Run(ctx)

	if ctx.Err() != nil {
		return
	}
	inst.cancel()
	r.logger.Error("Bot poll loop exited unexpectedly", "bot_id", inst.BotID)
	r.mu.Lock()
	if r.instances[inst.BotID] == inst {
		delete(r.instances, inst.BotID)
	}
	r.mu.Unlock()
}

// Stop cancels the bot's poll loop and waits up to the stop timeout. The entry is removed
// even when the loop fails to exit in time.
func (r *Registry) Stop(ctx context.Context, botID string) error {
	unlock := r.lockID(botID)
	defer unlock()

	inst, ok := r.Get(botID)
	if !ok {
		return nil
	}

	defer func() {
		r.mu.Lock()
		if r.instances[botID] == inst {
			delete(r.instances, botID)
		}
		r.mu.Unlock()
	}()

	inst.cancel()

	timer := time.NewTimer(r.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-inst.done:
		r.logger.InfoContext(ctx, "Bot stopped", "bot_id", botID, "uptime", time.Since(inst.StartedAt))
		return nil
	case <-timer.C:
		r.logger.WarnContext(ctx, "Bot poll loop did not stop in time; dropping it", "bot_id", botID)
		return fmt.Errorf("%w: bot %s after %v", ErrStopTimeout, botID, r.cfg.StopTimeout)
	case <-ctx.Done():
		r.logger.WarnContext(ctx, "Stop interrupted; dropping bot", "bot_id", botID, "error", ctx.Err())
		return fmt.Errorf("stop bot %s: %w", botID, ctx.Err())
	}
}

// Restart stops the bot if it is running and starts it again from cfg.
func (r *Registry) Restart(ctx context.Context, cfg database.BotConfig) error {
	if err := r.Stop(ctx, cfg.ID); err != nil {
		r.logger.WarnContext(ctx, "Stop before restart reported an error", "bot_id", cfg.ID, "error", err)
	}
	return r.Start(ctx, cfg)
}

// Get returns the running instance for botID.
func (r *Registry) Get(botID string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[botID]
	return inst, ok
}

// List returns the ids of running bots in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.instances))
	for id := range r.instances {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ReconcileAll starts every enabled bot in configs. Disabled bots are skipped, not stopped.
// Launch failures are logged and joined into the returned error; they do not stop other bots.
func (r *Registry) ReconcileAll(ctx context.Context, configs []database.BotConfig) error {
	var (
		g       errgroup.Group
		mu      sync.Mutex
		errs    []error
		started int
	)
	g.SetLimit(reconcileConcurrency)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		g.Go(func() error {
			err := r.Start(ctx, cfg)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			} else {
				started++
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.InfoContext(ctx, "Reconciled bots", "configs", len(configs), "started", started, "failed", len(errs))
	return errors.Join(errs...)
}

// StopAll stops every running bot.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, id := range r.List() {
		if err := r.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
