// Package broadcast fans a message out to every subscriber of one running bot.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edgard/botfleet/internal/database"
	"github.com/edgard/botfleet/internal/registry"
)

// ErrNotRunning means the bot has no live instance (disabled, or its launch failed).
var ErrNotRunning = errors.New("bot is not running")

// Result counts the recipients of one broadcast.
type Result struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
}

// Instances looks up running bots.
type Instances interface {
	Get(botID string) (*registry.Instance, bool)
}

// Service sends broadcasts and appends them to the broadcast log.
type Service struct {
	logger      *slog.Logger
	store       database.Store
	instances   Instances
	sendTimeout time.Duration
}

// NewService creates a broadcast service. sendTimeout bounds each per-recipient send; zero means no bound.
func NewService(logger *slog.Logger, store database.Store, instances Instances, sendTimeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:      logger.With("component", "broadcast"),
		store:       store,
		instances:   instances,
		sendTimeout: sendTimeout,
	}
}

// Send delivers message to every subscriber of botID in turn. Failed sends are logged and
// counted out of Sent; they never abort the batch. One BroadcastRecord is appended however
// many sends succeed.
func (s *Service) Send(ctx context.Context, botID, message string) (Result, error) {
	inst, ok := s.instances.Get(botID)
	if !ok {
		return Result{}, fmt.Errorf("broadcast to %s: %w", botID, ErrNotRunning)
	}

	subs, err := s.store.ListSubscribers(ctx, botID)
	if err != nil {
		return Result{}, fmt.Errorf("broadcast to %s: %w", botID, err)
	}

	log := s.logger.With("bot_id", botID)
	startTime := time.Now()

	var res Result
	for _, sub := range subs {
		res.Attempted++
		if err := s.sendOne(ctx, inst, sub.PlatformUserID, message); err != nil {
			log.DebugContext(ctx, "Broadcast send failed", "user_id", sub.PlatformUserID, "error", err)
			continue
		}
		res.Sent++
	}

	rec := &database.BroadcastRecord{BotID: botID, Message: message, Attempted: res.Attempted, Sent: res.Sent}
	if err := s.store.InsertBroadcast(ctx, rec); err != nil {
		log.ErrorContext(ctx, "Failed to append broadcast record", "error", err)
		return res, fmt.Errorf("broadcast to %s: %w", botID, err)
	}

	log.InfoContext(ctx, "Broadcast completed",
		"attempted", res.Attempted, "sent", res.Sent, "duration", time.Since(startTime))
	return res, nil
}

func (s *Service) sendOne(ctx context.Context, inst *registry.Instance, chatID int64, message string) error {
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}
	return inst.SendText(ctx, chatID, message)
}
