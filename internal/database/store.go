package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Store defines the Config Store operations used by the registry, the handlers and the API.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CreateBot inserts a new bot configuration row.
	CreateBot(ctx context.Context, bot *BotConfig) error

	// GetBot returns one bot by id, or ErrNotFound.
	GetBot(ctx context.Context, id string) (*BotConfig, error)

	// ListBots returns all bots, or only the ones owned by owner when it is non-empty.
	ListBots(ctx context.Context, owner string) ([]BotConfig, error)

	// ListEnabledBots returns every bot with enabled set.
	ListEnabledBots(ctx context.Context) ([]BotConfig, error)

	// UpdateBot writes the settings of bot back to storage. The enabled flag is owned by
	// SetBotEnabled and SetAllBotsEnabled and is never written here.
	UpdateBot(ctx context.Context, bot *BotConfig) error

	// SetBotEnabled updates only the enabled flag.
	SetBotEnabled(ctx context.Context, id string, enabled bool) error

	// SetAllBotsEnabled updates the enabled flag of every bot and returns the number of rows changed.
	SetAllBotsEnabled(ctx context.Context, enabled bool) (int64, error)

	// UpsertSubscriber inserts a subscriber or updates it in place, keyed by (bot_id, platform_user_id).
	// created reports whether a new row was inserted.
	UpsertSubscriber(ctx context.Context, sub *Subscriber) (created bool, err error)

	// ListSubscribers returns every subscriber of a bot.
	ListSubscribers(ctx context.Context, botID string) ([]Subscriber, error)

	// CountSubscribers returns the number of subscribers of a bot.
	CountSubscribers(ctx context.Context, botID string) (int, error)

	// InsertBroadcast appends a broadcast log entry.
	InsertBroadcast(ctx context.Context, rec *BroadcastRecord) error

	// CountBroadcasts returns the number of broadcasts logged for a bot.
	CountBroadcasts(ctx context.Context, botID string) (int, error)

	// InsertNotification appends a new-subscriber notification.
	InsertNotification(ctx context.Context, rec *NotificationRecord) error

	// ListNotifications returns the newest notifications first, at most limit rows.
	ListNotifications(ctx context.Context, unseenOnly bool, limit int) ([]NotificationRecord, error)

	// MarkNotificationsSeen flags the given notifications as seen.
	MarkNotificationsSeen(ctx context.Context, ids []int64) (int64, error)

	// PruneNotifications deletes seen notifications created before the cutoff.
	PruneNotifications(ctx context.Context, before time.Time) (int64, error)

	// RunSQLMaintenance compacts the database and refreshes planner statistics,
	// reporting the file size before and after.
	RunSQLMaintenance(ctx context.Context) (MaintenanceReport, error)
}

const botColumns = `id, token, owner, title, enabled, force_join_channel, notify_new_user,
	reaction_enabled, reaction_emoji, created_at, updated_at`

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return storeErr("ping", s.db.PingContext(ctx))
}

func (s *sqlxStore) CreateBot(ctx context.Context, bot *BotConfig) error {
	if bot == nil {
		return storeErr("create bot", errors.New("cannot save nil bot"))
	}
	if bot.ID == "" {
		return storeErr("create bot", errors.New("bot must have an id"))
	}
	if strings.TrimSpace(bot.Token) == "" {
		return storeErr("create bot", errors.New("bot must have a non-empty token"))
	}

	now := time.Now().UTC()
	bot.CreatedAt = now
	bot.UpdatedAt = now

	query := `
		INSERT INTO bots (` + botColumns + `)
		VALUES (:id, :token, :owner, :title, :enabled, :force_join_channel, :notify_new_user,
			:reaction_enabled, :reaction_emoji, :created_at, :updated_at);
	`
	if _, err := s.db.NamedExecContext(ctx, query, bot); err != nil {
		s.logger.ErrorContext(ctx, "Error creating bot", "bot_id", bot.ID, "owner", bot.Owner, "error", err)
		return storeErr("create bot", err)
	}

	s.logger.DebugContext(ctx, "Bot created", "bot_id", bot.ID, "owner", bot.Owner)
	return nil
}

func (s *sqlxStore) GetBot(ctx context.Context, id string) (*BotConfig, error) {
	var bot BotConfig
	err := s.db.GetContext(ctx, &bot, `SELECT `+botColumns+` FROM bots WHERE id = ?`, id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, storeErr("get bot", fmt.Errorf("bot %s: %w", id, ErrNotFound))
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting bot", "bot_id", id, "error", err)
		return nil, storeErr("get bot", err)
	}
	return &bot, nil
}

func (s *sqlxStore) ListBots(ctx context.Context, owner string) ([]BotConfig, error) {
	bots := []BotConfig{}
	var err error
	if owner == "" {
		err = s.db.SelectContext(ctx, &bots, `SELECT `+botColumns+` FROM bots ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &bots, `SELECT `+botColumns+` FROM bots WHERE owner = ? ORDER BY created_at`, owner)
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Error listing bots", "owner", owner, "error", err)
		return nil, storeErr("list bots", err)
	}
	return bots, nil
}

func (s *sqlxStore) ListEnabledBots(ctx context.Context) ([]BotConfig, error) {
	bots := []BotConfig{}
	if err := s.db.SelectContext(ctx, &bots, `SELECT `+botColumns+` FROM bots WHERE enabled = 1 ORDER BY created_at`); err != nil {
		s.logger.ErrorContext(ctx, "Error listing enabled bots", "error", err)
		return nil, storeErr("list enabled bots", err)
	}
	return bots, nil
}

func (s *sqlxStore) UpdateBot(ctx context.Context, bot *BotConfig) error {
	if bot == nil {
		return storeErr("update bot", errors.New("cannot update nil bot"))
	}
	bot.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE bots SET
			title = :title,
			force_join_channel = :force_join_channel,
			notify_new_user = :notify_new_user,
			reaction_enabled = :reaction_enabled,
			reaction_emoji = :reaction_emoji,
			updated_at = :updated_at
		WHERE id = :id
	`
	result, err := s.db.NamedExecContext(ctx, query, bot)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error updating bot", "bot_id", bot.ID, "error", err)
		return storeErr("update bot", err)
	}
	return requireAffected("update bot", bot.ID, result)
}

func (s *sqlxStore) SetBotEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bots SET enabled = ?, updated_at = ? WHERE id = ?`, enabled, time.Now().UTC(), id)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting bot enabled flag", "bot_id", id, "enabled", enabled, "error", err)
		return storeErr("set bot enabled", err)
	}
	return requireAffected("set bot enabled", id, result)
}

func (s *sqlxStore) SetAllBotsEnabled(ctx context.Context, enabled bool) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE bots SET enabled = ?, updated_at = ? WHERE enabled <> ?`, enabled, time.Now().UTC(), enabled)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error setting enabled flag on all bots", "enabled", enabled, "error", err)
		return 0, storeErr("set all bots enabled", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("set all bots enabled", err)
	}
	return affected, nil
}

// UpsertSubscriber checks for an existing row inside a transaction and then updates or inserts,
// so a repeated /start never duplicates the subscriber.
func (s *sqlxStore) UpsertSubscriber(ctx context.Context, sub *Subscriber) (bool, error) {
	if sub == nil {
		return false, storeErr("upsert subscriber", errors.New("cannot save nil subscriber"))
	}
	if sub.BotID == "" || sub.PlatformUserID == 0 {
		return false, storeErr("upsert subscriber", errors.New("subscriber must have bot_id and platform_user_id"))
	}

	now := time.Now().UTC()
	sub.UpdatedAt = now
	if sub.StartedAt.IsZero() {
		sub.StartedAt = now
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for subscriber upsert",
			"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "error", err)
		return false, storeErr("upsert subscriber", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
			}
		}
	}()

	var existingID int64
	err = tx.GetContext(ctx, &existingID,
		`SELECT id FROM subscribers WHERE bot_id = ? AND platform_user_id = ?`, sub.BotID, sub.PlatformUserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.ErrorContext(ctx, "Error checking if subscriber exists",
			"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "error", err)
		return false, storeErr("upsert subscriber", err)
	}
	created := errors.Is(err, sql.ErrNoRows)

	if created {
		query := `
			INSERT INTO subscribers (bot_id, platform_user_id, username, first_name, last_name, started_at, updated_at)
			VALUES (:bot_id, :platform_user_id, :username, :first_name, :last_name, :started_at, :updated_at)
		`
		result, execErr := tx.NamedExecContext(ctx, query, sub)
		if execErr != nil {
			s.logger.ErrorContext(ctx, "Error inserting subscriber",
				"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "error", execErr)
			return false, storeErr("upsert subscriber", execErr)
		}
		if id, idErr := result.LastInsertId(); idErr == nil {
			sub.ID = id
		}
	} else {
		sub.ID = existingID
		query := `
			UPDATE subscribers SET
				username = :username,
				first_name = :first_name,
				last_name = :last_name,
				updated_at = :updated_at
			WHERE id = :id
		`
		if _, execErr := tx.NamedExecContext(ctx, query, sub); execErr != nil {
			s.logger.ErrorContext(ctx, "Error updating subscriber",
				"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "error", execErr)
			return false, storeErr("upsert subscriber", execErr)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit subscriber upsert",
			"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "error", err)
		return false, storeErr("upsert subscriber", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Subscriber saved",
		"bot_id", sub.BotID, "user_id", sub.PlatformUserID, "created", created)
	return created, nil
}

func (s *sqlxStore) ListSubscribers(ctx context.Context, botID string) ([]Subscriber, error) {
	subs := []Subscriber{}
	query := `
		SELECT id, bot_id, platform_user_id, username, first_name, last_name, started_at, updated_at
		FROM subscribers WHERE bot_id = ? ORDER BY id
	`
	if err := s.db.SelectContext(ctx, &subs, query, botID); err != nil {
		s.logger.ErrorContext(ctx, "Error listing subscribers", "bot_id", botID, "error", err)
		return nil, storeErr("list subscribers", err)
	}
	return subs, nil
}

func (s *sqlxStore) CountSubscribers(ctx context.Context, botID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM subscribers WHERE bot_id = ?`, botID); err != nil {
		return 0, storeErr("count subscribers", err)
	}
	return n, nil
}

func (s *sqlxStore) InsertBroadcast(ctx context.Context, rec *BroadcastRecord) error {
	if rec == nil {
		return storeErr("insert broadcast", errors.New("cannot save nil broadcast"))
	}
	rec.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO broadcasts (bot_id, message, attempted, sent, created_at)
		VALUES (:bot_id, :message, :attempted, :sent, :created_at)
	`
	result, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting broadcast record", "bot_id", rec.BotID, "error", err)
		return storeErr("insert broadcast", err)
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		rec.ID = id
	}
	return nil
}

func (s *sqlxStore) CountBroadcasts(ctx context.Context, botID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM broadcasts WHERE bot_id = ?`, botID); err != nil {
		return 0, storeErr("count broadcasts", err)
	}
	return n, nil
}

func (s *sqlxStore) InsertNotification(ctx context.Context, rec *NotificationRecord) error {
	if rec == nil {
		return storeErr("insert notification", errors.New("cannot save nil notification"))
	}
	rec.CreatedAt = time.Now().UTC()
	rec.Seen = false

	query := `
		INSERT INTO notifications (bot_id, platform_user_id, username, created_at, seen)
		VALUES (:bot_id, :platform_user_id, :username, :created_at, :seen)
	`
	result, err := s.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting notification", "bot_id", rec.BotID, "error", err)
		return storeErr("insert notification", err)
	}
	if id, idErr := result.LastInsertId(); idErr == nil {
		rec.ID = id
	}
	return nil
}

func (s *sqlxStore) ListNotifications(ctx context.Context, unseenOnly bool, limit int) ([]NotificationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, bot_id, platform_user_id, username, created_at, seen FROM notifications`
	if unseenOnly {
		query += ` WHERE seen = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`

	recs := []NotificationRecord{}
	if err := s.db.SelectContext(ctx, &recs, query, limit); err != nil {
		s.logger.ErrorContext(ctx, "Error listing notifications", "error", err)
		return nil, storeErr("list notifications", err)
	}
	return recs, nil
}

func (s *sqlxStore) MarkNotificationsSeen(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`UPDATE notifications SET seen = 1 WHERE id IN (?)`, ids)
	if err != nil {
		return 0, storeErr("mark notifications seen", err)
	}
	result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error marking notifications seen", "count", len(ids), "error", err)
		return 0, storeErr("mark notifications seen", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("mark notifications seen", err)
	}
	return affected, nil
}

func (s *sqlxStore) PruneNotifications(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM notifications WHERE seen = 1 AND created_at < ?`, before.UTC())
	if err != nil {
		s.logger.ErrorContext(ctx, "Error pruning notifications", "before", before, "error", err)
		return 0, storeErr("prune notifications", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, storeErr("prune notifications", err)
	}
	return affected, nil
}

// RunSQLMaintenance runs VACUUM followed by PRAGMA optimize on the SQLite database.
func (s *sqlxStore) RunSQLMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled or timed out before starting VACUUM", "error", ctx.Err())
		return report, ctx.Err()
	}

	before, err := s.databaseSize(ctx)
	if err != nil {
		return report, err
	}
	report.SizeBefore = before

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...", "size_bytes", before)

	// VACUUM must run outside a transaction in SQLite
	_, err = s.db.ExecContext(ctx, "VACUUM;")
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return report, fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)
	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return report, storeErr("vacuum", err)
	}

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
		return report, storeErr("optimize", err)
	}

	after, err := s.databaseSize(ctx)
	if err != nil {
		return report, err
	}
	report.SizeAfter = after

	s.logger.InfoContext(ctx, "Database maintenance completed successfully",
		"size_before", report.SizeBefore,
		"size_after", report.SizeAfter,
		"reclaimed_bytes", report.Reclaimed(),
	)
	return report, nil
}

func (s *sqlxStore) databaseSize(ctx context.Context) (int64, error) {
	var pageCount, pageSize int64
	if err := s.db.GetContext(ctx, &pageCount, "PRAGMA page_count;"); err != nil {
		return 0, storeErr("page count", err)
	}
	if err := s.db.GetContext(ctx, &pageSize, "PRAGMA page_size;"); err != nil {
		return 0, storeErr("page size", err)
	}
	return pageCount * pageSize, nil
}

func requireAffected(op, id string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr(op, err)
	}
	if affected == 0 {
		return storeErr(op, fmt.Errorf("bot %s: %w", id, ErrNotFound))
	}
	return nil
}
