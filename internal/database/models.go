package database

import "time"

// BotConfig is the persisted configuration of one managed bot.
// Token is required and never serialized to API clients.
type BotConfig struct {
	ID               string    `db:"id"                 json:"id"`
	Token            string    `db:"token"              json:"-"`
	Owner            string    `db:"owner"              json:"owner"`
	Title            string    `db:"title"              json:"title"`
	Enabled          bool      `db:"enabled"            json:"enabled"`
	ForceJoinChannel string    `db:"force_join_channel" json:"force_join_channel,omitempty"`
	NotifyNewUser    bool      `db:"notify_new_user"    json:"notify_new_user"`
	ReactionEnabled  bool      `db:"reaction_enabled"   json:"reaction_enabled"`
	ReactionEmoji    string    `db:"reaction_emoji"     json:"reaction_emoji"`
	CreatedAt        time.Time `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"         json:"updated_at"`
}

// TokenHint returns a short, non-secret prefix of the token for logs and dashboards.
func (c BotConfig) TokenHint() string {
	if len(c.Token) <= 8 {
		return "***"
	}
	return c.Token[:8] + "..."
}

// Subscriber is a platform user who started a bot. (BotID, PlatformUserID) is unique.
type Subscriber struct {
	ID             int64     `db:"id"               json:"id"`
	BotID          string    `db:"bot_id"           json:"bot_id"`
	PlatformUserID int64     `db:"platform_user_id" json:"platform_user_id"`
	Username       string    `db:"username"         json:"username"`
	FirstName      string    `db:"first_name"       json:"first_name"`
	LastName       string    `db:"last_name"        json:"last_name"`
	StartedAt      time.Time `db:"started_at"       json:"started_at"`
	UpdatedAt      time.Time `db:"updated_at"       json:"updated_at"`
}

// BroadcastRecord is an append-only log entry for one broadcast.
type BroadcastRecord struct {
	ID        int64     `db:"id"         json:"id"`
	BotID     string    `db:"bot_id"     json:"bot_id"`
	Message   string    `db:"message"    json:"message"`
	Attempted int       `db:"attempted"  json:"attempted"`
	Sent      int       `db:"sent"       json:"sent"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NotificationRecord logs a new-subscriber event for bots with NotifyNewUser set.
type NotificationRecord struct {
	ID             int64     `db:"id"               json:"id"`
	BotID          string    `db:"bot_id"           json:"bot_id"`
	PlatformUserID int64     `db:"platform_user_id" json:"platform_user_id"`
	Username       string    `db:"username"         json:"username"`
	CreatedAt      time.Time `db:"created_at"       json:"created_at"`
	Seen           bool      `db:"seen"             json:"seen"`
}

// MaintenanceReport describes one maintenance run over the fleet database.
type MaintenanceReport struct {
	SizeBefore int64
	SizeAfter  int64
}

// Reclaimed is the number of bytes freed by the run, never negative.
func (r MaintenanceReport) Reclaimed() int64 {
	return max(r.SizeBefore-r.SizeAfter, 0)
}
