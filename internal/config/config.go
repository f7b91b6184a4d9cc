// Package config provides configuration loading, validation, and management
// for botfleet. It handles reading from YAML files, environment variables,
// command-line flags, setting default values, and validating configuration parameters.
package config

import "time"

// Config defines the application configuration. It is built once at startup and
// passed explicitly to every component.
type Config struct {
	Logger        LoggerConfig        `mapstructure:"log"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Admin         AdminConfig         `mapstructure:"admin"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Broadcast     BroadcastConfig     `mapstructure:"broadcast"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Messages      MessagesConfig      `mapstructure:"messages"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
}

// LoggerConfig controls slog output and the optional rotating log file.
type LoggerConfig struct {
	Level      string `mapstructure:"level"        validate:"required,oneof=debug info warn error"`
	JSON       bool   `mapstructure:"json"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"  validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups"  validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" validate:"min=0"`
}

// DatabaseConfig holds the SQLite data source.
type DatabaseConfig struct {
	URL       string        `mapstructure:"url"        validate:"required"`
	OpTimeout time.Duration `mapstructure:"op_timeout" validate:"min=1s"`
}

// AdminConfig holds the process-wide administrative secret.
type AdminConfig struct {
	Password string `mapstructure:"password" validate:"required,min=6"`
}

// HTTPConfig configures the REST API listener.
type HTTPConfig struct {
	Port            int           `mapstructure:"port"             validate:"required,min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"     validate:"min=1s"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"    validate:"min=1s"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// TelegramConfig configures every messaging adapter the registry launches.
type TelegramConfig struct {
	PollTimeout time.Duration `mapstructure:"poll_timeout" validate:"min=1s,max=5m"`
	ServerURL   string        `mapstructure:"server_url"   validate:"omitempty,url"`
}

// RegistryConfig bounds adapter launch and shutdown.
type RegistryConfig struct {
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" validate:"min=1s"`
	StopTimeout   time.Duration `mapstructure:"stop_timeout"   validate:"min=100ms"`
}

// BroadcastConfig bounds each per-recipient send.
type BroadcastConfig struct {
	SendTimeout time.Duration `mapstructure:"send_timeout" validate:"min=1s"`
}

// SchedulerConfig defines scheduled tasks by name.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks"`
}

// TaskConfig enables one task on a cron schedule.
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

// MessagesConfig holds user-facing bot texts.
type MessagesConfig struct {
	// ForceJoinReminder is a format string; %s is replaced by the channel.
	ForceJoinReminder string `mapstructure:"force_join_reminder" validate:"required"`
}

// NotificationsConfig controls pruning of seen notifications. Zero retention disables pruning.
type NotificationsConfig struct {
	Retention time.Duration `mapstructure:"retention" validate:"min=0"`
}
