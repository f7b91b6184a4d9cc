package config

import "time"

// Default values for configuration
const (
	DefaultLogLevel      = "info"
	DefaultLogJSON       = true
	DefaultLogMaxSizeMB  = 100
	DefaultLogMaxBackups = 3
	DefaultLogMaxAgeDays = 28

	DefaultDatabaseURL       = "file:botfleet.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	DefaultDatabaseOpTimeout = 15 * time.Second

	DefaultHTTPPort            = 8080
	DefaultHTTPReadTimeout     = 15 * time.Second
	DefaultHTTPWriteTimeout    = 5 * time.Minute // broadcasts run inside the request
	DefaultHTTPShutdownTimeout = 10 * time.Second

	DefaultTelegramPollTimeout = 30 * time.Second

	DefaultRegistryLaunchTimeout = 10 * time.Second
	DefaultRegistryStopTimeout   = 5 * time.Second

	DefaultBroadcastSendTimeout = 10 * time.Second

	DefaultForceJoinReminder = "📢 Please join %s to stay up to date."

	DefaultNotificationRetention = 30 * 24 * time.Hour
)

// Task names known to the scheduler.
const (
	TaskSQLMaintenance    = "sql_maintenance"
	TaskRegistryStatus    = "registry_status"
	TaskNotificationPrune = "notification_prune"
)

var defaults = map[string]any{
	"log.level":        DefaultLogLevel,
	"log.json":         DefaultLogJSON,
	"log.file":         "",
	"log.max_size_mb":  DefaultLogMaxSizeMB,
	"log.max_backups":  DefaultLogMaxBackups,
	"log.max_age_days": DefaultLogMaxAgeDays,

	"database.url":        DefaultDatabaseURL,
	"database.op_timeout": DefaultDatabaseOpTimeout,

	"admin.password": "",

	"http.port":             DefaultHTTPPort,
	"http.read_timeout":     DefaultHTTPReadTimeout,
	"http.write_timeout":    DefaultHTTPWriteTimeout,
	"http.shutdown_timeout": DefaultHTTPShutdownTimeout,

	"telegram.poll_timeout": DefaultTelegramPollTimeout,
	"telegram.server_url":   "",

	"registry.launch_timeout": DefaultRegistryLaunchTimeout,
	"registry.stop_timeout":   DefaultRegistryStopTimeout,

	"broadcast.send_timeout": DefaultBroadcastSendTimeout,

	"scheduler.tasks." + TaskSQLMaintenance + ".enabled":     true,
	"scheduler.tasks." + TaskSQLMaintenance + ".schedule":    "0 0 4 * * *",
	"scheduler.tasks." + TaskRegistryStatus + ".enabled":     true,
	"scheduler.tasks." + TaskRegistryStatus + ".schedule":    "0 */15 * * * *",
	"scheduler.tasks." + TaskNotificationPrune + ".enabled":  true,
	"scheduler.tasks." + TaskNotificationPrune + ".schedule": "0 30 3 * * *",

	"messages.force_join_reminder": DefaultForceJoinReminder,

	"notifications.retention": DefaultNotificationRetention,
}
