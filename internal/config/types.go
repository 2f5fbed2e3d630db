package config

// Config is the on-disk configuration (JSON or YAML).
//
// Every leaf can be overridden from the environment (GROUPBOT_* variables,
// optionally loaded from a .env file); see ApplyEnv.
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Transport  TransportConfig  `json:"transport"`
	Session    SessionConfig    `json:"session"`
	Moderation ModerationConfig `json:"moderation"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
}

type TransportConfig struct {
	// Token seeds the credential store when it is empty and GROUPBOT_SESSION is unset.
	Token string `json:"token,omitempty" env:"GROUPBOT_TOKEN"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout    string `json:"poll_timeout,omitempty" env:"GROUPBOT_POLL_TIMEOUT"`
	SendRatePerSec int    `json:"send_rate_per_sec,omitempty" env:"GROUPBOT_SEND_RATE_PER_SEC" validate:"gte=0"`
	// ActionTimeout bounds every outbound transport call.
	ActionTimeout string `json:"action_timeout,omitempty" env:"GROUPBOT_ACTION_TIMEOUT"`
}

type SessionConfig struct {
	AuthDir    string `json:"auth_dir" env:"GROUPBOT_AUTH_DIR"`
	BackoffMin string `json:"backoff_min,omitempty" env:"GROUPBOT_BACKOFF_MIN"`
	BackoffMax string `json:"backoff_max,omitempty" env:"GROUPBOT_BACKOFF_MAX"`
}

type ModerationConfig struct {
	// From the environment the list is "|"-separated.
	ForbiddenWords []string `json:"forbidden_words" env:"GROUPBOT_FORBIDDEN_WORDS" validate:"dive,required"`
}

// SchedulerConfig controls the broadcast clock.
//
// Tick is a cron spec (robfig/cron descriptors accepted, e.g. "@every 1m").
type SchedulerConfig struct {
	Tick     string `json:"tick,omitempty" env:"GROUPBOT_SCHEDULER_TICK"`
	Timezone string `json:"timezone,omitempty" env:"GROUPBOT_TIMEZONE"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"GROUPBOT_LOG_LEVEL" validate:"omitempty,oneof=trace debug info warn warning error TRACE DEBUG INFO WARN WARNING ERROR"`
	Console bool        `json:"console" env:"GROUPBOT_LOG_CONSOLE"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"GROUPBOT_LOG_FILE_ENABLED"`
	Path    string `json:"path" env:"GROUPBOT_LOG_FILE_PATH" validate:"required_if=Enabled true"`
}

// LoggingChat forwards WARN+ log lines to an operator chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled" env:"GROUPBOT_LOG_CHAT_ENABLED"`
	Target     string `json:"target" env:"GROUPBOT_LOG_CHAT_TARGET" validate:"required_if=Enabled true"`
	MinLevel   string `json:"min_level" env:"GROUPBOT_LOG_CHAT_MIN_LEVEL"`
	RatePerSec int    `json:"rate_per_sec" env:"GROUPBOT_LOG_CHAT_RATE_PER_SEC" validate:"gte=0"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/groupbot.sqlite" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"GROUPBOT_STORAGE_DRIVER" validate:"omitempty,oneof=none file sqlite sqlite3"`
	Path        string `json:"path" env:"GROUPBOT_STORAGE_PATH"`
	BusyTimeout string `json:"busy_timeout,omitempty" env:"GROUPBOT_STORAGE_BUSY_TIMEOUT"` // sqlite
}
