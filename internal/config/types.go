package config

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`

	// Warmer controls the pacing engine: cycle cadence, working hours,
	// per-account throttling and the direct/group message mix.
	Warmer WarmerConfig `json:"warmer"`

	// Quota configures the optional external device-limit integration.
	// If omitted, no quota polling or daily reset runs.
	Quota *QuotaConfig `json:"quota,omitempty"`

	// Alerts configures operator notifications over Telegram.
	Alerts *AlertsConfig `json:"alerts,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level"`
	Console bool          `json:"console"`
	File    LoggingFile   `json:"file"`
	Stream  LoggingStream `json:"stream"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingStream relays log lines to the UI console over the event bus / SSE.
type LoggingStream struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8380"
}

// StorageConfig selects the persistence backend.
//
// Driver values:
//   - "file": JSON documents under Path (one file per collection)
//   - "sqlite": SQLite database file
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// WarmerConfig mirrors the operator-tunable pacing settings.
//
// Interval and delay fields are whole seconds (operator-facing; the UI edits
// them as plain numbers). Burst/pause are process-wide defaults; accounts may
// override them individually.
type WarmerConfig struct {
	MinIntervalSeconds int `json:"min_interval_seconds"`
	MaxIntervalSeconds int `json:"max_interval_seconds"`

	// Timezone is the IANA zone the working-hours window is evaluated in.
	Timezone string `json:"timezone,omitempty"`

	WorkingHours     WorkingHours `json:"working_hours"`
	WorkingHoursOnly bool         `json:"working_hours_only"`

	// BurstLimit is the max consecutive sends per account before a forced
	// pause of PauseSeconds. Accounts with their own limits win.
	BurstLimit   int `json:"burst_limit,omitempty"`
	PauseSeconds int `json:"pause_seconds,omitempty"`

	Reply ReplyConfig `json:"reply"`

	// Groups names up to two broadcast targets used in group mode.
	Groups      GroupsConfig `json:"groups"`
	SendToGroup bool         `json:"send_to_group"`
}

// WorkingHours is a [Start,End) window in HH:MM, evaluated in Warmer.Timezone.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ReplyConfig struct {
	MinDelaySeconds int `json:"min_delay_seconds"`
	MaxDelaySeconds int `json:"max_delay_seconds"`
}

type GroupsConfig struct {
	Primary   string `json:"primary,omitempty"`
	Secondary string `json:"secondary,omitempty"`
}

// QuotaConfig points at the external allowance service.
//
// ResetTime is HH:MM in Warmer.Timezone; once a day at that time the device
// limit is reset on the remote side. PollInterval is a Go duration string.
type QuotaConfig struct {
	Enabled      bool   `json:"enabled"`
	BaseURL      string `json:"base_url"`
	Cookie       string `json:"cookie,omitempty"` // session cookie (do not log)
	ResetTime    string `json:"reset_time,omitempty"`
	PollInterval string `json:"poll_interval,omitempty"`
	RatePerSec   int    `json:"rate_per_sec,omitempty"`
}

type AlertsConfig struct {
	Enabled  bool          `json:"enabled"`
	Telegram TelegramAlert `json:"telegram"`

	OnConnect    bool `json:"on_connect"`
	OnDisconnect bool `json:"on_disconnect"`
	OnError      bool `json:"on_error"`
}

type TelegramAlert struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
}
