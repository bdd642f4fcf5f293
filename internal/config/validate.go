package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate checks cross-field constraints before a config is committed.
// A failing update must leave the previous configuration in effect.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	w := cfg.Warmer
	if w.MinIntervalSeconds < 1 || w.MinIntervalSeconds > 86400 {
		return fmt.Errorf("warmer.min_interval_seconds must be between 1 and 86400")
	}
	if w.MaxIntervalSeconds < 1 || w.MaxIntervalSeconds > 86400 {
		return fmt.Errorf("warmer.max_interval_seconds must be between 1 and 86400")
	}
	if w.MinIntervalSeconds > w.MaxIntervalSeconds {
		return fmt.Errorf("warmer.min_interval_seconds cannot be greater than warmer.max_interval_seconds")
	}

	if w.Reply.MinDelaySeconds < 1 || w.Reply.MinDelaySeconds > 720 {
		return fmt.Errorf("warmer.reply.min_delay_seconds must be between 1 and 720")
	}
	if w.Reply.MaxDelaySeconds < 1 || w.Reply.MaxDelaySeconds > 720 {
		return fmt.Errorf("warmer.reply.max_delay_seconds must be between 1 and 720")
	}
	if w.Reply.MinDelaySeconds > w.Reply.MaxDelaySeconds {
		return fmt.Errorf("warmer.reply.min_delay_seconds cannot be greater than warmer.reply.max_delay_seconds")
	}

	if w.BurstLimit < 0 {
		return fmt.Errorf("warmer.burst_limit must be >= 0")
	}
	if w.PauseSeconds < 0 {
		return fmt.Errorf("warmer.pause_seconds must be >= 0")
	}

	startMin, err := ParseHHMM(w.WorkingHours.Start)
	if err != nil {
		return fmt.Errorf("warmer.working_hours.start: %w", err)
	}
	endMin, err := ParseHHMM(w.WorkingHours.End)
	if err != nil {
		return fmt.Errorf("warmer.working_hours.end: %w", err)
	}
	if startMin >= endMin {
		return fmt.Errorf("warmer.working_hours: start must be before end")
	}

	if tz := strings.TrimSpace(w.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("warmer.timezone: invalid %q: %w", tz, err)
		}
	}

	if cfg.Quota != nil && cfg.Quota.Enabled {
		if strings.TrimSpace(cfg.Quota.BaseURL) == "" {
			return fmt.Errorf("quota.base_url is required when quota is enabled")
		}
		if rt := strings.TrimSpace(cfg.Quota.ResetTime); rt != "" {
			if _, err := ParseHHMM(rt); err != nil {
				return fmt.Errorf("quota.reset_time: %w", err)
			}
		}
		if _, err := ParseDurationField("quota.poll_interval", cfg.Quota.PollInterval); err != nil {
			return err
		}
		if cfg.Quota.RatePerSec < 0 {
			return fmt.Errorf("quota.rate_per_sec must be >= 0")
		}
	}

	if cfg.Alerts != nil && cfg.Alerts.Enabled {
		if strings.TrimSpace(cfg.Alerts.Telegram.Token) == "" {
			return fmt.Errorf("alerts.telegram.token is required when alerts are enabled")
		}
		if cfg.Alerts.Telegram.ChatID == 0 {
			return fmt.Errorf("alerts.telegram.chat_id is required when alerts are enabled")
		}
	}

	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}

	return nil
}

// ParseHHMM parses a wall-clock "HH:MM" string into minutes since midnight.
func ParseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Default returns the configuration used when no file exists yet.
// Values mirror the shipped config.example.json.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
			Stream:  LoggingStream{Enabled: true, MinLevel: "INFO", RatePerSec: 10},
		},
		Server:  ServerConfig{Enabled: true, Addr: "127.0.0.1:8380"},
		Storage: StorageConfig{Driver: "file", Path: "./data"},
		Warmer: WarmerConfig{
			MinIntervalSeconds: 15,
			MaxIntervalSeconds: 45,
			Timezone:           "Asia/Jakarta",
			WorkingHours:       WorkingHours{Start: "09:00", End: "18:00"},
			WorkingHoursOnly:   true,
			BurstLimit:         3,
			PauseSeconds:       60,
			Reply:              ReplyConfig{MinDelaySeconds: 30, MaxDelaySeconds: 60},
			Groups:             GroupsConfig{Primary: "Watzapia", Secondary: "Watzapia 2"},
			SendToGroup:        false,
		},
	}
}
