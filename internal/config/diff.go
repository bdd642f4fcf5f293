package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chatwarmer/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections plus safe
// structured attrs for logging. Secrets (quota cookie, telegram token) are
// reported as presence bits only.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.stream_enabled", newCfg.Logging.Stream.Enabled),
		)
	}

	// Server
	if oldCfg.Server.Enabled != newCfg.Server.Enabled ||
		strings.TrimSpace(oldCfg.Server.Addr) != strings.TrimSpace(newCfg.Server.Addr) {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.Bool("server.enabled", newCfg.Server.Enabled),
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
		)
	}

	// Storage
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Warmer (pacing engine)
	if !reflect.DeepEqual(oldCfg.Warmer, newCfg.Warmer) {
		changed = append(changed, "warmer")
		attrs = append(attrs,
			logx.Int("warmer.min_interval_seconds", newCfg.Warmer.MinIntervalSeconds),
			logx.Int("warmer.max_interval_seconds", newCfg.Warmer.MaxIntervalSeconds),
			logx.String("warmer.timezone", strings.TrimSpace(newCfg.Warmer.Timezone)),
			logx.Bool("warmer.working_hours_only", newCfg.Warmer.WorkingHoursOnly),
			logx.String("warmer.working_hours", newCfg.Warmer.WorkingHours.Start+"-"+newCfg.Warmer.WorkingHours.End),
			logx.Int("warmer.burst_limit", newCfg.Warmer.BurstLimit),
			logx.Int("warmer.pause_seconds", newCfg.Warmer.PauseSeconds),
			logx.Bool("warmer.send_to_group", newCfg.Warmer.SendToGroup),
		)
	}

	// Quota (never log the cookie value)
	oQ := derefQuota(oldCfg.Quota)
	nQ := derefQuota(newCfg.Quota)
	if !reflect.DeepEqual(oQ, nQ) {
		changed = append(changed, "quota")
		attrs = append(attrs,
			logx.Bool("quota.enabled", nQ.Enabled),
			logx.String("quota.base_url", strings.TrimSpace(nQ.BaseURL)),
			logx.Bool("quota.cookie_set", strings.TrimSpace(nQ.Cookie) != ""),
			logx.String("quota.reset_time", strings.TrimSpace(nQ.ResetTime)),
		)
	}

	// Alerts (never log the token)
	oA := derefAlerts(oldCfg.Alerts)
	nA := derefAlerts(newCfg.Alerts)
	if !reflect.DeepEqual(oA, nA) {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.enabled", nA.Enabled),
			logx.Bool("alerts.token_set", strings.TrimSpace(nA.Telegram.Token) != ""),
			logx.Bool("alerts.on_connect", nA.OnConnect),
			logx.Bool("alerts.on_disconnect", nA.OnDisconnect),
			logx.Bool("alerts.on_error", nA.OnError),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefQuota(q *QuotaConfig) QuotaConfig {
	if q == nil {
		return QuotaConfig{}
	}
	return *q
}

func derefAlerts(a *AlertsConfig) AlertsConfig {
	if a == nil {
		return AlertsConfig{}
	}
	return *a
}
