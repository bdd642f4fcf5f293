package app

import (
	"context"
	"strings"
	"time"

	"chatwarmer/internal/config"
	logx "chatwarmer/pkg/logx"
)

// reloadLoop fans a changed config out to the running services. Each Apply
// validates its own slice and keeps the previous settings on error, so a bad
// value in one section never takes down the rest.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			sections, attrs := config.SummarizeConfigChange(lastApplied, newCfg)
			lastApplied = newCfg
			if len(sections) == 0 {
				a.log.Debug("config reload received, but no effective changes detected")
				continue
			}
			a.applySections(newCfg, sections)

			fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
			a.log.Info("config reloaded", fields...)
		}
	}
}

func (a *App) applySections(cfg *config.Config, sections []string) {
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLogging(cfg.Logging))
		case "warmer":
			if err := a.warm.Apply(cfg.Warmer); err != nil {
				a.log.Warn("invalid warmer config; keeping previous", logx.Err(err))
				continue
			}
			if loc, err := time.LoadLocation(cfg.Warmer.Timezone); err == nil {
				a.cat.SetTimezone(loc)
			}
			a.syncGroups(cfg)
		case "quota":
			if err := a.quota.Apply(cfg.Quota, cfg.Warmer.Timezone); err != nil {
				a.log.Warn("invalid quota config; keeping previous", logx.Err(err))
			}
		case "alerts":
			if err := a.notif.Apply(cfg.Alerts); err != nil {
				a.log.Warn("invalid alerts config; keeping previous", logx.Err(err))
			}
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "server":
			a.log.Warn("server config changed; restart required for changes to take effect")
		}
	}
}
