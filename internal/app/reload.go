package app

import (
	"context"
	"strings"

	"dosebox/internal/config"
	"dosebox/internal/runtime/sdnotify"
	"dosebox/pkg/logx"
)

// reloadLoop applies configs published by the config watcher.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			if newCfg == nil {
				continue
			}
			a.applyConfig(lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

// applyConfig hot-applies what can change at runtime and warns about the rest.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sdnotify.Reloading(a.log)
	defer sdnotify.Ready(a.log)

	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if restart := config.RequiresRestart(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart", logx.String("sections", strings.Join(restart, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if tick, err := newCfg.Engine.TickInterval(); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.SetTick(tick)
	}

	if window, err := newCfg.Bridge.Window(); err != nil {
		a.log.Warn("invalid bridge config; keeping previous", logx.Err(err))
	} else {
		a.bridge.SetDuplicateWindow(window)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if a.router != nil {
		a.router.SetOwners(newCfg.Telegram.OwnerUserIDs)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}
