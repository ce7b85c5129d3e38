package config

import (
	"reflect"
	"sort"
	"strings"

	"dosebox/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging (never includes secrets like tokens or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	ob, nb := oldCfg.Broker, newCfg.Broker
	if strings.TrimSpace(ob.Host) != strings.TrimSpace(nb.Host) || ob.Port != nb.Port ||
		ob.Username != nb.Username || ob.Password != nb.Password ||
		ob.CommandTopic != nb.CommandTopic || ob.TakenTopic != nb.TakenTopic ||
		ob.KeepAlive != nb.KeepAlive || ob.ConnectTimeout != nb.ConnectTimeout ||
		ob.MaxReconnectInterval != nb.MaxReconnectInterval || ob.ClientIDPrefix != nb.ClientIDPrefix {
		changed = append(changed, "broker")
		attrs = append(attrs,
			logx.String("broker.host", strings.TrimSpace(nb.Host)),
			logx.Int("broker.port", nb.Port),
			logx.Bool("broker.auth_set", nb.Username != "" || nb.Password != ""),
		)
	}

	oS, nS := oldCfg.StorageOrDefault(), newCfg.StorageOrDefault()
	if oS.Driver != nS.Driver || oS.Path != nS.Path || oS.BusyTimeout != nS.BusyTimeout ||
		oS.RedisAddr != nS.RedisAddr || oS.RedisDB != nS.RedisDB || oS.KeyPrefix != nS.KeyPrefix ||
		(oS.RedisPassword != "") != (nS.RedisPassword != "") {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nS.Driver),
			logx.Bool("storage.path_set", nS.Path != ""),
		)
	}

	if strings.TrimSpace(oldCfg.Engine.Tick) != strings.TrimSpace(newCfg.Engine.Tick) {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.String("engine.tick", strings.TrimSpace(newCfg.Engine.Tick)))
	}

	oN, nN := oldCfg.NotifierOrDefault(), newCfg.NotifierOrDefault()
	if oN != nN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.workers", nN.Workers),
			logx.Int("notifier.queue_size", nN.QueueSize),
			logx.Int("notifier.rate_per_sec", nN.RatePerSec),
			logx.Int("notifier.retry_max", nN.RetryMax),
		)
	}

	// Telegram (never log token)
	oT, nT := oldCfg.Telegram, newCfg.Telegram
	if oT.Enabled != nT.Enabled || oT.ChatID != nT.ChatID ||
		strings.TrimSpace(oT.PollTimeout) != strings.TrimSpace(nT.PollTimeout) ||
		!reflect.DeepEqual(oT.OwnerUserIDs, nT.OwnerUserIDs) ||
		(strings.TrimSpace(oT.Token) != "") != (strings.TrimSpace(nT.Token) != "") {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", nT.Enabled),
			logx.Int("telegram.owner_count", len(nT.OwnerUserIDs)),
			logx.Bool("telegram.token_set", strings.TrimSpace(nT.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Audio, newCfg.Audio) {
		changed = append(changed, "audio")
		attrs = append(attrs, logx.String("audio.player", newCfg.Audio.Player))
	}

	if !reflect.DeepEqual(oldCfg.Compartments, newCfg.Compartments) {
		changed = append(changed, "compartments")
		count, _ := newCfg.Compartments.Layout()
		attrs = append(attrs, logx.Int("compartments.count", count))
	}

	if strings.TrimSpace(oldCfg.Bridge.DuplicateWindow) != strings.TrimSpace(newCfg.Bridge.DuplicateWindow) {
		changed = append(changed, "bridge")
		attrs = append(attrs, logx.String("bridge.duplicate_window", newCfg.Bridge.DuplicateWindow))
	}

	sort.Strings(changed)
	return changed, attrs
}

// RequiresRestart reports sections in changed that are only read at startup.
func RequiresRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "broker", "storage", "telegram", "audio", "compartments":
			out = append(out, s)
		}
	}
	return out
}
