package app

import (
	"fmt"
	"strings"
	"time"

	"dosebox/internal/audio"
	"dosebox/internal/config"
	"dosebox/internal/notifier"
	"dosebox/internal/storage"
	"dosebox/internal/transport/mqtt"
	"dosebox/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.StorageOrDefault()
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file", "memory":
		return storage.Config{Driver: driver, Path: path}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "redis":
		return storage.Config{
			Driver:    "redis",
			RedisAddr: strings.TrimSpace(sc.RedisAddr),
			RedisDB:   sc.RedisDB,
			RedisPass: sc.RedisPassword,
			KeyPrefix: sc.KeyPrefix,
		}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.NotifierOrDefault()
	base, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		HistorySize:   n.HistorySize,
	}, nil
}

func mapBrokerConfig(b config.Broker) mqtt.Config {
	return mqtt.Config{
		Fallback:             mqtt.Settings{Host: b.Host, Port: b.Port},
		Username:             b.Username,
		Password:             b.Password,
		ClientIDPrefix:       b.ClientIDPrefix,
		KeepAlive:            b.KeepAlive,
		ConnectTimeout:       b.ConnectTimeout,
		MaxReconnectInterval: b.MaxReconnectInterval,
	}
}

func mapAudioConfig(cfg *config.Config) audio.Config {
	return audio.Config{
		Player:   cfg.Audio.Player,
		Command:  cfg.Audio.Command,
		Args:     cfg.Audio.Args,
		SoundDir: cfg.Audio.SoundDir,
	}
}
