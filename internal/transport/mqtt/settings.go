package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"dosebox/internal/storage"
)

// SettingsKey holds operator-saved broker settings. They override the config
// file on the next connect.
const SettingsKey = "broker_settings"

type Settings struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Host) == "" {
		return errors.New("broker host is empty")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("broker port %d out of range", s.Port)
	}
	return nil
}

// URL returns the paho server URL, e.g. tcp://host:1883.
func (s Settings) URL() string {
	return "tcp://" + net.JoinHostPort(strings.TrimSpace(s.Host), strconv.Itoa(s.Port))
}

func (s Settings) String() string { return net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) }

// LoadSettings returns persisted settings, or fallback when none are stored
// or they are unreadable.
func LoadSettings(ctx context.Context, kv storage.KV, fallback Settings) (Settings, bool) {
	if kv == nil {
		return fallback, false
	}
	raw, err := kv.Get(ctx, SettingsKey)
	if err != nil {
		return fallback, false
	}
	var s Settings
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Validate() != nil {
		return fallback, false
	}
	return s, true
}

func SaveSettings(ctx context.Context, kv storage.KV, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return kv.Set(ctx, SettingsKey, string(b))
}
