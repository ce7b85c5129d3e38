package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultBrokerHost     = "87.248.152.126"
	DefaultBrokerPort     = 1883
	DefaultCommandTopic   = "esp32/commands"
	DefaultTakenTopic     = "esp32/medication/taken"
	DefaultStoragePath    = "./data/dosebox.json"
	DefaultTick           = time.Second
	MinTick               = time.Second
	DefaultDuplicateWin   = 30 * time.Second
	DefaultCompartments   = 4
	defaultClientIDPrefix = "dosebox"
)

var DefaultPins = []int{19, 21, 22, 23}

// Broker is BrokerConfig with defaults applied and durations parsed.
type Broker struct {
	Host                 string
	Port                 int
	Username             string
	Password             string
	ClientIDPrefix       string
	CommandTopic         string
	TakenTopic           string
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

func (b BrokerConfig) Resolve() (Broker, error) {
	out := Broker{
		Host:           strings.TrimSpace(b.Host),
		Port:           b.Port,
		Username:       b.Username,
		Password:       b.Password,
		ClientIDPrefix: strings.TrimSpace(b.ClientIDPrefix),
		CommandTopic:   strings.TrimSpace(b.CommandTopic),
		TakenTopic:     strings.TrimSpace(b.TakenTopic),
	}
	if out.Host == "" {
		out.Host = DefaultBrokerHost
	}
	if out.Port == 0 {
		out.Port = DefaultBrokerPort
	}
	if out.Port < 0 || out.Port > 65535 {
		return Broker{}, fmt.Errorf("broker.port: %d out of range", out.Port)
	}
	if out.ClientIDPrefix == "" {
		out.ClientIDPrefix = defaultClientIDPrefix
	}
	if out.CommandTopic == "" {
		out.CommandTopic = DefaultCommandTopic
	}
	if out.TakenTopic == "" {
		out.TakenTopic = DefaultTakenTopic
	}

	var err error
	if out.KeepAlive, err = ParseDurationOrDefault("broker.keep_alive", b.KeepAlive, 30*time.Second); err != nil {
		return Broker{}, err
	}
	if out.ConnectTimeout, err = ParseDurationOrDefault("broker.connect_timeout", b.ConnectTimeout, 10*time.Second); err != nil {
		return Broker{}, err
	}
	if out.MaxReconnectInterval, err = ParseDurationOrDefault("broker.max_reconnect_interval", b.MaxReconnectInterval, time.Minute); err != nil {
		return Broker{}, err
	}
	return out, nil
}

// StorageOrDefault returns the storage section, or the file driver default.
func (c *Config) StorageOrDefault() StorageConfig {
	if c == nil || c.Storage == nil {
		return StorageConfig{Driver: "file", Path: DefaultStoragePath}
	}
	s := *c.Storage
	if strings.TrimSpace(s.Driver) == "" {
		s.Driver = "file"
	}
	if strings.TrimSpace(s.Path) == "" && s.Driver != "redis" && s.Driver != "memory" {
		s.Path = DefaultStoragePath
	}
	return s
}

// NotifierOrDefault returns the notifier section with zero fields defaulted.
func (c *Config) NotifierOrDefault() NotifierConfig {
	n := NotifierConfig{
		Workers:       2,
		QueueSize:     256,
		RatePerSec:    5,
		RetryMax:      3,
		RetryBase:     "500ms",
		RetryMaxDelay: "10s",
		HistorySize:   200,
	}
	if c == nil || c.Notifier == nil {
		return n
	}
	in := *c.Notifier
	if in.Workers > 0 {
		n.Workers = in.Workers
	}
	if in.QueueSize > 0 {
		n.QueueSize = in.QueueSize
	}
	if in.RatePerSec > 0 {
		n.RatePerSec = in.RatePerSec
	}
	if in.RetryMax > 0 {
		n.RetryMax = in.RetryMax
	}
	if strings.TrimSpace(in.RetryBase) != "" {
		n.RetryBase = in.RetryBase
	}
	if strings.TrimSpace(in.RetryMaxDelay) != "" {
		n.RetryMaxDelay = in.RetryMaxDelay
	}
	if in.HistorySize > 0 {
		n.HistorySize = in.HistorySize
	}
	return n
}

// TickInterval returns the evaluation period. Periods below MinTick are
// rejected; the scheduler cannot honor them.
func (e EngineConfig) TickInterval() (time.Duration, error) {
	d, err := ParseDurationOrDefault("engine.tick", e.Tick, DefaultTick)
	if err != nil {
		return 0, err
	}
	if d < MinTick {
		return 0, fmt.Errorf("engine.tick: %s is below the %s minimum", d, MinTick)
	}
	return d, nil
}

func (b BridgeConfig) Window() (time.Duration, error) {
	return ParseDurationOrDefault("bridge.duplicate_window", b.DuplicateWindow, DefaultDuplicateWin)
}

// Layout returns the compartment count and pins with defaults applied.
func (c CompartmentsConfig) Layout() (count int, pins []int) {
	count = c.Count
	if count <= 0 {
		count = DefaultCompartments
	}
	pins = c.Pins
	if len(pins) == 0 {
		pins = DefaultPins
	}
	return count, append([]int(nil), pins...)
}

// NotifyChat returns the chat that receives notifications.
func (t TelegramConfig) NotifyChat() int64 {
	if t.ChatID != 0 {
		return t.ChatID
	}
	if len(t.OwnerUserIDs) > 0 {
		return t.OwnerUserIDs[0]
	}
	return 0
}

// Validate reports every problem found in cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := cfg.Broker.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Engine.TickInterval(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Bridge.Window(); err != nil {
		errs = append(errs, err)
	}

	s := cfg.StorageOrDefault()
	switch strings.ToLower(strings.TrimSpace(s.Driver)) {
	case "file", "sqlite", "sqlite3", "memory":
	case "redis":
		if strings.TrimSpace(s.RedisAddr) == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown %q", s.Driver))
	}
	if _, err := ParseDuration("storage.busy_timeout", s.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	n := cfg.NotifierOrDefault()
	if _, err := ParseDuration("notifier.retry_base", n.RetryBase); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		errs = append(errs, err)
	}

	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
		}
		if len(cfg.Telegram.OwnerUserIDs) == 0 {
			errs = append(errs, errors.New("telegram.owner_user_ids must not be empty when telegram is enabled"))
		}
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Audio.Player)) {
	case "", "nop":
	case "exec":
		if strings.TrimSpace(cfg.Audio.Command) == "" {
			errs = append(errs, errors.New("audio.command is required for exec player"))
		}
	default:
		errs = append(errs, fmt.Errorf("audio.player: unknown %q", cfg.Audio.Player))
	}

	count, pins := cfg.Compartments.Layout()
	if len(pins) < count {
		errs = append(errs, fmt.Errorf("compartments: %d pins for %d compartments", len(pins), count))
	}
	seen := map[int]bool{}
	for _, p := range pins {
		if seen[p] {
			errs = append(errs, fmt.Errorf("compartments.pins: duplicate pin %d", p))
		}
		seen[p] = true
	}

	return errors.Join(errs...)
}
