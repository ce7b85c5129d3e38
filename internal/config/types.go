package config

// Config is the root of the dosebox config file (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Omitted optional sections fall back to the defaults documented on each type.
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Broker       BrokerConfig       `json:"broker"`
	Storage      *StorageConfig     `json:"storage,omitempty"`
	Engine       EngineConfig       `json:"engine"`
	Notifier     *NotifierConfig    `json:"notifier,omitempty"`
	Telegram     TelegramConfig     `json:"telegram"`
	Audio        AudioConfig        `json:"audio"`
	Compartments CompartmentsConfig `json:"compartments"`
	Bridge       BridgeConfig       `json:"bridge"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BrokerConfig addresses the MQTT broker the dispenser talks to.
//
// Host/Port are the initial values only: settings saved by the operator
// (/broker) are persisted and win on the next connect.
//
// Defaults:
//   - host: "87.248.152.126", port: 1883
//   - command_topic: "esp32/commands"
//   - taken_topic: "esp32/medication/taken"
//   - keep_alive: "30s", connect_timeout: "10s"
//   - max_reconnect_interval: "1m"
type BrokerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	ClientIDPrefix string `json:"client_id_prefix,omitempty"`
	CommandTopic   string `json:"command_topic,omitempty"`
	TakenTopic     string `json:"taken_topic,omitempty"`

	KeepAlive            string `json:"keep_alive,omitempty"`
	ConnectTimeout       string `json:"connect_timeout,omitempty"`
	MaxReconnectInterval string `json:"max_reconnect_interval,omitempty"`
}

// StorageConfig selects the KV driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/dosebox.db" }
//
// If omitted, the file driver is used with path "./data/dosebox.json".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"`
}

type EngineConfig struct {
	// Tick is the evaluation period. Default "1s".
	Tick string `json:"tick,omitempty"`
}

// NotifierConfig controls the async notification pipeline.
//
// If the whole section is omitted, defaults apply:
// workers 2, queue_size 256, rate_per_sec 5, retry_max 3,
// retry_base "500ms", retry_max_delay "10s", history_size 200.
type NotifierConfig struct {
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	HistorySize   int    `json:"history_size,omitempty"`
}

// TelegramConfig enables the telegram notification sink and operator commands.
type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token,omitempty"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// ChatID receives notifications. Defaults to the first owner.
	ChatID      int64  `json:"chat_id,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// AudioConfig selects how alarm sounds are played.
//
// Player "exec" runs Command with Args followed by <sound_dir>/<name>.wav,
// restarting it until stopped. Player "nop" (default) is silent.
type AudioConfig struct {
	Player   string   `json:"player,omitempty"`
	Command  string   `json:"command,omitempty"`
	Args     []string `json:"args,omitempty"`
	SoundDir string   `json:"sound_dir,omitempty"`
}

// CompartmentsConfig describes the dispenser. Defaults: 4 compartments on
// pins 19, 21, 22, 23.
type CompartmentsConfig struct {
	Count int   `json:"count,omitempty"`
	Pins  []int `json:"pins,omitempty"`
}

type BridgeConfig struct {
	// DuplicateWindow suppresses redelivered confirmations. Default "30s".
	DuplicateWindow string `json:"duplicate_window,omitempty"`
}
