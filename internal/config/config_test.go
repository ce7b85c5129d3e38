package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
broker:
  host: broker.local
  port: 1884
engine:
  tick: 2s
compartments:
  count: 2
  pins: [5, 6]
bridge:
  duplicate_window: 10s
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "dosebox.yaml", sampleYAML)

	cfg, err := NewConfigManager(p).Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	b, err := cfg.Broker.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if b.Host != "broker.local" || b.Port != 1884 {
		t.Fatalf("broker=%+v", b)
	}
	if b.CommandTopic != DefaultCommandTopic || b.TakenTopic != DefaultTakenTopic {
		t.Fatalf("topics=%q %q", b.CommandTopic, b.TakenTopic)
	}
	if d, _ := cfg.Engine.TickInterval(); d != 2*time.Second {
		t.Fatalf("tick=%v", d)
	}
	if d, _ := cfg.Bridge.Window(); d != 10*time.Second {
		t.Fatalf("window=%v", d)
	}
	if n, pins := cfg.Compartments.Layout(); n != 2 || len(pins) != 2 || pins[0] != 5 {
		t.Fatalf("layout=%d %v", n, pins)
	}
}

func TestYAMLToJSON(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"empty", "", `{}`, false},
		{"alias", "base: &b {tick: 2s}\nengine: *b\n", `{"base":{"tick":"2s"},"engine":{"tick":"2s"}}`, false},
		{"sequence", "pins: [1, 2]\n", `{"pins":[1,2]}`, false},
		{"complex key", "? [a, b]\n: 1\n", "", true},
		{"syntax", "engine: [\n", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := yamlToJSON([]byte(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %s", got)
				}
				return
			}
			if err != nil || string(got) != tt.want {
				t.Fatalf("got %s, %v; want %s", got, err, tt.want)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDuration("x", " "); d != 0 || err != nil {
		t.Fatalf("empty: %v %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute || err != nil {
		t.Fatalf("zero: %v %v", d, err)
	}
	if _, err := ParseDurationOrDefault("notifier.retry_base", "-2s", time.Minute); err == nil || !strings.Contains(err.Error(), "notifier.retry_base") {
		t.Fatalf("negative: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "dosebox.json", `{"broker":{"hostname":"x"}}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "dosebox.json", `{} {}`)
	if _, err := NewConfigManager(p).Load(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestDefaults(t *testing.T) {
	t.Parallel()
	var cfg Config
	if err := Validate(&cfg); err != nil {
		t.Fatalf("empty config should validate: %v", err)
	}
	b, _ := cfg.Broker.Resolve()
	if b.Host != DefaultBrokerHost || b.Port != DefaultBrokerPort {
		t.Fatalf("broker=%+v", b)
	}
	if s := cfg.StorageOrDefault(); s.Driver != "file" || s.Path != DefaultStoragePath {
		t.Fatalf("storage=%+v", s)
	}
	if n := cfg.NotifierOrDefault(); n.Workers != 2 || n.RatePerSec != 5 {
		t.Fatalf("notifier=%+v", n)
	}
	if n, pins := cfg.Compartments.Layout(); n != 4 || len(pins) != 4 {
		t.Fatalf("layout=%d %v", n, pins)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"bad tick", Config{Engine: EngineConfig{Tick: "soon"}}, "engine.tick"},
		{"tick below minimum", Config{Engine: EngineConfig{Tick: "500ms"}}, "engine.tick"},
		{"negative window", Config{Bridge: BridgeConfig{DuplicateWindow: "-1s"}}, "bridge.duplicate_window"},
		{"port range", Config{Broker: BrokerConfig{Port: 70000}}, "broker.port"},
		{"driver", Config{Storage: &StorageConfig{Driver: "etcd"}}, "storage.driver"},
		{"redis addr", Config{Storage: &StorageConfig{Driver: "redis"}}, "redis_addr"},
		{"telegram token", Config{Telegram: TelegramConfig{Enabled: true, OwnerUserIDs: []int64{1}}}, "telegram.token"},
		{"audio cmd", Config{Audio: AudioConfig{Player: "exec"}}, "audio.command"},
		{"pins short", Config{Compartments: CompartmentsConfig{Count: 5}}, "pins for 5"},
		{"pins dup", Config{Compartments: CompartmentsConfig{Count: 2, Pins: []int{3, 3}}}, "duplicate pin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestNotifyChat(t *testing.T) {
	t.Parallel()
	if got := (TelegramConfig{OwnerUserIDs: []int64{7, 8}}).NotifyChat(); got != 7 {
		t.Fatalf("got %d", got)
	}
	if got := (TelegramConfig{ChatID: -100, OwnerUserIDs: []int64{7}}).NotifyChat(); got != -100 {
		t.Fatalf("got %d", got)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	a := &Config{Broker: BrokerConfig{Password: "a"}}
	b := &Config{Broker: BrokerConfig{Password: "b"}, Engine: EngineConfig{Tick: "2s"}}
	changed, attrs := SummarizeConfigChange(a, b)
	if strings.Join(changed, ",") != "broker,engine" {
		t.Fatalf("changed=%v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if r := RequiresRestart(changed); len(r) != 1 || r[0] != "broker" {
		t.Fatalf("restart=%v", r)
	}
}

func TestWatchPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "dosebox.json", `{"engine":{"tick":"1s"}}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "dosebox.json", `{"engine":{"tick":"3s"}}`)

	select {
	case cfg := <-ch:
		if cfg.Engine.Tick != "3s" {
			t.Fatalf("tick=%q", cfg.Engine.Tick)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Engine.Tick != "3s" {
		t.Fatal("config not committed")
	}
}

func TestWatchRejectsInvalid(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "dosebox.json", `{}`)

	m := NewConfigManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	time.Sleep(100 * time.Millisecond)
	writeFile(t, dir, "dosebox.json", `{"engine":{"tick":"never"}}`)

	select {
	case cfg := <-ch:
		t.Fatalf("invalid config published: %+v", cfg.Engine)
	case <-time.After(time.Second):
	}
}
