// Package mqtt wraps the paho client with the behavior dosebox needs:
// persisted broker settings re-read on every (re)connect, subscriptions
// restored after reconnect, and publishes that never wait for the broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"dosebox/internal/eventbus"
	"dosebox/internal/storage"
	"dosebox/pkg/logx"
)

var ErrNotConnected = errors.New("mqtt: not connected")

type Config struct {
	// Fallback is used when no settings are persisted under SettingsKey.
	Fallback             Settings
	Username             string
	Password             string
	ClientIDPrefix       string
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration
}

// StateEvent is the payload of eventbus.TransportState.
type StateEvent struct {
	Connected bool
	Broker    string
	Error     string
}

type subscription struct {
	qos     byte
	handler func(payload []byte)
}

type Client struct {
	cfg Config
	kv  storage.KV
	log logx.Logger
	bus eventbus.Bus

	mu     sync.Mutex
	c      paho.Client
	broker Settings
	subs   map[string]subscription
}

func New(cfg Config, kv storage.KV, log logx.Logger, bus eventbus.Bus) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "dosebox"
	}
	return &Client{
		cfg:  cfg,
		kv:   kv,
		log:  log.With(logx.String("comp", "mqtt")),
		bus:  bus,
		subs: map[string]subscription{},
	}
}

// Settings returns the broker the client is currently configured for.
func (c *Client) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.broker
}

// Connected reports whether the connection is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	cl := c.c
	c.mu.Unlock()
	return cl != nil && cl.IsConnectionOpen()
}

func (c *Client) currentSettings(ctx context.Context) Settings {
	s, persisted := LoadSettings(ctx, c.kv, c.cfg.Fallback)
	if persisted {
		c.log.Debug("using persisted broker settings", logx.String("broker", s.String()))
	}
	return s
}

func (c *Client) options(s Settings) *paho.ClientOptions {
	opts := paho.NewClientOptions()
	opts.AddBroker(s.URL())
	opts.SetClientID(c.cfg.ClientIDPrefix + "-" + uuid.NewString()[:8])
	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
	}
	if c.cfg.Password != "" {
		opts.SetPassword(c.cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	if c.cfg.KeepAlive > 0 {
		opts.SetKeepAlive(c.cfg.KeepAlive)
	}
	if c.cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.cfg.ConnectTimeout)
	}
	if c.cfg.MaxReconnectInterval > 0 {
		opts.SetMaxReconnectInterval(c.cfg.MaxReconnectInterval)
	}

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		c.log.Warn("connection lost", logx.Err(err))
		c.state(false, err)
	})
	// Pick up settings saved while we were disconnected.
	opts.SetReconnectingHandler(func(_ paho.Client, o *paho.ClientOptions) {
		next := c.currentSettings(context.Background())
		if u, err := url.Parse(next.URL()); err == nil {
			o.Servers = []*url.URL{u}
		}
		c.mu.Lock()
		c.broker = next
		c.mu.Unlock()
		c.log.Info("reconnecting", logx.String("broker", next.String()))
	})
	return opts
}

// Connect dials the broker and blocks until connected or ctx is done.
// Paho keeps retrying in the background, so a cancelled Connect still
// connects eventually unless Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	s := c.currentSettings(ctx)
	cl := paho.NewClient(c.options(s))

	c.mu.Lock()
	if c.c != nil {
		c.mu.Unlock()
		return errors.New("mqtt: already connected")
	}
	c.c = cl
	c.broker = s
	c.mu.Unlock()

	c.log.Info("connecting", logx.String("broker", s.String()))
	tok := cl.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", s, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reconnect drops the current connection and dials again with freshly
// loaded settings.
func (c *Client) Reconnect(ctx context.Context) error {
	c.Disconnect()
	return c.Connect(ctx)
}

// Apply persists s and reconnects to it.
func (c *Client) Apply(ctx context.Context, s Settings) error {
	if err := SaveSettings(ctx, c.kv, s); err != nil {
		return err
	}
	c.log.Info("broker settings saved", logx.String("broker", s.String()))
	return c.Reconnect(ctx)
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	cl := c.c
	c.c = nil
	c.mu.Unlock()
	if cl == nil {
		return
	}
	cl.Disconnect(250)
	c.log.Info("disconnected")
	c.state(false, nil)
}

func (c *Client) onConnect(cl paho.Client) {
	c.log.Info("connected", logx.String("broker", c.Settings().String()))
	c.state(true, nil)

	c.mu.Lock()
	subs := make(map[string]subscription, len(c.subs))
	for topic, sub := range c.subs {
		subs[topic] = sub
	}
	c.mu.Unlock()

	// Clean sessions forget subscriptions; restore them on every connect.
	for topic, sub := range subs {
		c.subscribe(cl, topic, sub)
	}
}

// Publish sends payload without waiting for the broker acknowledgement.
func (c *Client) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	cl := c.c
	c.mu.Unlock()
	if cl == nil || !cl.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := cl.Publish(topic, qos, false, payload)
	go func() {
		if tok.WaitTimeout(30*time.Second) && tok.Error() != nil {
			c.log.Warn("publish not acknowledged", logx.String("topic", topic), logx.Err(tok.Error()))
		}
	}()
	return nil
}

// Subscribe registers handler for topic. It is (re)applied on every connect.
func (c *Client) Subscribe(topic string, qos byte, handler func(payload []byte)) error {
	if handler == nil {
		return errors.New("mqtt: nil handler")
	}
	sub := subscription{qos: qos, handler: handler}
	c.mu.Lock()
	c.subs[topic] = sub
	cl := c.c
	c.mu.Unlock()

	if cl != nil && cl.IsConnectionOpen() {
		c.subscribe(cl, topic, sub)
	}
	return nil
}

func (c *Client) subscribe(cl paho.Client, topic string, sub subscription) {
	tok := cl.Subscribe(topic, sub.qos, func(_ paho.Client, m paho.Message) {
		sub.handler(m.Payload())
	})
	go func() {
		if !tok.WaitTimeout(10 * time.Second) {
			c.log.Warn("subscribe timed out", logx.String("topic", topic))
			return
		}
		if err := tok.Error(); err != nil {
			c.log.Warn("subscribe failed", logx.String("topic", topic), logx.Err(err))
			return
		}
		c.log.Debug("subscribed", logx.String("topic", topic))
	}()
}

func (c *Client) state(connected bool, err error) {
	if c.bus == nil {
		return
	}
	ev := StateEvent{Connected: connected, Broker: c.Settings().String()}
	if err != nil {
		ev.Error = err.Error()
	}
	c.bus.Publish(eventbus.Event{Type: eventbus.TransportState, Data: ev})
}

// pahoLogger routes paho's internal logging through logx.
type pahoLogger struct {
	log   logx.Logger
	level logx.Level
}

func (l pahoLogger) Println(v ...any) { l.emit(fmt.Sprint(v...)) }

func (l pahoLogger) Printf(format string, v ...any) { l.emit(fmt.Sprintf(format, v...)) }

func (l pahoLogger) emit(msg string) {
	switch l.level {
	case logx.LevelError:
		l.log.Error(msg)
	case logx.LevelWarn:
		l.log.Warn(msg)
	default:
		l.log.Debug(msg)
	}
}

// InstallLogger routes paho's package-level loggers through log.
func InstallLogger(log logx.Logger) {
	log = log.With(logx.String("comp", "paho"))
	paho.ERROR = pahoLogger{log: log, level: logx.LevelError}
	paho.CRITICAL = pahoLogger{log: log, level: logx.LevelError}
	paho.WARN = pahoLogger{log: log, level: logx.LevelWarn}
}
