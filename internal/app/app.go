// Package app wires the dosebox components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"time"

	"dosebox/internal/audio"
	"dosebox/internal/config"
	"dosebox/internal/device"
	"dosebox/internal/dispatch"
	"dosebox/internal/engine"
	"dosebox/internal/eventbus"
	"dosebox/internal/notifier"
	rtsup "dosebox/internal/runtime/supervisor"
	"dosebox/internal/runtime/sdnotify"
	"dosebox/internal/schedule"
	"dosebox/internal/storage"
	kit "dosebox/internal/transport"
	"dosebox/internal/transport/mqtt"
	"dosebox/internal/transport/telegram"
	tgadapter "dosebox/internal/transport/telegram/adapter"
	"dosebox/internal/transport/telegram/router"
	"dosebox/pkg/logx"
)

type StopReason string

const (
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	kv   storage.KV

	store  *schedule.Store
	bridge *device.Bridge
	disp   *dispatch.Dispatcher
	engine *engine.Engine
	notif  *notifier.Service
	player audio.Player

	// mqtt is nil when the transport was injected.
	mqtt *mqtt.Client

	adapter kit.Adapter
	router  *router.Router
	updates chan kit.Update
}

type options struct {
	kv        storage.KV
	transport device.Transport
	player    audio.Player
	now       func() time.Time
	sinks     []notifier.Sink
}

type Option func(*options)

// WithKV replaces the configured storage.
func WithKV(kv storage.KV) Option { return func(o *options) { o.kv = kv } }

// WithTransport replaces the MQTT client.
func WithTransport(tr device.Transport) Option { return func(o *options) { o.transport = tr } }

// WithPlayer replaces the configured audio player.
func WithPlayer(p audio.Player) Option { return func(o *options) { o.player = p } }

func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithSink adds a notification sink next to the built-in ones.
func WithSink(s notifier.Sink) Option { return func(o *options) { o.sinks = append(o.sinks, s) } }

func NewApp(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if o.now == nil {
		o.now = time.Now
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	mqtt.InstallLogger(log)

	a := &App{cfgm: cfgm, log: appLog, logs: logSvc, bus: eventbus.New()}
	if err := a.build(cfg, log, o); err != nil {
		if a.kv != nil {
			_ = a.kv.Close()
		}
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger, o options) error {
	broker, err := cfg.Broker.Resolve()
	if err != nil {
		return err
	}
	tick, err := cfg.Engine.TickInterval()
	if err != nil {
		return err
	}
	window, err := cfg.Bridge.Window()
	if err != nil {
		return err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return err
	}

	// Storage
	a.kv = o.kv
	if a.kv == nil {
		sc, err := mapStorageConfig(cfg)
		if err != nil {
			return err
		}
		if a.kv, err = storage.Open(sc, log.With(logx.String("comp", "storage"))); err != nil {
			return err
		}
		a.log.Info("storage opened", logx.String("driver", sc.Driver))
	}
	count, pins := cfg.Compartments.Layout()
	a.store = schedule.NewStore(a.kv, schedule.Layout{Count: count, Pins: pins}, log)

	// Device transport
	tr := o.transport
	if tr == nil {
		a.mqtt = mqtt.New(mapBrokerConfig(broker), a.kv, log, a.bus)
		tr = a.mqtt
	}
	a.bridge = device.NewBridge(a.store, tr,
		device.WithClock(o.now),
		device.WithBus(a.bus),
		device.WithLogger(log),
		device.WithTopics(broker.CommandTopic, broker.TakenTopic),
		device.WithDuplicateWindow(window),
	)

	// Notifications and sound
	a.player = o.player
	if a.player == nil {
		if a.player, err = audio.New(mapAudioConfig(cfg), log); err != nil {
			return err
		}
	}
	a.notif = notifier.New(ncfg, log, a.bus, notifier.NewLogSink(log))
	for _, s := range o.sinks {
		a.notif.AddSink(s)
	}

	// Operator chat
	if cfg.Telegram.Enabled {
		if err := a.buildTelegram(cfg, log); err != nil {
			return err
		}
	}

	a.disp = dispatch.New(a.notif, a.player, a.bridge, log)
	a.bridge.SetAlerts(a.disp)
	a.engine = engine.New(a.store, a.disp,
		engine.WithClock(o.now),
		engine.WithBus(a.bus),
		engine.WithLogger(log),
		engine.WithTick(tick),
	)
	return nil
}

func (a *App) buildTelegram(cfg *config.Config, log logx.Logger) error {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return err
	}
	ad, err := tgadapter.New(tgadapter.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, log)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	a.adapter = ad
	a.updates = make(chan kit.Update, 256)

	ropts := []router.Option{router.WithLogger(log)}
	if a.mqtt != nil {
		ropts = append(ropts, router.WithBroker(a.mqtt))
	}
	if chat := cfg.Telegram.NotifyChat(); chat != 0 {
		sink := telegram.NewSink(ad, kit.ChatTarget{ChatID: chat}, log)
		a.notif.AddSink(sink)
		ropts = append(ropts, router.WithDismisser(sink))
	} else {
		a.log.Warn("telegram enabled without owner_user_ids or chat_id; notifications stay local")
	}
	a.router = router.New(ad, a.bridge, cfg.Telegram.OwnerUserIDs, ropts...)
	return nil
}

// Done is closed when the app supervisor context is cancelled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Bridge() *device.Bridge      { return a.bridge }
func (a *App) Engine() *engine.Engine      { return a.engine }
func (a *App) Notifier() *notifier.Service { return a.notif }
func (a *App) Store() *schedule.Store      { return a.store }
func (a *App) Bus() eventbus.Bus           { return a.bus }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	run := a.sup.Context()

	// Bring the record set into a consistent persisted state before anything reads it.
	recs := a.store.Load(run)
	tracking := 0
	for _, r := range recs {
		if r.IsTracking {
			tracking++
		}
	}
	a.log.Info("schedule loaded", logx.Int("compartments", len(recs)), logx.Int("tracking", tracking))

	a.notif.Start(run)

	if a.mqtt != nil {
		// paho retries in the background; a failed first attempt is not fatal.
		a.sup.Go0("mqtt.connect", func(c context.Context) {
			if err := a.mqtt.Connect(c); err != nil && c.Err() == nil {
				a.log.Warn("broker not reachable yet; retrying in background", logx.Err(err))
			}
		})
	}
	if err := a.bridge.Subscribe(run); err != nil {
		return err
	}

	a.sup.Go("engine", a.engine.Run)

	if a.adapter != nil {
		if err := a.adapter.Start(run, a.updates); err != nil {
			return err
		}
		a.sup.Go("telegram.router", func(c context.Context) error {
			return a.router.Run(c, a.updates)
		})
		if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
			a.sup.Go0("telegram.menu", func(c context.Context) {
				mctx, cancel := context.WithTimeout(c, 10*time.Second)
				defer cancel()
				if err := mu.UpdateMenuCommands(mctx, a.router.BotCommands()); err != nil {
					a.log.Warn("menu update failed", logx.Err(err))
				}
			})
		}
	}

	a.sup.Go0("eventbus.log", a.logEvents)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		return sdnotify.Watchdog(c, a.log)
	})

	sdnotify.Ready(a.log)
	sdnotify.Status(a.log, fmt.Sprintf("%d compartments, %d tracking", len(recs), tracking))
	a.log.Info("app started")
	return nil
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents(c context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-c.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping(a.log)

	a.sup.Cancel()

	// Components honor ctx; step bounds each one so a stuck component cannot
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		if max <= 0 {
			a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("adapter", 2*time.Second, func(c context.Context) error {
		if a.adapter != nil {
			return a.adapter.Stop(c)
		}
		return nil
	})
	// The engine may be mid-tick; let it finish before releasing what it uses.
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("player", time.Second, func(context.Context) error { a.player.Stop(); return nil })
	step("notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	step("mqtt", time.Second, func(context.Context) error {
		if a.mqtt != nil {
			a.mqtt.Disconnect()
		}
		return nil
	})
	step("storage", time.Second, func(context.Context) error { return a.kv.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
