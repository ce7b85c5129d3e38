package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"dosebox/internal/eventbus"
	"dosebox/internal/schedule"
	"dosebox/pkg/logx"
)

// Sink receives events after they have been persisted.
type Sink interface {
	Dispatch(ctx context.Context, ev Event)
}

type SinkFunc func(ctx context.Context, ev Event)

func (f SinkFunc) Dispatch(ctx context.Context, ev Event) { f(ctx, ev) }

// MinTick is the shortest evaluation period the scheduler can honor.
const MinTick = time.Second

type Engine struct {
	store *schedule.Store
	sink  Sink
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	// persisted runs between saving flag flips and dispatching them.
	persisted func()

	mu      sync.Mutex
	tick    time.Duration
	c       *cron.Cron
	entryID cron.EntryID
	job     cron.Job
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }
func WithBus(b eventbus.Bus) Option          { return func(e *Engine) { e.bus = b } }
func WithLogger(l logx.Logger) Option        { return func(e *Engine) { e.log = l } }
func WithTick(d time.Duration) Option        { return func(e *Engine) { e.tick = d } }

func New(store *schedule.Store, sink Sink, opts ...Option) *Engine {
	e := &Engine{store: store, sink: sink, now: time.Now, tick: time.Second}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	e.log = e.log.With(logx.String("comp", "engine"))
	if e.tick < MinTick {
		e.tick = MinTick
	}
	return e
}

// Tick runs one evaluation pass and returns the dispatched events. Events
// made stale by a transition that landed after they were saved are dropped.
func (e *Engine) Tick(ctx context.Context) ([]Event, error) {
	now := e.now()
	var events []Event
	_, err := e.store.Update(ctx, func(recs []schedule.DoseRecord) (bool, error) {
		events = events[:0]
		for i := range recs {
			for _, k := range Evaluate(&recs[i], now) {
				events = append(events, Event{Kind: k, Index: i, At: now})
			}
		}
		// Snapshot after all flips so every event carries the persisted state.
		for j := range events {
			events[j].Record = recs[events[j].Index]
		}
		return len(events) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	if e.persisted != nil {
		e.persisted()
	}

	var fired []Event
	e.store.Sequence(ctx, func(cur []schedule.DoseRecord) {
		for _, ev := range events {
			if ev.Index >= len(cur) || !Current(ev, cur[ev.Index]) {
				e.log.Info("dose event superseded", logx.String("kind", ev.Kind.String()), logx.Int("index", ev.Index))
				continue
			}
			e.log.Info("dose event",
				logx.String("kind", ev.Kind.String()),
				logx.Int("index", ev.Index),
				logx.String("name", ev.Record.Name),
			)
			if e.sink != nil {
				e.sink.Dispatch(ctx, ev)
			}
			if e.bus != nil {
				e.bus.Publish(eventbus.Event{Type: eventbus.DoseEvent, Time: now, Data: ev})
			}
			fired = append(fired, ev)
		}
	})
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.ScheduleChanged, Time: now})
	}
	return fired, nil
}

// Run evaluates on every tick until ctx is cancelled. Ticks never overlap:
// a tick still running when the next one is due causes that one to be skipped.
func (e *Engine) Run(ctx context.Context) error {
	c := cron.New()
	// One wrapped job for the life of the loop, so a rescheduled entry shares
	// the skip-if-running guard with the one it replaces.
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{e.log})).Then(e.tickJob(ctx))

	e.mu.Lock()
	e.c = c
	e.job = job
	e.entryID = c.Schedule(cron.Every(e.tick), job)
	tick := e.tick
	e.mu.Unlock()

	c.Start()
	e.log.Info("engine started", logx.Duration("tick", tick))

	<-ctx.Done()

	e.mu.Lock()
	e.c = nil
	e.mu.Unlock()
	<-c.Stop().Done()
	e.log.Info("engine stopped")
	return nil
}

// SetTick changes the evaluation period, rescheduling a running loop. The
// scheduler works in whole seconds, so periods under MinTick are refused.
func (e *Engine) SetTick(d time.Duration) {
	if d < MinTick {
		e.log.Warn("tick below minimum ignored", logx.Duration("tick", d), logx.Duration("min", MinTick))
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if d == e.tick {
		return
	}
	e.tick = d
	if e.c == nil {
		return
	}
	e.c.Remove(e.entryID)
	e.entryID = e.c.Schedule(cron.Every(d), e.job)
	e.log.Info("tick updated", logx.Duration("tick", d))
}

func (e *Engine) tickJob(ctx context.Context) cron.Job {
	return cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.Tick(ctx); err != nil {
			e.log.Warn("tick failed; retrying next tick", logx.Err(err))
		}
	})
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			continue
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
