package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dosebox/internal/eventbus"
	rtsup "dosebox/internal/runtime/supervisor"
	"dosebox/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type job struct {
	op Op
	n  Notification
}

// Service implements an async notification pipeline:
// sharded queues + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks []Sink

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	shards   []chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:   log.With(logx.String("comp", "notifier")),
		bus:   bus,
		sinks: sinks,
	}
	s.applyLocked(cfg)
	return s
}

// AddSink registers a sink. Call before Start.
func (s *Service) AddSink(sink Sink) {
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

// Apply hot-updates rate and retry settings. Worker and queue sizes take
// effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.shards != nil {
		s.mu.Unlock()
		return
	}

	workers := s.cfg.Workers
	per := s.cfg.QueueSize / workers
	if per < 1 {
		per = 1
	}
	s.shards = make([]chan job, workers)
	for i := range s.shards {
		s.shards[i] = make(chan job, per)
	}
	s.accepting = true
	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log),
		// notifier failures should not take down the whole app; treat as best-effort.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	shards := s.shards
	s.mu.Unlock()

	for i, q := range shards {
		q := q
		sup.GoRestart(fmt.Sprintf("worker.%d", i), 250*time.Millisecond, 5*time.Second, func(c context.Context) error {
			s.workerLoop(c, q)
			if c.Err() != nil {
				return c.Err()
			}
			// A closed queue means Stop is draining.
			return nil
		})
	}
	s.log.Info("notifier started", logx.Int("workers", len(shards)), logx.Int("sinks", len(s.sinks)))
}

// Stop stops intake and drains the queues best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	shards := s.shards
	sup := s.sup
	if shards == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queues so workers drain and exit.
		s.sendWG.Wait()
		for _, q := range shards {
			close(q)
		}
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.shards = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Show queues n for display on every sink.
func (s *Service) Show(ctx context.Context, n Notification) error {
	return s.enqueue(ctx, job{op: OpShow, n: n})
}

// Cancel queues removal of notification id from every sink.
func (s *Service) Cancel(ctx context.Context, id int) error {
	return s.enqueue(ctx, job{op: OpCancel, n: Notification{ID: id}})
}

func (s *Service) enqueue(ctx context.Context, j job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.accepting || s.shards == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.shards[shardFor(j.n.ID, len(s.shards))]
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	select {
	case q <- j:
		return nil
	default:
		s.publish("notifier.dropped", j, "", ErrQueueFull)
		return ErrQueueFull
	}
}

func shardFor(id, n int) int {
	if id < 0 {
		id = -id
	}
	return id % n
}

func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	out := append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(j job, limit int) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Op: j.op, ID: j.n.ID, Title: j.n.Title})
	if len(s.history) > limit {
		s.history = s.history[len(s.history)-limit:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()

	for _, sink := range sinks {
		s.sendWithRetry(ctx, sink, j, cfg)
	}
	s.appendHistory(j, cfg.HistorySize)
}

func (s *Service) sendWithRetry(ctx context.Context, sink Sink, j job, cfg Config) {
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		s.mu.Lock()
		lim := s.limiter
		s.mu.Unlock()
		if err := lim.Wait(ctx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		var err error
		switch j.op {
		case OpShow:
			err = sink.Show(callCtx, j.n)
		case OpCancel:
			err = sink.Cancel(callCtx, j.n.ID)
		}
		cancel()
		if err == nil {
			s.publish("notifier.sent", j, sink.Name(), nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("sink", sink.Name()), logx.String("op", string(j.op)), logx.Int("id", j.n.ID),
			logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("notification not delivered",
		logx.String("sink", sink.Name()), logx.String("op", string(j.op)), logx.Int("id", j.n.ID), logx.Err(lastErr))
	s.publish("notifier.failed", j, sink.Name(), lastErr)
}

func (s *Service) publish(typ string, j job, sink string, err error) {
	if s.bus == nil {
		return
	}
	now := time.Now()
	ev := NotificationEvent{Op: j.op, ID: j.n.ID, Sink: sink, At: now}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: now, Data: ev})
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the NEXT attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
