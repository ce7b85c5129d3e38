package device

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"dosebox/internal/eventbus"
	"dosebox/internal/schedule"
	"dosebox/pkg/logx"
)

const (
	DefaultCommandTopic = "esp32/commands"
	DefaultTakenTopic   = "esp32/medication/taken"

	// QoS is used for both directions.
	QoS byte = 1
)

// Transport is the pub/sub capability the bridge needs. Publish must not wait
// for broker acknowledgement.
type Transport interface {
	Publish(ctx context.Context, topic string, qos byte, payload []byte) error
	Subscribe(topic string, qos byte, handler func(payload []byte)) error
}

// Alerts renders user-facing feedback for bridge transitions.
type Alerts interface {
	Taken(ctx context.Context, rec schedule.DoseRecord, wasActive bool)
	Dismiss(ctx context.Context, rec schedule.DoseRecord)
}

type Bridge struct {
	store *schedule.Store
	tr    Transport
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	commandTopic string
	takenTopic   string

	alerts atomic.Pointer[alertsBox]
	window atomic.Int64 // duplicate window, ns
}

type alertsBox struct{ a Alerts }

type Option func(*Bridge)

func WithClock(now func() time.Time) Option { return func(b *Bridge) { b.now = now } }
func WithBus(bus eventbus.Bus) Option        { return func(b *Bridge) { b.bus = bus } }
func WithLogger(l logx.Logger) Option        { return func(b *Bridge) { b.log = l } }
func WithTopics(command, taken string) Option {
	return func(b *Bridge) {
		if command != "" {
			b.commandTopic = command
		}
		if taken != "" {
			b.takenTopic = taken
		}
	}
}
func WithDuplicateWindow(d time.Duration) Option {
	return func(b *Bridge) { b.window.Store(int64(d)) }
}

func NewBridge(store *schedule.Store, tr Transport, opts ...Option) *Bridge {
	b := &Bridge{
		store:        store,
		tr:           tr,
		now:          time.Now,
		commandTopic: DefaultCommandTopic,
		takenTopic:   DefaultTakenTopic,
	}
	b.window.Store(int64(30 * time.Second))
	for _, o := range opts {
		o(b)
	}
	if b.log.IsZero() {
		b.log = logx.Nop()
	}
	b.log = b.log.With(logx.String("comp", "device"))
	return b
}

// SetAlerts installs the feedback renderer. It may be called once the
// dispatcher (which itself sends commands through b) exists.
func (b *Bridge) SetAlerts(a Alerts) { b.alerts.Store(&alertsBox{a: a}) }

func (b *Bridge) SetDuplicateWindow(d time.Duration) {
	if d < 0 {
		d = 0
	}
	b.window.Store(int64(d))
}

func (b *Bridge) alertsOrNil() Alerts {
	if box := b.alerts.Load(); box != nil {
		return box.a
	}
	return nil
}

// Subscribe registers the confirmation handler on the taken topic.
func (b *Bridge) Subscribe(ctx context.Context) error {
	err := b.tr.Subscribe(b.takenTopic, QoS, func(payload []byte) {
		_ = b.HandleConfirmation(ctx, payload)
	})
	if err != nil {
		return &TransportError{Op: "subscribe", Topic: b.takenTopic, Err: err}
	}
	b.log.Info("subscribed", logx.String("topic", b.takenTopic))
	return nil
}

// SendCommand publishes kind for rec. Failures are logged and returned; they
// are never queued or retried.
func (b *Bridge) SendCommand(ctx context.Context, kind CommandKind, rec schedule.DoseRecord) error {
	if !kind.Valid() {
		return ErrUnknownCommand
	}
	payload, err := NewCommand(kind, rec).Marshal()
	if err != nil {
		return err
	}
	if err := b.tr.Publish(ctx, b.commandTopic, QoS, payload); err != nil {
		terr := &TransportError{Op: "publish", Topic: b.commandTopic, Err: err}
		b.log.Warn("command not sent", logx.String("command", string(kind)), logx.Int("part", rec.PartNumber), logx.Err(terr))
		return terr
	}
	b.log.Debug("command sent", logx.String("command", string(kind)), logx.Int("part", rec.PartNumber), logx.Int("pin", rec.DevicePin))
	return nil
}

// HandleConfirmation applies one inbound "taken" message. Malformed payloads
// return a *DecodeError; unknown parts and idle compartments are ignored.
func (b *Bridge) HandleConfirmation(ctx context.Context, payload []byte) error {
	part, err := DecodeConfirmation(payload)
	if err != nil {
		b.log.Warn("confirmation dropped", logx.Err(err))
		b.dropped("decode", part)
		return err
	}

	now := b.now()
	window := time.Duration(b.window.Load())
	idx := part - 1

	var (
		applied   bool
		wasActive bool
		rec       schedule.DoseRecord
		reason    string
	)
	_, err = b.store.Update(ctx, func(recs []schedule.DoseRecord) (bool, error) {
		if idx < 0 || idx >= len(recs) {
			reason = "unknown_part"
			return false, nil
		}
		r := &recs[idx]
		if !r.IsTracking {
			reason = "not_tracking"
			return false, nil
		}
		if isDuplicate(*r, now, window) {
			reason = "duplicate"
			return false, nil
		}
		wasActive = r.ConfirmTaken(now)
		rec = *r
		applied = true
		return true, nil
	})
	if err != nil {
		b.log.Warn("confirmation not persisted", logx.Int("part", part), logx.Err(err))
		return err
	}
	if !applied {
		b.log.Info("confirmation ignored", logx.Int("part", part), logx.String("reason", reason))
		b.dropped(reason, part)
		return nil
	}

	b.log.Info("dose confirmed", logx.Int("part", part), logx.String("name", rec.Name), logx.Bool("was_active", wasActive))
	b.store.Sequence(ctx, func([]schedule.DoseRecord) {
		_ = b.SendCommand(ctx, CmdAlarmOff, rec)
		if a := b.alertsOrNil(); a != nil {
			a.Taken(ctx, rec, wasActive)
		}
	})
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.DeviceTaken, Time: now, Data: TakenEvent{Index: idx, Record: rec, WasActive: wasActive}})
		b.bus.Publish(eventbus.Event{Type: eventbus.ScheduleChanged, Time: now})
	}
	return nil
}

// isDuplicate reports a redelivery of a confirmation that was just applied:
// the cycle was started by a confirmation within window and nothing has fired
// since. Cycles started by the operator never match.
func isDuplicate(r schedule.DoseRecord, now time.Time, window time.Duration) bool {
	if window <= 0 || r.IsActive || r.AnySent() || !r.StartedByConfirmation() {
		return false
	}
	age := now.Sub(time.UnixMilli(*r.LastConfirmedMs))
	return age >= 0 && age < window
}

// TakenEvent is the payload of eventbus.DeviceTaken.
type TakenEvent struct {
	Index     int
	Record    schedule.DoseRecord
	WasActive bool
}

// DroppedEvent is the payload of eventbus.DeviceDropped.
type DroppedEvent struct {
	Reason string
	Part   int
}

func (b *Bridge) dropped(reason string, part int) {
	if b.bus == nil {
		return
	}
	b.bus.Publish(eventbus.Event{Type: eventbus.DeviceDropped, Data: DroppedEvent{Reason: reason, Part: part}})
}

// Records returns a snapshot of every compartment.
func (b *Bridge) Records(ctx context.Context) []schedule.DoseRecord {
	return b.store.Load(ctx)
}

// StartTracking begins a new cycle for compartment idx.
func (b *Bridge) StartTracking(ctx context.Context, idx int) (schedule.DoseRecord, error) {
	now := b.now()
	rec, err := b.store.UpdateIndex(ctx, idx, func(r *schedule.DoseRecord) bool {
		r.StartTracking(now)
		return true
	})
	if err != nil {
		return rec, err
	}
	b.changed()
	return rec, b.SendCommand(ctx, CmdStartTracking, rec)
}

// StopTracking ends tracking for compartment idx.
func (b *Bridge) StopTracking(ctx context.Context, idx int) (schedule.DoseRecord, error) {
	rec, err := b.store.UpdateIndex(ctx, idx, func(r *schedule.DoseRecord) bool {
		r.StopTracking()
		return true
	})
	if err != nil {
		return rec, err
	}
	b.changed()
	return rec, b.SendCommand(ctx, CmdReset, rec)
}

// SetPeriod changes the period of compartment idx.
func (b *Bridge) SetPeriod(ctx context.Context, idx, seconds int) (schedule.DoseRecord, error) {
	if seconds < 0 {
		return schedule.DoseRecord{}, errors.New("device: period must be >= 0")
	}
	now := b.now()
	rec, err := b.store.UpdateIndex(ctx, idx, func(r *schedule.DoseRecord) bool {
		r.SetPeriod(seconds, now)
		return true
	})
	if err != nil {
		return rec, err
	}
	b.changed()
	return rec, b.SendCommand(ctx, CmdPeriod, rec)
}

// StopAlarm silences the dose alarm of the record with notification id.
// The record itself is left unchanged.
func (b *Bridge) StopAlarm(ctx context.Context, id int) (schedule.DoseRecord, error) {
	var rec schedule.DoseRecord
	found := false
	for _, r := range b.Records(ctx) {
		if r.ID == id {
			rec, found = r, true
			break
		}
	}
	if !found {
		return rec, ErrUnknownID
	}
	var err error
	b.store.Sequence(ctx, func([]schedule.DoseRecord) {
		if a := b.alertsOrNil(); a != nil {
			a.Dismiss(ctx, rec)
		}
		err = b.SendCommand(ctx, CmdAlarmOff, rec)
	})
	return rec, err
}

// Edit updates display fields of compartment idx. No command is sent.
func (b *Bridge) Edit(ctx context.Context, idx int, p schedule.Patch) (schedule.DoseRecord, error) {
	var changed bool
	rec, err := b.store.UpdateIndex(ctx, idx, func(r *schedule.DoseRecord) bool {
		changed = p.Apply(r)
		return changed
	})
	if err == nil && changed {
		b.changed()
	}
	return rec, err
}

func (b *Bridge) changed() {
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{Type: eventbus.ScheduleChanged})
	}
}
