// Package dispatch turns dose events into what the user sees and hears:
// notifications, the looping alarm sound and the dispenser's alarm LEDs.
package dispatch

import (
	"context"

	"dosebox/internal/device"
	"dosebox/internal/engine"
	"dosebox/internal/notifier"
	"dosebox/internal/schedule"
	"dosebox/pkg/logx"
)

type Notifier interface {
	Show(ctx context.Context, n notifier.Notification) error
	Cancel(ctx context.Context, id int) error
}

type Player interface {
	Loop(name string) error
	Stop()
}

type Commander interface {
	SendCommand(ctx context.Context, kind device.CommandKind, rec schedule.DoseRecord) error
}

type Dispatcher struct {
	notes  Notifier
	player Player
	cmds   Commander
	log    logx.Logger
}

func New(notes Notifier, player Player, cmds Commander, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{notes: notes, player: player, cmds: cmds, log: log.With(logx.String("comp", "dispatch"))}
}

// Dispatch implements engine.Sink.
func (d *Dispatcher) Dispatch(ctx context.Context, ev engine.Event) {
	n, ok := Render(ev)
	if !ok {
		d.log.Warn("unknown event kind", logx.Int("kind", int(ev.Kind)))
		return
	}
	d.show(ctx, n)

	if ev.Kind != engine.DoseDue {
		return
	}
	if d.player != nil {
		if err := d.player.Loop(ev.Record.AlarmSound); err != nil {
			d.log.Warn("alarm sound failed", logx.String("sound", ev.Record.AlarmSound), logx.Err(err))
		}
	}
	if d.cmds != nil {
		_ = d.cmds.SendCommand(ctx, device.CmdAlarmOn, ev.Record)
	}
}

// Taken implements device.Alerts.
func (d *Dispatcher) Taken(ctx context.Context, rec schedule.DoseRecord, wasActive bool) {
	d.silence(ctx, rec)
	d.show(ctx, Taken(rec, wasActive))
}

// Dismiss implements device.Alerts.
func (d *Dispatcher) Dismiss(ctx context.Context, rec schedule.DoseRecord) {
	d.silence(ctx, rec)
}

func (d *Dispatcher) silence(ctx context.Context, rec schedule.DoseRecord) {
	if d.player != nil {
		d.player.Stop()
	}
	if err := d.notes.Cancel(ctx, rec.ID+OffsetDose); err != nil {
		d.log.Warn("cancel failed", logx.Int("id", rec.ID), logx.Err(err))
	}
}

func (d *Dispatcher) show(ctx context.Context, n notifier.Notification) {
	if err := d.notes.Show(ctx, n); err != nil {
		d.log.Warn("notification not queued", logx.Int("id", n.ID), logx.String("title", n.Title), logx.Err(err))
	}
}
