package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dosebox/internal/device"
	"dosebox/internal/engine"
	"dosebox/internal/notifier"
	"dosebox/internal/schedule"
	"dosebox/pkg/logx"
)

type fakeNotes struct {
	shown     []notifier.Notification
	cancelled []int
}

func (f *fakeNotes) Show(_ context.Context, n notifier.Notification) error {
	f.shown = append(f.shown, n)
	return nil
}

func (f *fakeNotes) Cancel(_ context.Context, id int) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type fakePlayer struct {
	looping string
	stops   int
}

func (p *fakePlayer) Loop(name string) error { p.looping = name; return nil }
func (p *fakePlayer) Stop()                  { p.looping = ""; p.stops++ }

type sent struct {
	kind device.CommandKind
	part int
}

type fakeCmds struct{ sent []sent }

func (c *fakeCmds) SendCommand(_ context.Context, k device.CommandKind, r schedule.DoseRecord) error {
	c.sent = append(c.sent, sent{k, r.PartNumber})
	return nil
}

func record(idx int) schedule.DoseRecord {
	r := schedule.Defaults(schedule.DefaultLayout())[idx]
	r.StartTracking(time.UnixMilli(0))
	return r
}

func TestRenderIdentities(t *testing.T) {
	t.Parallel()
	r := record(2)
	tests := []struct {
		name string
		n    notifier.Notification
		id   int
		prio notifier.Priority
		dism bool
	}{
		{"dose", Dose(r), 2, notifier.PriorityHigh, false},
		{"reminder", Reminder(r), 1002, notifier.PriorityDefault, true},
		{"follow-up", FollowUp(r), 2002, notifier.PriorityHigh, true},
		{"taken", Taken(r, true), 3002, notifier.PriorityDefault, true},
		{"early", Taken(r, false), 4002, notifier.PriorityDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.id, tt.n.ID)
			require.Equal(t, tt.prio, tt.n.Priority)
			require.Equal(t, tt.dism, tt.n.Dismissible)
		})
	}
}

func TestReminderWording(t *testing.T) {
	t.Parallel()
	r := record(0)
	require.Equal(t, "Upcoming: Pill 1", Reminder(r).Title)
	require.Equal(t, "Prepare to take Pill 1 in about 1 minute(s)", Reminder(r).Body)

	r.PeriodSeconds = 60
	require.Equal(t, "Prepare to take Pill 1 soon", Reminder(r).Body)

	r.PeriodSeconds = 86400
	require.Equal(t, 28, ReminderMinutes(r.PeriodSeconds))
}

func TestDispatchDoseDue(t *testing.T) {
	t.Parallel()
	notes, player, cmds := &fakeNotes{}, &fakePlayer{}, &fakeCmds{}
	d := New(notes, player, cmds, logx.Nop())

	d.Dispatch(context.Background(), engine.Event{Kind: engine.DoseDue, Record: record(1)})

	require.Len(t, notes.shown, 1)
	require.Equal(t, "Time to take Pill 2!", notes.shown[0].Title)
	require.Equal(t, "alarm_two", player.looping)
	require.Equal(t, []sent{{device.CmdAlarmOn, 2}}, cmds.sent)
}

func TestDispatchReminderHasNoSideEffects(t *testing.T) {
	t.Parallel()
	notes, player, cmds := &fakeNotes{}, &fakePlayer{}, &fakeCmds{}
	d := New(notes, player, cmds, logx.Nop())

	d.Dispatch(context.Background(), engine.Event{Kind: engine.ReminderDue, Record: record(0)})
	d.Dispatch(context.Background(), engine.Event{Kind: engine.FollowUpDue, Record: record(0)})

	require.Len(t, notes.shown, 2)
	require.Empty(t, player.looping)
	require.Empty(t, cmds.sent)
}

func TestTakenSilencesAndNotifies(t *testing.T) {
	t.Parallel()
	notes, player := &fakeNotes{}, &fakePlayer{looping: "alarm_one"}
	d := New(notes, player, nil, logx.Nop())

	d.Taken(context.Background(), record(0), true)
	require.Equal(t, 1, player.stops)
	require.Equal(t, []int{0}, notes.cancelled)
	require.Equal(t, "Pill 1 Taken!", notes.shown[0].Title)

	d.Taken(context.Background(), record(0), false)
	require.Equal(t, "Pill 1 Taken Early", notes.shown[1].Title)
	require.Equal(t, 4000, notes.shown[1].ID)
}

func TestDismiss(t *testing.T) {
	t.Parallel()
	notes, player := &fakeNotes{}, &fakePlayer{looping: "alarm_three"}
	d := New(notes, player, nil, logx.Nop())

	d.Dismiss(context.Background(), record(2))
	require.Empty(t, player.looping)
	require.Equal(t, []int{2}, notes.cancelled)
	require.Empty(t, notes.shown)
}
