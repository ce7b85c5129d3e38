package router

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dosebox/internal/device"
	"dosebox/internal/schedule"
	kit "dosebox/internal/transport"
	"dosebox/internal/transport/mqtt"
	"dosebox/pkg/logx"
)

const owner int64 = 7

type fakeSender struct {
	mu       sync.Mutex
	texts    []string
	answers  []string
	deleted  []kit.MessageRef
	lastOpts *kit.SendOptions
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	f.lastOpts = opt
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeSender) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, ref kit.MessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ref)
	return nil
}

func (f *fakeSender) AnswerCallback(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type call struct {
	op   string
	idx  int
	arg  int
	name string
}

type fakeDispenser struct {
	recs    []schedule.DoseRecord
	calls   []call
	sendErr error
}

func newDispenser() *fakeDispenser {
	return &fakeDispenser{recs: schedule.Defaults(schedule.DefaultLayout())}
}

func (f *fakeDispenser) Records(context.Context) []schedule.DoseRecord { return f.recs }

func (f *fakeDispenser) at(idx int) (schedule.DoseRecord, error) {
	if idx < 0 || idx >= len(f.recs) {
		return schedule.DoseRecord{}, schedule.ErrUnknownIndex
	}
	return f.recs[idx], nil
}

func (f *fakeDispenser) StartTracking(_ context.Context, idx int) (schedule.DoseRecord, error) {
	f.calls = append(f.calls, call{op: "track", idx: idx})
	rec, err := f.at(idx)
	if err != nil {
		return rec, err
	}
	return rec, f.sendErr
}

func (f *fakeDispenser) StopTracking(_ context.Context, idx int) (schedule.DoseRecord, error) {
	f.calls = append(f.calls, call{op: "untrack", idx: idx})
	return f.at(idx)
}

func (f *fakeDispenser) SetPeriod(_ context.Context, idx, seconds int) (schedule.DoseRecord, error) {
	f.calls = append(f.calls, call{op: "period", idx: idx, arg: seconds})
	rec, err := f.at(idx)
	rec.PeriodSeconds = seconds
	return rec, err
}

func (f *fakeDispenser) StopAlarm(_ context.Context, id int) (schedule.DoseRecord, error) {
	f.calls = append(f.calls, call{op: "stop", arg: id})
	for _, r := range f.recs {
		if r.ID == id {
			return r, nil
		}
	}
	return schedule.DoseRecord{}, device.ErrUnknownID
}

func (f *fakeDispenser) Edit(_ context.Context, idx int, p schedule.Patch) (schedule.DoseRecord, error) {
	f.calls = append(f.calls, call{op: "edit", idx: idx, name: *p.Name})
	rec, err := f.at(idx)
	if err == nil {
		p.Apply(&rec)
	}
	return rec, err
}

type fakeBroker struct {
	s       mqtt.Settings
	applied []mqtt.Settings
}

func (b *fakeBroker) Settings() mqtt.Settings { return b.s }
func (b *fakeBroker) Connected() bool         { return true }
func (b *fakeBroker) Apply(_ context.Context, s mqtt.Settings) error {
	b.applied = append(b.applied, s)
	b.s = s
	return nil
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: from, Text: text}}
}

func newRouter(t *testing.T) (*Router, *fakeSender, *fakeDispenser, *fakeBroker) {
	t.Helper()
	fs := &fakeSender{}
	fd := newDispenser()
	fb := &fakeBroker{s: mqtt.Settings{Host: "broker.local", Port: 1883}}
	now := time.UnixMilli(1_700_000_000_000)
	r := New(fs, fd, []int64{owner}, WithLogger(logx.Nop()), WithBroker(fb), WithClock(func() time.Time { return now }))
	return r, fs, fd, fb
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args []string
		ok   bool
	}{
		{"/status", "status", []string{}, true},
		{"/Track@dosebox_bot 2", "track", []string{"2"}, true},
		{"  /period 1   90m ", "period", []string{"1", "90m"}, true},
		{"hello", "", nil, false},
		{"/", "", nil, false},
		{"", "", nil, false},
	}
	for _, c := range cases {
		name, args, ok := parseCommand(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.name, name, c.in)
		if c.ok {
			assert.Equal(t, c.args, args, c.in)
		}
	}
}

func TestParsePeriod(t *testing.T) {
	secs, err := parsePeriod("3600")
	require.NoError(t, err)
	assert.Equal(t, 3600, secs)

	secs, err = parsePeriod("90m")
	require.NoError(t, err)
	assert.Equal(t, 5400, secs)

	_, err = parsePeriod("-5")
	assert.Error(t, err)
	_, err = parsePeriod("soon")
	assert.Error(t, err)
}

func TestOwnerOnly(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	ctx := context.Background()

	err := r.Handle(ctx, msg(99, "/track 1"))
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Empty(t, fd.calls)
	assert.Contains(t, fs.last(), "restricted")

	require.NoError(t, r.Handle(ctx, msg(99, "/whoami")))
	assert.Contains(t, fs.last(), "99")

	r.SetOwners([]int64{99})
	require.NoError(t, r.Handle(ctx, msg(99, "/track 1")))
	require.Len(t, fd.calls, 1)
}

func TestTrackingCommands(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, msg(owner, "/track 2")))
	require.NoError(t, r.Handle(ctx, msg(owner, "/untrack 2")))
	require.NoError(t, r.Handle(ctx, msg(owner, "/period 3 2h")))
	require.NoError(t, r.Handle(ctx, msg(owner, "/rename 4 Vitamin D")))

	assert.Equal(t, []call{
		{op: "track", idx: 1},
		{op: "untrack", idx: 1},
		{op: "period", idx: 2, arg: 7200},
		{op: "edit", idx: 3, name: "Vitamin D"},
	}, fd.calls)
	assert.Contains(t, fs.last(), "Vitamin D")
	assert.Equal(t, "HTML", fs.lastOpts.ParseMode)
}

func TestTrackReportsUndeliveredCommand(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	fd.sendErr = &device.TransportError{Op: "publish", Topic: device.DefaultCommandTopic, Err: errors.New("not connected")}

	require.NoError(t, r.Handle(context.Background(), msg(owner, "/track 1")))
	assert.Contains(t, fs.last(), "Tracking")
	assert.Contains(t, fs.last(), "Dispenser not updated")
}

func TestUsageAndUnknown(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	ctx := context.Background()

	assert.Error(t, r.Handle(ctx, msg(owner, "/track")))
	assert.Contains(t, fs.last(), "Usage")

	assert.Error(t, r.Handle(ctx, msg(owner, "/track x")))
	assert.Contains(t, fs.last(), "not a compartment number")

	assert.ErrorIs(t, r.Handle(ctx, msg(owner, "/track 9")), schedule.ErrUnknownIndex)
	assert.Contains(t, fs.last(), "Unknown compartment")

	require.NoError(t, r.Handle(ctx, msg(owner, "/frobnicate")))
	assert.Contains(t, fs.last(), "Unknown command")

	require.NoError(t, r.Handle(ctx, msg(owner, "just chatting")))
	assert.Len(t, fd.calls, 1)
}

func TestStopAndStatus(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, msg(owner, "/stop 2")))
	require.Len(t, fd.calls, 1)
	assert.Equal(t, fd.recs[1].ID, fd.calls[0].arg)

	last := time.UnixMilli(1_700_000_000_000 - 600_000).UnixMilli()
	fd.recs[0].IsTracking = true
	fd.recs[0].LastActivationMs = &last
	fd.recs[1].IsTracking = true
	fd.recs[1].IsActive = true

	require.NoError(t, r.Handle(ctx, msg(owner, "/status")))
	out := fs.last()
	assert.Contains(t, out, "next in 50m0s")
	assert.Contains(t, out, "due now")
	assert.Contains(t, out, "idle")
}

func TestBroker(t *testing.T) {
	r, fs, _, fb := newRouter(t)
	ctx := context.Background()

	require.NoError(t, r.Handle(ctx, msg(owner, "/broker")))
	assert.Contains(t, fs.last(), "broker.local:1883")

	require.NoError(t, r.Handle(ctx, msg(owner, "/broker 10.0.0.2 1884")))
	require.Len(t, fb.applied, 1)
	assert.Equal(t, mqtt.Settings{Host: "10.0.0.2", Port: 1884}, fb.applied[0])

	assert.Error(t, r.Handle(ctx, msg(owner, "/broker 10.0.0.2 99999")))
	assert.Len(t, fb.applied, 1)
}

func TestCallbacks(t *testing.T) {
	r, fs, fd, _ := newRouter(t)
	ctx := context.Background()
	cb := func(from int64, data string) kit.Update {
		return kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 100, FromID: from, MessageID: 55, Data: data}}
	}

	require.NoError(t, r.Handle(ctx, cb(owner, "stop:"+strconv.Itoa(fd.recs[0].ID))))
	require.Len(t, fd.calls, 1)
	assert.Equal(t, "Alarm stopped", fs.answers[len(fs.answers)-1])

	require.NoError(t, r.Handle(ctx, cb(owner, "dismiss:3001")))
	require.Len(t, fs.deleted, 1)
	assert.Equal(t, 55, fs.deleted[0].MessageID)

	assert.ErrorIs(t, r.Handle(ctx, cb(99, "stop:1")), ErrForbidden)
	assert.Equal(t, "Not allowed", fs.answers[len(fs.answers)-1])

	assert.Error(t, r.Handle(ctx, cb(owner, "stop:abc")))
	assert.Error(t, r.Handle(ctx, cb(owner, "explode:1")))
}

type fakeDismisser struct {
	ids  []int
	refs []kit.MessageRef
}

func (f *fakeDismisser) Dismiss(_ context.Context, id int, ref kit.MessageRef) error {
	f.ids = append(f.ids, id)
	f.refs = append(f.refs, ref)
	return nil
}

func TestDismissCallbackUsesDismisser(t *testing.T) {
	fs := &fakeSender{}
	fd := &fakeDismisser{}
	r := New(fs, newDispenser(), []int64{owner}, WithLogger(logx.Nop()), WithDismisser(fd))
	ctx := context.Background()

	up := kit.Update{Kind: kit.UpdateCallback, Callback: &kit.Callback{ID: "cb", ChatID: 100, FromID: owner, MessageID: 55, Data: "dismiss:3001"}}
	require.NoError(t, r.Handle(ctx, up))
	assert.Equal(t, []int{3001}, fd.ids)
	assert.Equal(t, 55, fd.refs[0].MessageID)
	assert.Empty(t, fs.deleted)

	up.Callback.Data = "dismiss:x"
	assert.Error(t, r.Handle(ctx, up))
}

func TestBotCommands(t *testing.T) {
	r, _, _, _ := newRouter(t)
	names := map[string]bool{}
	for _, c := range r.BotCommands() {
		names[c.Command] = true
	}
	for _, want := range []string{"status", "track", "untrack", "period", "rename", "stop", "broker", "help"} {
		assert.True(t, names[want], want)
	}
}

func TestRateLimit(t *testing.T) {
	mw := MWRateLimit(0.001, 2)
	calls := 0
	h := Chain(func(context.Context, *Request) error { calls++; return nil }, mw)
	req := &Request{FromID: 1}
	require.NoError(t, h(context.Background(), req))
	require.NoError(t, h(context.Background(), req))
	assert.ErrorIs(t, h(context.Background(), req), ErrRateLimited)
	// Other senders have their own bucket.
	require.NoError(t, h(context.Background(), &Request{FromID: 2}))
	assert.Equal(t, 3, calls)
}
