package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"dosebox/internal/device"
	"dosebox/internal/schedule"
	"dosebox/internal/transport/mqtt"
)

func (r *Router) builtins() []Command {
	return []Command{
		{Name: "status", Aliases: []string{"s"}, Description: "show every compartment", Usage: "/status", Handle: r.cmdStatus},
		{Name: "track", Description: "start tracking a compartment", Usage: "/track <n>", Handle: r.cmdTrack},
		{Name: "untrack", Description: "stop tracking a compartment", Usage: "/untrack <n>", Handle: r.cmdUntrack},
		{Name: "period", Description: "set the dosing period", Usage: "/period <n> <duration|seconds>", Handle: r.cmdPeriod},
		{Name: "rename", Description: "rename a compartment", Usage: "/rename <n> <name>", Handle: r.cmdRename},
		{Name: "stop", Description: "stop a ringing alarm", Usage: "/stop <n>", Handle: r.cmdStop},
		{Name: "broker", Description: "show or change the MQTT broker", Usage: "/broker [<host> <port>]", Handle: r.cmdBroker},
		{Name: "whoami", Description: "show your user id", Usage: "/whoami", Access: AccessEveryone, Handle: r.cmdWhoami},
		{Name: "help", Aliases: []string{"h", "start"}, Description: "list commands", Usage: "/help", Access: AccessEveryone, Handle: r.cmdHelp},
	}
}

// compartment parses a 1-based compartment number into a record index.
func compartment(args []string, usage string) (int, error) {
	if len(args) == 0 {
		return 0, &usageError{usage: usage}
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, &usageError{usage: usage, msg: fmt.Sprintf("%q is not a compartment number", args[0])}
	}
	return n - 1, nil
}

// parsePeriod accepts a Go duration ("90m", "8h") or whole seconds.
func parsePeriod(raw string) (int, error) {
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0, errors.New("period must be >= 0")
		}
		return secs, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid period %q", raw)
	}
	if d < 0 {
		return 0, errors.New("period must be >= 0")
	}
	return int(d / time.Second), nil
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	recs := r.disp.Records(ctx)
	now := r.now()
	lines := make([]string, 0, len(recs)+1)
	lines = append(lines, "💊 <b>Compartments</b>")
	for i, rec := range recs {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, statusLine(rec, now)))
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

func statusLine(rec schedule.DoseRecord, now time.Time) string {
	head := fmt.Sprintf("<b>%s</b> (pin %d, every %s)", html.EscapeString(rec.Name), rec.DevicePin, formatPeriod(rec.PeriodSeconds))
	switch {
	case !rec.IsTracking:
		return head + " idle"
	case rec.IsActive:
		return head + " 🔔 due now"
	}
	due, ok := rec.NextDue()
	if !ok {
		return head + " tracking"
	}
	left := due.Sub(now).Truncate(time.Second)
	if left <= 0 {
		return head + " due"
	}
	return head + " next in " + left.String()
}

func formatPeriod(secs int) string {
	return (time.Duration(secs) * time.Second).String()
}

func (r *Router) cmdTrack(ctx context.Context, req *Request) error {
	idx, err := compartment(req.Args, "/track <n>")
	if err != nil {
		return err
	}
	rec, err := r.disp.StartTracking(ctx, idx)
	if err != nil && !notDelivered(err) {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("▶️ Tracking <b>%s</b>, next dose in %s.%s",
		html.EscapeString(rec.Name), formatPeriod(rec.PeriodSeconds), deviceNote(err)))
	return nil
}

func (r *Router) cmdUntrack(ctx context.Context, req *Request) error {
	idx, err := compartment(req.Args, "/untrack <n>")
	if err != nil {
		return err
	}
	rec, err := r.disp.StopTracking(ctx, idx)
	if err != nil && !notDelivered(err) {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("⏹ Stopped tracking <b>%s</b>.%s", html.EscapeString(rec.Name), deviceNote(err)))
	return nil
}

func (r *Router) cmdPeriod(ctx context.Context, req *Request) error {
	const usage = "/period <n> <duration|seconds>"
	idx, err := compartment(req.Args, usage)
	if err != nil {
		return err
	}
	if len(req.Args) < 2 {
		return &usageError{usage: usage}
	}
	secs, err := parsePeriod(req.Args[1])
	if err != nil {
		return &usageError{usage: usage, msg: err.Error()}
	}
	rec, err := r.disp.SetPeriod(ctx, idx, secs)
	if err != nil && !notDelivered(err) {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("⏱ <b>%s</b> now every %s.%s", html.EscapeString(rec.Name), formatPeriod(rec.PeriodSeconds), deviceNote(err)))
	return nil
}

func (r *Router) cmdRename(ctx context.Context, req *Request) error {
	const usage = "/rename <n> <name>"
	idx, err := compartment(req.Args, usage)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(strings.Join(req.Args[1:], " "))
	if name == "" {
		return &usageError{usage: usage}
	}
	rec, err := r.disp.Edit(ctx, idx, schedule.Patch{Name: &name})
	if err != nil {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("✏️ Compartment %d is now <b>%s</b>.", idx+1, html.EscapeString(rec.Name)))
	return nil
}

func (r *Router) cmdStop(ctx context.Context, req *Request) error {
	idx, err := compartment(req.Args, "/stop <n>")
	if err != nil {
		return err
	}
	recs := r.disp.Records(ctx)
	if idx >= len(recs) {
		return schedule.ErrUnknownIndex
	}
	rec, err := r.disp.StopAlarm(ctx, recs[idx].ID)
	if err != nil && !notDelivered(err) {
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("🔕 Alarm stopped for <b>%s</b>.%s", html.EscapeString(rec.Name), deviceNote(err)))
	return nil
}

func (r *Router) cmdBroker(ctx context.Context, req *Request) error {
	const usage = "/broker [<host> <port>]"
	if r.broker == nil {
		return errors.New("broker control is not available")
	}
	if len(req.Args) == 0 {
		state := "disconnected"
		if r.broker.Connected() {
			state = "connected"
		}
		r.reply(ctx, req, fmt.Sprintf("📡 Broker <code>%s</code> (%s)", html.EscapeString(r.broker.Settings().String()), state))
		return nil
	}
	if len(req.Args) != 2 {
		return &usageError{usage: usage}
	}
	port, err := strconv.Atoi(req.Args[1])
	if err != nil {
		return &usageError{usage: usage, msg: fmt.Sprintf("%q is not a port", req.Args[1])}
	}
	s := mqtt.Settings{Host: req.Args[0], Port: port}
	if err := s.Validate(); err != nil {
		return &usageError{usage: usage, msg: err.Error()}
	}
	if err := r.broker.Apply(ctx, s); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			r.reply(ctx, req, fmt.Sprintf("📡 Saved <code>%s</code>; still connecting.", html.EscapeString(s.String())))
			return nil
		}
		return err
	}
	r.reply(ctx, req, fmt.Sprintf("📡 Connected to <code>%s</code>.", html.EscapeString(s.String())))
	return nil
}

func (r *Router) cmdWhoami(ctx context.Context, req *Request) error {
	r.reply(ctx, req, fmt.Sprintf("Your user id is <code>%d</code>.", req.FromID))
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	lines := []string{"📚 <b>Commands</b>"}
	for _, c := range r.commands {
		lock := ""
		if c.Access == AccessOwnerOnly {
			lock = " 🔒"
		}
		lines = append(lines, fmt.Sprintf("<code>%s</code> %s%s", html.EscapeString(c.Usage), html.EscapeString(c.Description), lock))
	}
	r.reply(ctx, req, strings.Join(lines, "\n"))
	return nil
}

// notDelivered reports a change that was saved but not sent to the dispenser.
func notDelivered(err error) bool {
	var terr *device.TransportError
	return errors.As(err, &terr)
}

// deviceNote is appended when the record changed but the dispenser could not
// be told.
func deviceNote(err error) string {
	if err == nil {
		return ""
	}
	return "\n⚠️ Dispenser not updated: " + html.EscapeString(err.Error())
}

func (r *Router) handleCallback(ctx context.Context, req *Request) error {
	switch req.Command {
	case "stop":
		id, err := strconv.Atoi(req.Payload)
		if err != nil {
			return fmt.Errorf("bad callback payload %q", req.Payload)
		}
		if _, err := r.disp.StopAlarm(ctx, id); err != nil && !notDelivered(err) {
			return err
		}
		return r.sender.AnswerCallback(ctx, req.CallbackID, "Alarm stopped")
	case "dismiss":
		_ = r.sender.AnswerCallback(ctx, req.CallbackID, "")
		if r.dismiss == nil {
			return r.sender.DeleteMessage(ctx, messageRef(req))
		}
		id, err := strconv.Atoi(req.Payload)
		if err != nil {
			return fmt.Errorf("bad callback payload %q", req.Payload)
		}
		return r.dismiss.Dismiss(ctx, id, messageRef(req))
	}
	return fmt.Errorf("unknown action %q", req.Command)
}
