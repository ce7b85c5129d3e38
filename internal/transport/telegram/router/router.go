// Package router turns operator chat updates into dispenser actions.
//
// Every command except /help and /whoami is restricted to the configured
// owners. Inline buttons on notifications come back as callbacks:
// "stop:<id>" silences a dose alarm and "dismiss:<id>" removes the message.
package router

import (
	"context"
	"errors"
	"html"
	"strings"
	"sync"
	"time"

	"dosebox/internal/schedule"
	kit "dosebox/internal/transport"
	"dosebox/internal/transport/mqtt"
	"dosebox/pkg/logx"
)

// Dispenser is the set of operator intents the router can trigger.
type Dispenser interface {
	Records(ctx context.Context) []schedule.DoseRecord
	StartTracking(ctx context.Context, idx int) (schedule.DoseRecord, error)
	StopTracking(ctx context.Context, idx int) (schedule.DoseRecord, error)
	SetPeriod(ctx context.Context, idx, seconds int) (schedule.DoseRecord, error)
	StopAlarm(ctx context.Context, id int) (schedule.DoseRecord, error)
	Edit(ctx context.Context, idx int, p schedule.Patch) (schedule.DoseRecord, error)
}

// Dismisser removes a dismissed notification message and its bookkeeping.
type Dismisser interface {
	Dismiss(ctx context.Context, id int, ref kit.MessageRef) error
}

// Broker exposes the broker connection for /broker.
type Broker interface {
	Settings() mqtt.Settings
	Connected() bool
	Apply(ctx context.Context, s mqtt.Settings) error
}

type Access int

const (
	AccessOwnerOnly Access = iota
	AccessEveryone
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Handle      HandlerFunc
}

type Request struct {
	Kind    kit.UpdateKind
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string

	// Callback only.
	CallbackID string
	MessageID  int
	Payload    string
}

type Router struct {
	sender  kit.Sender
	disp    Dispenser
	broker  Broker
	dismiss Dismisser
	log     logx.Logger
	now     func() time.Time
	timeout time.Duration

	mu     sync.RWMutex
	owners []int64

	commands  []Command
	byName    map[string]*Command
	owner     []Middleware
	everyone  []Middleware
	callbacks HandlerFunc
}

type Option func(*Router)

func WithLogger(l logx.Logger) Option        { return func(r *Router) { r.log = l } }
func WithClock(now func() time.Time) Option { return func(r *Router) { r.now = now } }
func WithTimeout(d time.Duration) Option     { return func(r *Router) { r.timeout = d } }

// WithBroker enables /broker.
func WithBroker(b Broker) Option { return func(r *Router) { r.broker = b } }

// WithDismisser routes "dismiss:<id>" callbacks through d instead of deleting
// the message directly.
func WithDismisser(d Dismisser) Option { return func(r *Router) { r.dismiss = d } }

func New(sender kit.Sender, disp Dispenser, owners []int64, opts ...Option) *Router {
	r := &Router{
		sender:  sender,
		disp:    disp,
		owners:  append([]int64(nil), owners...),
		now:     time.Now,
		timeout: 15 * time.Second,
		byName:  map[string]*Command{},
	}
	for _, o := range opts {
		o(r)
	}
	if r.log.IsZero() {
		r.log = logx.Nop()
	}
	r.log = r.log.With(logx.String("comp", "telegram.router"))

	base := []Middleware{MWPanicRecover(r.log), MWRequestLog(r.log), MWTimeout(r.timeout)}
	r.everyone = append(base, MWRateLimit(1, 5))
	r.owner = append(append([]Middleware(nil), base...), MWOwnerOnly(r.ownersSnapshot), MWRateLimit(2, 10))

	r.register(r.builtins())
	r.callbacks = Chain(r.handleCallback, r.owner...)
	return r
}

// SetOwners replaces the owner list. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	r.mu.Lock()
	r.owners = cp
	r.mu.Unlock()
}

func (r *Router) ownersSnapshot() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owners
}

func (r *Router) register(cmds []Command) {
	r.commands = cmds
	for i := range r.commands {
		c := &r.commands[i]
		mw := r.owner
		if c.Access == AccessEveryone {
			mw = r.everyone
		}
		c.Handle = Chain(c.Handle, mw...)
		r.byName[c.Name] = c
		for _, a := range c.Aliases {
			r.byName[a] = c
		}
	}
}

// BotCommands lists the commands for the chat menu.
func (r *Router) BotCommands() []kit.BotCommand {
	out := make([]kit.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run consumes updates until ctx is done or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-in:
			if !ok {
				return nil
			}
			_ = r.Handle(ctx, up)
		}
	}
}

// Handle processes one update. Non-command text is ignored.
func (r *Router) Handle(ctx context.Context, up kit.Update) error {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message == nil {
			return nil
		}
		name, args, ok := parseCommand(up.Message.Text)
		if !ok {
			return nil
		}
		req := &Request{
			Kind:    up.Kind,
			Chat:    kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID},
			FromID:  up.Message.FromID,
			Command: name,
			Args:    args,
		}
		cmd, found := r.byName[name]
		if !found {
			r.reply(ctx, req, "❓ Unknown command. Try <code>/help</code>.")
			return nil
		}
		err := cmd.Handle(ctx, req)
		r.replyError(ctx, req, err)
		return err

	case kit.UpdateCallback:
		cb := up.Callback
		if cb == nil {
			return nil
		}
		action, payload, _ := strings.Cut(cb.Data, ":")
		req := &Request{
			Kind:       up.Kind,
			Chat:       kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID},
			FromID:     cb.FromID,
			Command:    action,
			CallbackID: cb.ID,
			MessageID:  cb.MessageID,
			Payload:    payload,
		}
		err := r.callbacks(ctx, req)
		if err != nil {
			_ = r.sender.AnswerCallback(ctx, cb.ID, callbackErrorText(err))
		}
		return err
	}
	return nil
}

func callbackErrorText(err error) string {
	switch {
	case errors.Is(err, ErrForbidden):
		return "Not allowed"
	case errors.Is(err, ErrRateLimited):
		return "Slow down"
	default:
		return "Failed: " + err.Error()
	}
}

// reply outlives the handler deadline so slow actions still get an answer.
func (r *Router) reply(ctx context.Context, req *Request, text string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	_, err := r.sender.SendText(ctx, req.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	if err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", req.Chat.ChatID), logx.Err(err))
	}
}

func (r *Router) replyError(ctx context.Context, req *Request, err error) {
	if err == nil {
		return
	}
	var text string
	var uerr *usageError
	switch {
	case errors.Is(err, ErrForbidden):
		text = "⛔ This command is restricted to owners."
	case errors.Is(err, ErrRateLimited):
		return
	case errors.As(err, &uerr):
		text = "Usage: <code>" + html.EscapeString(uerr.usage) + "</code>"
		if uerr.msg != "" {
			text = html.EscapeString(uerr.msg) + "\n" + text
		}
	case errors.Is(err, schedule.ErrUnknownIndex):
		text = "Unknown compartment."
	default:
		text = "⚠️ " + html.EscapeString(err.Error())
	}
	r.reply(ctx, req, text)
}

func messageRef(req *Request) kit.MessageRef {
	return kit.MessageRef{ChatID: req.Chat.ChatID, ThreadID: req.Chat.ThreadID, MessageID: req.MessageID}
}

type usageError struct {
	usage string
	msg   string
}

func (e *usageError) Error() string {
	if e.msg != "" {
		return e.msg + " (usage: " + e.usage + ")"
	}
	return "usage: " + e.usage
}

// parseCommand splits "/name@bot a b" into ("name", [a b]).
func parseCommand(text string) (string, []string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}
