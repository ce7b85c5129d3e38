// Package telegram shows dose notifications in the operator chat.
package telegram

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"sync"

	"dosebox/internal/notifier"
	kit "dosebox/internal/transport"
	"dosebox/pkg/logx"
)

// Sink implements notifier.Sink on top of a chat. A notification id maps to
// at most one live message: showing an id again replaces its message, and
// cancelling deletes it.
type Sink struct {
	sender kit.Sender
	to     kit.ChatTarget
	log    logx.Logger

	mu   sync.Mutex
	live map[int]kit.MessageRef
}

func NewSink(sender kit.Sender, to kit.ChatTarget, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{
		sender: sender,
		to:     to,
		log:    log.With(logx.String("comp", "telegram.sink")),
		live:   map[int]kit.MessageRef{},
	}
}

func (s *Sink) Name() string { return "telegram" }

func (s *Sink) Show(ctx context.Context, n notifier.Notification) error {
	ref, err := s.sender.SendText(ctx, s.to, render(n), &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		Silent:         n.Priority != notifier.PriorityHigh,
		Buttons:        buttons(n),
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	prev, had := s.live[n.ID]
	s.live[n.ID] = ref
	s.mu.Unlock()

	// A new message re-alerts the phone; the old one goes away.
	if had {
		s.delete(ctx, n.ID, prev)
	}
	return nil
}

func (s *Sink) Cancel(ctx context.Context, id int) error {
	s.mu.Lock()
	ref, ok := s.live[id]
	delete(s.live, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.delete(ctx, id, ref)
	return nil
}

// Dismiss deletes a message the operator dismissed from the chat. When ref is
// still the live message for id, id is forgotten so later updates for it do
// not try to delete it again.
func (s *Sink) Dismiss(ctx context.Context, id int, ref kit.MessageRef) error {
	s.mu.Lock()
	if cur, ok := s.live[id]; ok && cur == ref {
		delete(s.live, id)
	}
	s.mu.Unlock()
	return s.sender.DeleteMessage(ctx, ref)
}

// delete is best-effort: the operator may already have removed the message.
func (s *Sink) delete(ctx context.Context, id int, ref kit.MessageRef) {
	if err := s.sender.DeleteMessage(ctx, ref); err != nil {
		s.log.Debug("delete failed", logx.Int("id", id), logx.Int("message_id", ref.MessageID), logx.Err(err))
	}
}

// Live reports how many notifications currently have a message.
func (s *Sink) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

func render(n notifier.Notification) string {
	icon := "ℹ️"
	if n.Priority == notifier.PriorityHigh {
		icon = "⏰"
	}
	return fmt.Sprintf("%s <b>%s</b>\n%s", icon, html.EscapeString(n.Title), html.EscapeString(n.Body))
}

// buttons offers "Dismiss" on dismissible notifications and "Stop alarm" on
// ongoing ones, whose id is the record id.
func buttons(n notifier.Notification) [][]kit.Button {
	if n.Dismissible {
		return [][]kit.Button{{{Text: "Dismiss", Data: "dismiss:" + strconv.Itoa(n.ID)}}}
	}
	return [][]kit.Button{{{Text: "🔕 Stop alarm", Data: "stop:" + strconv.Itoa(n.ID)}}}
}
