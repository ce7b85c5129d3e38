package adapter

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	kit "dosebox/internal/transport"
	"dosebox/pkg/logx"
)

func TestSplitTelegramTextShort(t *testing.T) {
	got := splitTelegramText("hello", 10, "")
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextPrefersNewlines(t *testing.T) {
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	got := splitTelegramText(s, 10, "")
	if len(got) != 2 || got[0] != "aaaaaa" || got[1] != "bbbbbb" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTelegramTextKeepsTagsWhole(t *testing.T) {
	s := "abcdefg<b>bold</b>"
	got := splitTelegramText(s, 9, tele.ModeHTML)
	if got[0] != "abcdefg" {
		t.Fatalf("first chunk = %q", got[0])
	}
	if strings.Join(got, "") != s {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestInlineMarkup(t *testing.T) {
	if inlineMarkup(nil) != nil {
		t.Fatal("expected nil markup for no buttons")
	}
	rm := inlineMarkup([][]kit.Button{{{Text: "Dismiss", Data: "dismiss:3001"}, {Text: "", Data: "x"}}, {}})
	if rm == nil || len(rm.InlineKeyboard) != 1 || len(rm.InlineKeyboard[0]) != 1 {
		t.Fatalf("unexpected markup: %+v", rm)
	}
	if b := rm.InlineKeyboard[0][0]; b.Text != "Dismiss" || b.Data != "dismiss:3001" {
		t.Fatalf("button = %+v", b)
	}
}

func TestUpdatesFromTelebot(t *testing.T) {
	up, ok := messageUpdate(&tele.Message{ID: 7, Chat: &tele.Chat{ID: 42}, Sender: &tele.User{ID: 9, Username: "op"}, Text: "/status"})
	if !ok || up.Kind != kit.UpdateMessage || up.Message.FromID != 9 || up.Message.ChatID != 42 || up.Message.Text != "/status" {
		t.Fatalf("message update = %+v", up)
	}
	if _, ok := messageUpdate(&tele.Message{ID: 1}); ok {
		t.Fatal("message without chat must be ignored")
	}

	up, ok = callbackUpdate(&tele.Callback{ID: "cb", Data: "\fstop:2", Sender: &tele.User{ID: 9}, Message: &tele.Message{ID: 5, Chat: &tele.Chat{ID: 42}}})
	if !ok || up.Callback.Data != "stop:2" || up.Callback.MessageID != 5 || up.Callback.FromID != 9 {
		t.Fatalf("callback update = %+v", up.Callback)
	}
}

func TestMenuCommands(t *testing.T) {
	in := []kit.BotCommand{{Command: "status"}, {Command: ""}, {Command: "track", Description: strings.Repeat("x", 300)}}
	out := menuCommands(in)
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].Description != "status" || len(out[1].Description) != 256 {
		t.Fatalf("descriptions = %q / %d", out[0].Description, len(out[1].Description))
	}
	if menuHash(out) == menuHash(out[:1]) {
		t.Fatal("hash should change with the list")
	}
}

func TestNewRequiresToken(t *testing.T) {
	if _, err := New(Config{Token: "  "}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty token")
	}
	a, err := New(Config{Token: "123:abc", Offline: true}, logx.Nop())
	if err != nil || a == nil {
		t.Fatalf("offline adapter: %v", err)
	}
}
