package notifier

import (
	"context"
	"time"
)

type Priority int

const (
	PriorityDefault Priority = iota
	PriorityHigh
)

func (p Priority) String() string {
	if p == PriorityHigh {
		return "high"
	}
	return "default"
}

// Notification is shown under ID, replacing any earlier one with the same ID.
type Notification struct {
	ID          int
	Title       string
	Body        string
	Priority    Priority
	Dismissible bool
}

// Sink is a display surface for notifications.
type Sink interface {
	Name() string
	Show(ctx context.Context, n Notification) error
	Cancel(ctx context.Context, id int) error
}

// Config controls the async notification pipeline.
type Config struct {
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	HistorySize   int
}

type Op string

const (
	OpShow   Op = "show"
	OpCancel Op = "cancel"
)

type HistoryItem struct {
	At    time.Time
	Op    Op
	ID    int
	Title string
}

// NotificationEvent is published on the event bus for delivery outcomes.
type NotificationEvent struct {
	Op    Op        `json:"op"`
	ID    int       `json:"id"`
	Sink  string    `json:"sink"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
