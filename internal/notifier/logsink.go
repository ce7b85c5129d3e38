package notifier

import (
	"context"

	"dosebox/pkg/logx"
)

// LogSink writes notifications to the log. It is always installed so a
// headless deployment still records what the user would have seen.
type LogSink struct{ log logx.Logger }

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log.With(logx.String("comp", "notify.log"))}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Show(_ context.Context, n Notification) error {
	s.log.Info(n.Title,
		logx.Int("id", n.ID),
		logx.String("body", n.Body),
		logx.String("priority", n.Priority.String()),
		logx.Bool("dismissible", n.Dismissible),
	)
	return nil
}

func (s *LogSink) Cancel(_ context.Context, id int) error {
	s.log.Debug("notification cancelled", logx.Int("id", id))
	return nil
}
