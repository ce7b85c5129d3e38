package engine

import (
	"time"

	"dosebox/internal/schedule"
)

// Kind identifies a dose event.
type Kind int

const (
	ReminderDue Kind = iota + 1
	DoseDue
	FollowUpDue
)

func (k Kind) String() string {
	switch k {
	case ReminderDue:
		return "reminder_due"
	case DoseDue:
		return "dose_due"
	case FollowUpDue:
		return "follow_up_due"
	default:
		return "unknown"
	}
}

// Event is emitted once per cycle per kind.
type Event struct {
	Kind   Kind
	Index  int
	Record schedule.DoseRecord // state after the flag flip
	At     time.Time
}

// LeadFraction is the share of the period by which reminders precede the due
// time and follow-ups trail it.
const LeadFraction = 50

// Evaluate applies the due rules to r at now, flipping flags in place, and
// returns the kinds that fired in order. Records that are not tracking or have
// no activation never fire.
func Evaluate(r *schedule.DoseRecord, now time.Time) []Kind {
	if !r.IsTracking || r.LastActivationMs == nil {
		return nil
	}
	periodMs := int64(r.PeriodSeconds) * 1000
	lead := periodMs / LeadFraction
	due := *r.LastActivationMs + periodMs
	n := now.UnixMilli()

	var out []Kind
	if n >= due-lead && !r.ReminderSent {
		r.ReminderSent = true
		out = append(out, ReminderDue)
	}
	if n >= due && !r.DoseSent {
		r.IsActive = true
		r.DoseSent = true
		out = append(out, DoseDue)
	}
	if n >= due+lead && r.IsActive && !r.FollowUpSent {
		r.FollowUpSent = true
		out = append(out, FollowUpDue)
	}
	return out
}

// Current reports whether ev still applies to cur, the record as persisted
// now: the cycle it fired in must still be running, and a dose or follow-up
// must still be due. An event fails this when a confirmation or operator
// intent landed between persisting it and dispatching it.
func Current(ev Event, cur schedule.DoseRecord) bool {
	was, now := ev.Record.LastActivationMs, cur.LastActivationMs
	if !cur.IsTracking || was == nil || now == nil || *was != *now {
		return false
	}
	switch ev.Kind {
	case DoseDue, FollowUpDue:
		return cur.IsActive
	}
	return true
}
