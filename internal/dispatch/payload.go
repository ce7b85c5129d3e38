package dispatch

import (
	"fmt"

	"dosebox/internal/engine"
	"dosebox/internal/notifier"
	"dosebox/internal/schedule"
)

// Notification identity offsets from the record id.
const (
	OffsetDose     = 0
	OffsetReminder = 1000
	OffsetFollowUp = 2000
	OffsetTaken    = 3000
	OffsetEarly    = 4000
)

// ReminderMinutes is how far ahead of the due time the reminder fires, in
// whole minutes.
func ReminderMinutes(periodSeconds int) int {
	return periodSeconds / engine.LeadFraction / 60
}

func Reminder(r schedule.DoseRecord) notifier.Notification {
	body := fmt.Sprintf("Prepare to take %s soon", r.Name)
	if m := ReminderMinutes(r.PeriodSeconds); m > 0 {
		body = fmt.Sprintf("Prepare to take %s in about %d minute(s)", r.Name, m)
	}
	return notifier.Notification{
		ID:          r.ID + OffsetReminder,
		Title:       "Upcoming: " + r.Name,
		Body:        body,
		Priority:    notifier.PriorityDefault,
		Dismissible: true,
	}
}

// Dose is ongoing: it stays until the alarm is stopped or the dose is taken.
func Dose(r schedule.DoseRecord) notifier.Notification {
	return notifier.Notification{
		ID:       r.ID + OffsetDose,
		Title:    fmt.Sprintf("Time to take %s!", r.Name),
		Body:     "Please take your medication now",
		Priority: notifier.PriorityHigh,
	}
}

func FollowUp(r schedule.DoseRecord) notifier.Notification {
	return notifier.Notification{
		ID:          r.ID + OffsetFollowUp,
		Title:       "Reminder: " + r.Name,
		Body:        fmt.Sprintf("You haven't taken %s yet. Please take it now.", r.Name),
		Priority:    notifier.PriorityHigh,
		Dismissible: true,
	}
}

// Taken renders the confirmation; early when the dose was not yet due.
func Taken(r schedule.DoseRecord, wasActive bool) notifier.Notification {
	if !wasActive {
		return notifier.Notification{
			ID:          r.ID + OffsetEarly,
			Title:       r.Name + " Taken Early",
			Body:        "Dose taken early. Timer has been reset.",
			Priority:    notifier.PriorityDefault,
			Dismissible: true,
		}
	}
	return notifier.Notification{
		ID:          r.ID + OffsetTaken,
		Title:       r.Name + " Taken!",
		Body:        "Great! Your next dose is scheduled.",
		Priority:    notifier.PriorityDefault,
		Dismissible: true,
	}
}

// Render maps an engine event to its notification.
func Render(ev engine.Event) (notifier.Notification, bool) {
	switch ev.Kind {
	case engine.ReminderDue:
		return Reminder(ev.Record), true
	case engine.DoseDue:
		return Dose(ev.Record), true
	case engine.FollowUpDue:
		return FollowUp(ev.Record), true
	}
	return notifier.Notification{}, false
}
