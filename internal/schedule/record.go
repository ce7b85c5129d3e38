package schedule

import "time"

// DoseRecord is the dosing state of one compartment.
type DoseRecord struct {
	ID               int    `json:"id"`
	Name             string `json:"name"`
	DevicePin        int    `json:"device_pin"`
	PartNumber       int    `json:"part_number"`
	PeriodSeconds    int    `json:"period_seconds"`
	LastActivationMs *int64 `json:"last_activation_ms,omitempty"`
	// LastConfirmedMs is when the device last confirmed a dose. A cycle
	// started by a confirmation has LastConfirmedMs == LastActivationMs.
	LastConfirmedMs *int64 `json:"last_confirmed_ms,omitempty"`
	IsTracking       bool   `json:"is_tracking"`
	IsActive         bool   `json:"is_active"`
	ReminderSent     bool   `json:"reminder_sent"`
	DoseSent         bool   `json:"dose_sent"`
	FollowUpSent     bool   `json:"follow_up_sent"`
	Amount           int    `json:"amount"`
	WeightThreshold  int    `json:"weight_threshold_grams"`
	AlarmSound       string `json:"alarm_sound"`
	ColorTag         string `json:"color_tag"`
}

// Period returns the dosing period as a duration.
func (r DoseRecord) Period() time.Duration {
	return time.Duration(r.PeriodSeconds) * time.Second
}

// NextDue reports last activation + period. ok is false when not tracking.
func (r DoseRecord) NextDue() (due time.Time, ok bool) {
	if !r.IsTracking || r.LastActivationMs == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*r.LastActivationMs + int64(r.PeriodSeconds)*1000), true
}

// LastActivation returns the last activation time, if any.
func (r DoseRecord) LastActivation() (time.Time, bool) {
	if r.LastActivationMs == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*r.LastActivationMs), true
}

// StartedByConfirmation reports whether the current cycle began with a device
// confirmation and has not been restarted by the operator since.
func (r DoseRecord) StartedByConfirmation() bool {
	return r.LastConfirmedMs != nil && r.LastActivationMs != nil && *r.LastConfirmedMs == *r.LastActivationMs
}

// AnySent reports whether any one-shot flag of the current cycle is set.
func (r DoseRecord) AnySent() bool {
	return r.ReminderSent || r.DoseSent || r.FollowUpSent
}

func (r *DoseRecord) resetFlags() {
	r.ReminderSent = false
	r.DoseSent = false
	r.FollowUpSent = false
}

func (r *DoseRecord) activate(now time.Time) {
	ms := now.UnixMilli()
	r.LastActivationMs = &ms
}

// StartTracking begins a new cycle at now.
func (r *DoseRecord) StartTracking(now time.Time) {
	r.IsTracking = true
	r.IsActive = false
	r.activate(now)
	r.resetFlags()
}

// StopTracking clears the cycle entirely.
func (r *DoseRecord) StopTracking() {
	r.IsTracking = false
	r.IsActive = false
	r.LastActivationMs = nil
	r.resetFlags()
}

// SetPeriod changes the period and restarts the cycle when tracking.
func (r *DoseRecord) SetPeriod(seconds int, now time.Time) {
	r.PeriodSeconds = seconds
	r.IsActive = false
	if r.IsTracking {
		r.activate(now)
	} else {
		r.LastActivationMs = nil
	}
	r.resetFlags()
}

// ConfirmTaken closes the current cycle and starts the next one at now.
// It returns whether the dose was due (active) when confirmed.
func (r *DoseRecord) ConfirmTaken(now time.Time) (wasActive bool) {
	wasActive = r.IsActive
	r.IsActive = false
	r.activate(now)
	ms := *r.LastActivationMs
	r.LastConfirmedMs = &ms
	r.resetFlags()
	return wasActive
}

// Patch holds the display-only fields an operator may edit.
// Nil fields are left unchanged.
type Patch struct {
	Name            *string
	Amount          *int
	WeightThreshold *int
	ColorTag        *string
}

// Apply reports whether anything changed.
func (p Patch) Apply(r *DoseRecord) bool {
	changed := false
	if p.Name != nil && *p.Name != r.Name {
		r.Name, changed = *p.Name, true
	}
	if p.Amount != nil && *p.Amount != r.Amount {
		r.Amount, changed = *p.Amount, true
	}
	if p.WeightThreshold != nil && *p.WeightThreshold != r.WeightThreshold {
		r.WeightThreshold, changed = *p.WeightThreshold, true
	}
	if p.ColorTag != nil && *p.ColorTag != r.ColorTag {
		r.ColorTag, changed = *p.ColorTag, true
	}
	return changed
}

// Clone returns a deep copy of recs.
func Clone(recs []DoseRecord) []DoseRecord {
	out := make([]DoseRecord, len(recs))
	copy(out, recs)
	for i := range out {
		if out[i].LastActivationMs != nil {
			v := *out[i].LastActivationMs
			out[i].LastActivationMs = &v
		}
		if out[i].LastConfirmedMs != nil {
			v := *out[i].LastConfirmedMs
			out[i].LastConfirmedMs = &v
		}
	}
	return out
}
