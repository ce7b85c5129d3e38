package schedule

import (
	"testing"
	"time"
)

func TestCycleTransitions(t *testing.T) {
	t.Parallel()
	now := time.UnixMilli(1_700_000_000_000)

	tests := []struct {
		name       string
		apply      func(r *DoseRecord)
		tracking   bool
		hasLast    bool
		wantActive bool
	}{
		{"start", func(r *DoseRecord) { r.StartTracking(now) }, true, true, false},
		{"stop", func(r *DoseRecord) { r.StartTracking(now); r.StopTracking() }, false, false, false},
		{"period while tracking", func(r *DoseRecord) { r.StartTracking(now); r.IsActive = true; r.SetPeriod(60, now) }, true, true, false},
		{"period while idle", func(r *DoseRecord) { r.SetPeriod(60, now) }, false, false, false},
		{"confirm", func(r *DoseRecord) { r.StartTracking(now); r.IsActive = true; r.ConfirmTaken(now.Add(time.Hour)) }, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Defaults(DefaultLayout())[0]
			r.ReminderSent, r.DoseSent, r.FollowUpSent = true, true, true
			tt.apply(&r)
			if r.IsTracking != tt.tracking {
				t.Fatalf("tracking=%v want %v", r.IsTracking, tt.tracking)
			}
			if (r.LastActivationMs != nil) != tt.hasLast {
				t.Fatalf("last=%v want present=%v", r.LastActivationMs, tt.hasLast)
			}
			if r.IsActive != tt.wantActive {
				t.Fatalf("active=%v", r.IsActive)
			}
			if r.AnySent() {
				t.Fatalf("flags not reset: %+v", r)
			}
		})
	}
}

func TestConfirmTakenReportsActive(t *testing.T) {
	t.Parallel()
	r := Defaults(DefaultLayout())[0]
	r.StartTracking(time.Now())
	r.IsActive = true
	if !r.ConfirmTaken(time.Now()) {
		t.Fatal("expected wasActive")
	}
	if r.ConfirmTaken(time.Now()) {
		t.Fatal("second confirm should report inactive")
	}
}

func TestNextDue(t *testing.T) {
	t.Parallel()
	r := Defaults(DefaultLayout())[0]
	if _, ok := r.NextDue(); ok {
		t.Fatal("idle record has no due time")
	}
	start := time.UnixMilli(1_000)
	r.StartTracking(start)
	due, ok := r.NextDue()
	if !ok || !due.Equal(start.Add(time.Hour)) {
		t.Fatalf("due=%v ok=%v", due, ok)
	}
}

func TestPatchApply(t *testing.T) {
	t.Parallel()
	r := Defaults(DefaultLayout())[0]
	name := "Aspirin"
	if !(Patch{Name: &name}).Apply(&r) || r.Name != "Aspirin" {
		t.Fatalf("name not applied: %q", r.Name)
	}
	if (Patch{Name: &name}).Apply(&r) {
		t.Fatal("same value should report no change")
	}
	if (Patch{}).Apply(&r) {
		t.Fatal("empty patch changed record")
	}
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()
	recs := Defaults(DefaultLayout())
	recs[0].StartTracking(time.UnixMilli(5))
	recs[0].ConfirmTaken(time.UnixMilli(7))
	c := Clone(recs)
	*c[0].LastActivationMs = 99
	*c[0].LastConfirmedMs = 99
	if *recs[0].LastActivationMs != 7 || *recs[0].LastConfirmedMs != 7 {
		t.Fatal("clone shares a timestamp pointer")
	}
}

func TestStartedByConfirmation(t *testing.T) {
	t.Parallel()
	r := Defaults(DefaultLayout())[0]
	r.StartTracking(time.UnixMilli(1_000))
	if r.StartedByConfirmation() {
		t.Fatal("operator start is not a confirmation")
	}
	r.ConfirmTaken(time.UnixMilli(2_000))
	if !r.StartedByConfirmation() {
		t.Fatal("confirmation should start the cycle")
	}
	r.SetPeriod(60, time.UnixMilli(3_000))
	if r.StartedByConfirmation() {
		t.Fatal("period change restarts the cycle")
	}
	r.StopTracking()
	if r.StartedByConfirmation() {
		t.Fatal("idle record has no cycle")
	}
}
