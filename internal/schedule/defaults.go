package schedule

import "fmt"

const (
	DefaultCount         = 4
	DefaultPeriodSeconds = 3600
	DefaultAmount        = 10
	DefaultThreshold     = 2
)

var (
	DefaultPins   = []int{19, 21, 22, 23}
	defaultSounds = []string{"alarm_one", "alarm_two", "alarm_three", "alarm_four"}
	defaultColors = []string{"#90CAF9", "#F48FB1", "#A5D6A7", "#FFF59D"}
)

// Layout describes the physical compartments.
type Layout struct {
	Count int
	Pins  []int
}

// DefaultLayout is the four-compartment dispenser.
func DefaultLayout() Layout {
	return Layout{Count: DefaultCount, Pins: append([]int(nil), DefaultPins...)}
}

// Defaults synthesizes the initial record set. An invalid layout is a
// programming error (config validation rejects it first) and panics.
func Defaults(l Layout) []DoseRecord {
	if l.Count <= 0 {
		panic(fmt.Sprintf("schedule: invalid compartment count %d", l.Count))
	}
	if len(l.Pins) < l.Count {
		panic(fmt.Sprintf("schedule: %d pins for %d compartments", len(l.Pins), l.Count))
	}
	out := make([]DoseRecord, l.Count)
	for i := range out {
		out[i] = defaultRecord(i, l.Pins[i])
	}
	return out
}

func defaultRecord(i, pin int) DoseRecord {
	return DoseRecord{
		ID:              i,
		Name:            fmt.Sprintf("Pill %d", i+1),
		DevicePin:       pin,
		PartNumber:      i + 1,
		PeriodSeconds:   DefaultPeriodSeconds,
		Amount:          DefaultAmount,
		WeightThreshold: DefaultThreshold,
		AlarmSound:      defaultSounds[i%len(defaultSounds)],
		ColorTag:        defaultColors[i%len(defaultColors)],
	}
}
