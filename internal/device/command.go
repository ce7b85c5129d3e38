package device

import (
	"encoding/json"

	"dosebox/internal/schedule"
)

type CommandKind string

const (
	CmdStartTracking CommandKind = "start_tracking"
	CmdPeriod        CommandKind = "period"
	CmdReset         CommandKind = "reset"
	CmdAlarmOn       CommandKind = "alarm_on"
	CmdAlarmOff      CommandKind = "alarm_off"
)

func (k CommandKind) Valid() bool {
	switch k {
	case CmdStartTracking, CmdPeriod, CmdReset, CmdAlarmOn, CmdAlarmOff:
		return true
	}
	return false
}

// Command is the envelope published on the command topic. Part is 1-based.
// Period is only set for CmdPeriod.
type Command struct {
	Command CommandKind `json:"command"`
	Part    int         `json:"part"`
	Pin     int         `json:"pin"`
	Period  *int        `json:"period,omitempty"`
}

func NewCommand(kind CommandKind, rec schedule.DoseRecord) Command {
	c := Command{Command: kind, Part: rec.PartNumber, Pin: rec.DevicePin}
	if kind == CmdPeriod {
		p := rec.PeriodSeconds
		c.Period = &p
	}
	return c
}

func (c Command) Marshal() ([]byte, error) { return json.Marshal(c) }

// Confirmation is the inbound "medication taken" message.
type Confirmation struct {
	Part *int `json:"part"`
}

// DecodeConfirmation parses a confirmation payload and returns its 1-based part.
func DecodeConfirmation(payload []byte) (int, error) {
	var c Confirmation
	if err := json.Unmarshal(payload, &c); err != nil {
		return 0, &DecodeError{Payload: string(payload), Err: err}
	}
	if c.Part == nil {
		return 0, &DecodeError{Payload: string(payload), Err: errMissingPart}
	}
	return *c.Part, nil
}
