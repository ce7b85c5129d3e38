package device

import (
	"errors"
	"fmt"
)

var (
	errMissingPart = errors.New("missing part")

	ErrUnknownCommand = errors.New("device: unknown command kind")
	ErrUnknownID      = errors.New("device: no compartment with that id")
)

// DecodeError reports an inbound payload that could not be understood.
type DecodeError struct {
	Payload string
	Err     error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("device: decode %q: %v", truncate(e.Payload, 64), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError reports a failed publish or subscribe.
type TransportError struct {
	Op    string
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("device: %s %s: %v", e.Op, e.Topic, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
