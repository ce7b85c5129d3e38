package schedule

import (
	"errors"
	"fmt"
)

var ErrUnknownIndex = errors.New("schedule: unknown compartment index")

// PersistenceError reports a failed read or write of the record set.
type PersistenceError struct {
	Op  string // "load" or "save"
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("schedule: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
