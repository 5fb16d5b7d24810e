package care

import (
	"errors"
	"fmt"
)

// Status is the lifecycle state of a profile.
type Status string

const (
	StatusActive     Status = "active"
	StatusNeedsWater Status = "needs_water"
	StatusError      Status = "error"
)

var ErrUnknownStatus = errors.New("care: unknown status")

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusActive, StatusNeedsWater, StatusError:
		return st, nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownStatus, s)
}

// Event drives status transitions.
type Event int

const (
	EventDue Event = iota
	EventWatered
	EventFailure
	EventRecovered
)

func (e Event) String() string {
	switch e {
	case EventDue:
		return "due"
	case EventWatered:
		return "watered"
	case EventFailure:
		return "failure"
	case EventRecovered:
		return "recovered"
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Next returns the status after e. Events that do not apply leave the
// status unchanged.
func Next(s Status, e Event) Status {
	switch e {
	case EventFailure:
		return StatusError
	case EventDue:
		if s == StatusActive {
			return StatusNeedsWater
		}
	case EventWatered:
		return StatusActive
	case EventRecovered:
		if s == StatusError {
			return StatusActive
		}
	}
	return s
}
