package care

import (
	"errors"
	"time"
)

// DefaultFlowRate is the pump flow in millilitres per second.
const DefaultFlowRate = 100.0

const day = 24 * time.Hour

var ErrInvalidFlowRate = errors.New("care: flow rate must be positive")

// DaysSince returns the number of whole 24h periods between last and now.
// A last time after now counts as zero.
func DaysSince(last, now time.Time) int {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return int(d / day)
}

// NeedsWatering reports whether the plant is due. A plant that was never
// watered is always due; otherwise whole elapsed days must reach the
// configured frequency.
func NeedsWatering(p Profile, now time.Time) bool {
	if p.LastWatered == nil {
		return true
	}
	return DaysSince(*p.LastWatered, now) >= p.FrequencyDays
}

// NextWatering returns when the plant becomes due, or the zero time if it
// has never been watered.
func NextWatering(p Profile) time.Time {
	if p.LastWatered == nil {
		return time.Time{}
	}
	return p.LastWatered.Add(time.Duration(p.FrequencyDays) * day)
}

// PumpIndex alternates between the two pumps by position parity.
func PumpIndex(position int) int {
	return position%2 + 1
}

// PumpDuration converts an amount in ml to a pump run time.
func PumpDuration(amountML, flowRate float64) (time.Duration, error) {
	if flowRate <= 0 {
		return 0, ErrInvalidFlowRate
	}
	if amountML <= 0 {
		return 0, ErrInvalidAmount
	}
	return time.Duration(amountML / flowRate * float64(time.Second)), nil
}
