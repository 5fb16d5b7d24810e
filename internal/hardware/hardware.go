// Package hardware reads the planter sensors and drives its pumps, either on
// a Raspberry Pi through gobot or against a simulator.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"time"

	"greenpot/planter/internal/care"
)

var (
	// ErrTransient is a read that failed but may succeed on the next cycle.
	ErrTransient = errors.New("hardware: transient read failure")
	// ErrAbsent is a sensor or actuator that is not fitted.
	ErrAbsent = errors.New("hardware: device absent")
	// ErrOutOfRange is a value outside what the sensor can physically report.
	ErrOutOfRange = errors.New("hardware: value out of physical range")
	ErrInvalidPump = errors.New("hardware: pump must be 1 or 2")
)

// WaterLevel is the fault key for the tank float switches.
const WaterLevel = "water_level"

const pumpSettle = 100 * time.Millisecond

// Reading is a snapshot plus the reason each missing value is missing.
type Reading struct {
	Snapshot care.Snapshot
	Faults   map[string]error
}

func (r *Reading) fault(name string, err error) {
	if r.Faults == nil {
		r.Faults = make(map[string]error)
	}
	r.Faults[name] = err
}

// Sensors produces a reading on every call. Individual sensor failures are
// recorded in Faults, never returned as an error.
type Sensors interface {
	ReadAll(ctx context.Context) Reading
}

// Pump runs one of the two pumps for d. The call blocks for the whole run.
type Pump interface {
	RunPump(pump int, d time.Duration, amountML float64) error
}

// Board is the full device surface the controller drives.
type Board interface {
	Sensors
	Pump
	SetStatus(ok bool) error
	Close() error
}

var physical = map[care.Quantity]care.Bounds{
	care.Temperature:  {Min: -40, Max: 85},
	care.Humidity:     {Min: 0, Max: 100},
	care.SoilMoisture: {Min: 0, Max: 100},
	care.Light:        {Min: 0, Max: 100000},
}

// CheckRange rejects values the sensor for q cannot produce.
func CheckRange(q care.Quantity, v float64) error {
	b, ok := physical[q]
	if !ok || b.Contains(v) {
		return nil
	}
	return fmt.Errorf("%w: %s %.2f not in [%g, %g]", ErrOutOfRange, q, v, b.Min, b.Max)
}

// TankLevel maps the three float switches to a fill percentage.
func TankLevel(top, middle, bottom bool) float64 {
	switch {
	case top:
		return 100
	case middle:
		return 66.7
	case bottom:
		return 33.3
	}
	return 0
}

// SoilPercent converts a capacitive probe voltage to moisture percent using
// the dry and wet calibration voltages.
func SoilPercent(volts, dry, wet float64) float64 {
	if dry == wet {
		return 0
	}
	pct := (dry - volts) / (dry - wet) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func validPump(pump int) error {
	if pump != 1 && pump != 2 {
		return fmt.Errorf("%w: got %d", ErrInvalidPump, pump)
	}
	return nil
}

// retry calls fn up to attempts times, waiting interval between attempts.
func retry(ctx context.Context, attempts int, interval time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}
