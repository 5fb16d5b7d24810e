// Package care decides whether a potted plant is inside its care bounds and
// whether it is due for water.
package care

import (
	"errors"
	"fmt"
	"time"
)

// Quantity is one of the measured environmental quantities.
type Quantity string

const (
	SoilMoisture Quantity = "soil_moisture"
	Temperature  Quantity = "temperature"
	Humidity     Quantity = "humidity"
	Light        Quantity = "light"
)

// Quantities lists every quantity in evaluation order.
var Quantities = []Quantity{SoilMoisture, Temperature, Humidity, Light}

// Action is the corrective actuator category implied by an out-of-bounds reading.
type Action string

const (
	ActionNone          Action = "none"
	ActionWater         Action = "water"
	ActionDrain         Action = "drain"
	ActionHeat          Action = "heat"
	ActionCool          Action = "cool"
	ActionHumidify      Action = "humidify"
	ActionDehumidify    Action = "dehumidify"
	ActionIncreaseLight Action = "increase_light"
	ActionDecreaseLight Action = "decrease_light"
)

var ErrInvalidBounds = errors.New("care: min is greater than max")

// Bounds is an inclusive [Min, Max] range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

func (b Bounds) Validate() error {
	if b.Min > b.Max {
		return fmt.Errorf("%w (%g > %g)", ErrInvalidBounds, b.Min, b.Max)
	}
	return nil
}

func (b Bounds) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Profile is the per-plant care configuration plus its watering state.
type Profile struct {
	Name          string     `json:"name"`
	Species       string     `json:"species"`
	Position      int        `json:"position"`
	SoilMoisture  Bounds     `json:"soil_moisture"`
	Temperature   Bounds     `json:"temperature"`
	Humidity      Bounds     `json:"humidity"`
	Light         Bounds     `json:"light"`
	WaterAmountML float64    `json:"water_amount_ml"`
	FrequencyDays int        `json:"watering_frequency_days"`
	LastWatered   *time.Time `json:"last_watered,omitempty"`
	LastChecked   *time.Time `json:"last_checked,omitempty"`
	Status        Status     `json:"status"`
}

// BoundsFor returns the configured bounds for q.
func (p Profile) BoundsFor(q Quantity) (Bounds, bool) {
	switch q {
	case SoilMoisture:
		return p.SoilMoisture, true
	case Temperature:
		return p.Temperature, true
	case Humidity:
		return p.Humidity, true
	case Light:
		return p.Light, true
	}
	return Bounds{}, false
}

// MaxPosition is the highest planter slot.
const MaxPosition = 99

var (
	ErrInvalidAmount    = errors.New("care: watering amount must be positive")
	ErrInvalidFrequency = errors.New("care: watering frequency must be positive")
	ErrInvalidPosition  = fmt.Errorf("care: position must be between 0 and %d", MaxPosition)
)

// Validate checks the invariants every stored profile must hold.
func (p Profile) Validate() error {
	for _, q := range Quantities {
		b, _ := p.BoundsFor(q)
		if err := b.Validate(); err != nil {
			return fmt.Errorf("%s: %w", q, err)
		}
	}
	if p.WaterAmountML <= 0 {
		return ErrInvalidAmount
	}
	if p.FrequencyDays <= 0 {
		return ErrInvalidFrequency
	}
	if p.Position < 0 || p.Position > MaxPosition {
		return ErrInvalidPosition
	}
	if p.Status != "" {
		if _, err := ParseStatus(string(p.Status)); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot is one timestamped set of sensor readings. A nil field means the
// sensor produced no value on this cycle.
type Snapshot struct {
	Time         time.Time `json:"timestamp"`
	SoilMoisture *float64  `json:"soil_moisture"`
	Temperature  *float64  `json:"temperature"`
	Humidity     *float64  `json:"humidity"`
	Light        *float64  `json:"light_level"`
	WaterLevel   *float64  `json:"water_level"`
}

// Reading returns the value recorded for q, if any.
func (s Snapshot) Reading(q Quantity) (float64, bool) {
	var v *float64
	switch q {
	case SoilMoisture:
		v = s.SoilMoisture
	case Temperature:
		v = s.Temperature
	case Humidity:
		v = s.Humidity
	case Light:
		v = s.Light
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Set records v for q.
func (s *Snapshot) Set(q Quantity, v float64) {
	switch q {
	case SoilMoisture:
		s.SoilMoisture = &v
	case Temperature:
		s.Temperature = &v
	case Humidity:
		s.Humidity = &v
	case Light:
		s.Light = &v
	}
}

// Float returns a pointer to v, handy for building snapshots.
func Float(v float64) *float64 { return &v }
