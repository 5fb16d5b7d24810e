package care

import (
	"fmt"
	"time"
)

// Result is the verdict for one quantity of one profile.
type Result struct {
	Quantity Quantity `json:"quantity"`
	Valid    bool     `json:"valid"`
	Message  string   `json:"message"`
	Action   Action   `json:"action"`
	// Unknown is set when the snapshot had no reading for the quantity.
	Unknown bool `json:"unknown,omitempty"`
}

type rule struct {
	low, high       string
	unit            string
	lowAct, highAct Action
}

var rules = map[Quantity]rule{
	SoilMoisture: {"Soil too dry", "Soil too wet", "%", ActionWater, ActionDrain},
	Temperature:  {"Temperature too low", "Temperature too high", "°C", ActionHeat, ActionCool},
	Humidity:     {"Humidity too low", "Humidity too high", "%", ActionHumidify, ActionDehumidify},
	Light:        {"Light too low", "Light too high", " lux", ActionIncreaseLight, ActionDecreaseLight},
}

// Evaluate compares the snapshot reading for q against the profile bounds.
// A missing reading is not flagged: the result is valid with no action, and
// Unknown is set so callers can surface the gap.
func Evaluate(p Profile, s Snapshot, q Quantity) Result {
	r, ok := rules[q]
	if !ok {
		return Result{Quantity: q, Valid: true, Action: ActionNone, Message: "unknown quantity", Unknown: true}
	}
	v, ok := s.Reading(q)
	if !ok {
		return Result{Quantity: q, Valid: true, Action: ActionNone, Message: "no reading", Unknown: true}
	}
	b, _ := p.BoundsFor(q)
	switch {
	case v < b.Min:
		return Result{
			Quantity: q,
			Action:   r.lowAct,
			Message:  fmt.Sprintf("%s (%.1f%s < %.1f%s)", r.low, v, r.unit, b.Min, r.unit),
		}
	case v > b.Max:
		return Result{
			Quantity: q,
			Action:   r.highAct,
			Message:  fmt.Sprintf("%s (%.1f%s > %.1f%s)", r.high, v, r.unit, b.Max, r.unit),
		}
	}
	return Result{Quantity: q, Valid: true, Action: ActionNone, Message: "OK"}
}

// Assessment is the aggregate verdict for a profile on one snapshot.
type Assessment struct {
	Position int      `json:"position"`
	Name     string   `json:"name"`
	Results  []Result `json:"results"`
	// Due reports NeedsWatering at assessment time.
	Due bool `json:"needs_water"`
	// SoilDry reports the soil reading is below the profile minimum.
	SoilDry bool       `json:"soil_dry"`
	Unknown []Quantity `json:"unknown,omitempty"`
}

// Valid reports whether every known quantity is inside its bounds.
func (a Assessment) Valid() bool {
	for _, r := range a.Results {
		if !r.Valid {
			return false
		}
	}
	return true
}

// Result returns the verdict for q.
func (a Assessment) Result(q Quantity) (Result, bool) {
	for _, r := range a.Results {
		if r.Quantity == q {
			return r, true
		}
	}
	return Result{}, false
}

// Assess evaluates every quantity and the watering schedule.
func Assess(p Profile, s Snapshot, now time.Time) Assessment {
	a := Assessment{
		Position: p.Position,
		Name:     p.Name,
		Results:  make([]Result, 0, len(Quantities)),
		Due:      NeedsWatering(p, now),
	}
	for _, q := range Quantities {
		r := Evaluate(p, s, q)
		if r.Unknown {
			a.Unknown = append(a.Unknown, q)
		}
		if q == SoilMoisture && r.Action == ActionWater {
			a.SoilDry = true
		}
		a.Results = append(a.Results, r)
	}
	return a
}
