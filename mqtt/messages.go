package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/controller"
)

type SensorMessage struct {
	Temperature       *float64          `json:"temperature"`
	Humidity          *float64          `json:"humidity"`
	SoilMoisture      *float64          `json:"soil_moisture"`
	Light             *float64          `json:"light_level"`
	WaterLevel        *float64          `json:"water_level"`
	Timestamp         string            `json:"timestamp"`
	DailyHighTemp     *float64          `json:"daily_high_temp"`
	DailyLowTemp      *float64          `json:"daily_low_temp"`
	DailyHighHumidity *float64          `json:"daily_high_humidity"`
	DailyLowHumidity  *float64          `json:"daily_low_humidity"`
	Faults            map[string]string `json:"faults,omitempty"`
	Error             string            `json:"error,omitempty"`
}

func NewSensorMessage(r controller.CycleReport) SensorMessage {
	s := r.Snapshot
	return SensorMessage{
		Temperature:       s.Temperature,
		Humidity:          s.Humidity,
		SoilMoisture:      s.SoilMoisture,
		Light:             s.Light,
		WaterLevel:        s.WaterLevel,
		Timestamp:         s.Time.Format(time.RFC3339),
		DailyHighTemp:     r.Extremes.HighTemp,
		DailyLowTemp:      r.Extremes.LowTemp,
		DailyHighHumidity: r.Extremes.HighHumidity,
		DailyLowHumidity:  r.Extremes.LowHumidity,
		Faults:            r.Faults,
		Error:             r.Err,
	}
}

// WaterCommand is {"position": N} or {"all": true}.
type WaterCommand struct {
	Position int
	All      bool
}

var ErrBadCommand = errors.New("mqtt: water command needs a position or all")

func ParseWaterCommand(payload []byte) (WaterCommand, error) {
	var raw struct {
		Position *int `json:"position"`
		All      bool `json:"all"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return WaterCommand{}, fmt.Errorf("decode water command: %w", err)
	}
	if raw.All {
		return WaterCommand{All: true}, nil
	}
	if raw.Position == nil {
		return WaterCommand{}, ErrBadCommand
	}
	if p := *raw.Position; p < 0 || p > care.MaxPosition {
		return WaterCommand{}, fmt.Errorf("%w: position %d out of range", ErrBadCommand, p)
	}
	return WaterCommand{Position: *raw.Position}, nil
}
