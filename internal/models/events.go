package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// WateringEvent records one pump activation for a plant, successful or not.
type WateringEvent struct {
	ID       string        `json:"id"`
	Position int           `json:"position"`
	Plant    string        `json:"plant"`
	Pump     int           `json:"pump"`
	AmountML float64       `json:"water_amount"`
	Duration time.Duration `json:"duration_ns"`
	Success  bool          `json:"success"`
	Source   string        `json:"source"`
	Error    string        `json:"error,omitempty"`
	Time     time.Time     `json:"timestamp"`
}

type WateringModelInterface interface {
	Insert(e WateringEvent) (WateringEvent, error)
	Recent(limit int) ([]WateringEvent, error)
	ForPosition(position, limit int) ([]WateringEvent, error)
}

type WateringModel struct {
	DB *sql.DB
}

// Insert stores e, assigning an ID and timestamp when missing.
func (m *WateringModel) Insert(e WateringEvent) (WateringEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	_, err := m.DB.Exec(`INSERT INTO watering_events (id, position, plant, pump, amount, duration_ms, success, source, error, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Position, e.Plant, e.Pump, e.AmountML, e.Duration.Milliseconds(), e.Success, e.Source, e.Error, e.Time.UTC())
	if err != nil {
		return WateringEvent{}, err
	}
	return e, nil
}

func (m *WateringModel) Recent(limit int) ([]WateringEvent, error) {
	return m.query(`SELECT id, position, plant, pump, amount, duration_ms, success, source, error, timestamp
		FROM watering_events ORDER BY timestamp DESC LIMIT ?`, limit)
}

func (m *WateringModel) ForPosition(position, limit int) ([]WateringEvent, error) {
	return m.query(`SELECT id, position, plant, pump, amount, duration_ms, success, source, error, timestamp
		FROM watering_events WHERE position = ? ORDER BY timestamp DESC LIMIT ?`, position, limit)
}

func (m *WateringModel) query(stmt string, args ...any) ([]WateringEvent, error) {
	rows, err := m.DB.Query(stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []WateringEvent
	for rows.Next() {
		var (
			e  WateringEvent
			ms int64
		)
		if err := rows.Scan(&e.ID, &e.Position, &e.Plant, &e.Pump, &e.AmountML, &ms, &e.Success, &e.Source, &e.Error, &e.Time); err != nil {
			return nil, err
		}
		e.Duration = time.Duration(ms) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}
