package models

import (
	"database/sql"
	"time"
)

// PumpDayWindow is how many daily pump totals are kept.
const PumpDayWindow = 35

// PumpDay is the total run time of each pump on one UTC day.
type PumpDay struct {
	Date      string  `json:"date"`
	Pump1     float64 `json:"pump1_seconds"`
	Pump2     float64 `json:"pump2_seconds"`
	Waterings int     `json:"waterings"`
}

type PumpTimeModelInterface interface {
	Record(day PumpDay) error
	Recent(limit int) ([]PumpDay, error)
}

type PumpTimeModel struct {
	DB *sql.DB
}

// Record saves the totals for day and drops the oldest rows beyond the
// rolling window.
func (m *PumpTimeModel) Record(day PumpDay) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	tx, err := m.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`INSERT OR REPLACE INTO pump_daily_times (date, pump1_seconds, pump2_seconds, waterings)
		VALUES (?, ?, ?, ?)`, day.Date, day.Pump1, day.Pump2, day.Waterings)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`DELETE FROM pump_daily_times WHERE id NOT IN (
		SELECT id FROM pump_daily_times ORDER BY date DESC LIMIT ?)`, PumpDayWindow)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Recent returns up to limit days, newest first.
func (m *PumpTimeModel) Recent(limit int) ([]PumpDay, error) {
	rows, err := m.DB.Query(`SELECT date, pump1_seconds, pump2_seconds, waterings
		FROM pump_daily_times ORDER BY date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []PumpDay
	for rows.Next() {
		var d PumpDay
		if err := rows.Scan(&d.Date, &d.Pump1, &d.Pump2, &d.Waterings); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

// DayKey formats t as the UTC date used for PumpDay.Date.
func DayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
