package models

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"greenpot/planter/internal/care"
)

type ReadingModelInterface interface {
	Insert(s care.Snapshot) error
	Latest() (care.Snapshot, error)
	History(limit int) ([]care.Snapshot, error)
	Chart(maxPoints int) ([]care.Snapshot, error)
	Prune(before time.Time) (int64, error)
}

type ReadingModel struct {
	DB *sql.DB
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func fromNull(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func scanReading(row scanner) (care.Snapshot, error) {
	var (
		s                           care.Snapshot
		temp, hum, soil, light, lvl sql.NullFloat64
	)
	if err := row.Scan(&temp, &hum, &soil, &light, &lvl, &s.Time); err != nil {
		return care.Snapshot{}, err
	}
	s.Temperature = fromNull(temp)
	s.Humidity = fromNull(hum)
	s.SoilMoisture = fromNull(soil)
	s.Light = fromNull(light)
	s.WaterLevel = fromNull(lvl)
	return s, nil
}

// Insert stores a snapshot. Missing readings are stored as NULL.
func (m *ReadingModel) Insert(s care.Snapshot) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	_, err := m.DB.Exec(`INSERT INTO readings (temperature, humidity, soil_moisture, light, water_level, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		nullFloat(s.Temperature), nullFloat(s.Humidity), nullFloat(s.SoilMoisture),
		nullFloat(s.Light), nullFloat(s.WaterLevel), s.Time.UTC())
	return err
}

const readingColumns = `temperature, humidity, soil_moisture, light, water_level, timestamp`

func (m *ReadingModel) Latest() (care.Snapshot, error) {
	row := m.DB.QueryRow(`SELECT ` + readingColumns + ` FROM readings ORDER BY id DESC LIMIT 1`)
	s, err := scanReading(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return care.Snapshot{}, ErrNoRecord
		}
		return care.Snapshot{}, err
	}
	return s, nil
}

// History returns up to limit snapshots, newest first.
func (m *ReadingModel) History(limit int) ([]care.Snapshot, error) {
	rows, err := m.DB.Query(`SELECT `+readingColumns+` FROM readings ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows, 1)
}

// Chart returns the whole history oldest first, thinned to at most
// maxPoints rows by keeping every nth row.
func (m *ReadingModel) Chart(maxPoints int) ([]care.Snapshot, error) {
	var total int
	if err := m.DB.QueryRow(`SELECT COUNT(*) FROM readings`).Scan(&total); err != nil {
		return nil, err
	}

	step := 1
	if maxPoints > 0 && total > maxPoints {
		step = int(math.Ceil(float64(total) / float64(maxPoints)))
	}

	rows, err := m.DB.Query(`SELECT ` + readingColumns + ` FROM readings ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReadings(rows, step)
}

func collectReadings(rows *sql.Rows, step int) ([]care.Snapshot, error) {
	var out []care.Snapshot
	count := 0
	for rows.Next() {
		s, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		if count%step == 0 {
			out = append(out, s)
		}
		count++
	}
	return out, rows.Err()
}

// Prune deletes readings taken before the cutoff.
func (m *ReadingModel) Prune(before time.Time) (int64, error) {
	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := m.DB.Exec(`DELETE FROM readings WHERE timestamp < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
