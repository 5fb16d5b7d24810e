package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"greenpot/planter/internal/care"
)

// PlantModelInterface is the profile store the controller and handlers use.
type PlantModelInterface interface {
	Insert(p care.Profile) (care.Profile, error)
	Get(position int) (care.Profile, error)
	ListActive() ([]care.Profile, error)
	Due(now time.Time) ([]care.Profile, error)
	UpdateWatered(position int, t time.Time) error
	UpdateStatus(position int, status care.Status, t time.Time) error
	Remove(position int) error
	Export() ([]byte, error)
	Import(data []byte) (int, error)
}

type PlantModel struct {
	DB *sql.DB
}

const plantColumns = `name, species, position, soil_moisture_min, soil_moisture_max, temperature_min, temperature_max,
	humidity_min, humidity_max, light_min, light_max, water_amount, watering_frequency, last_watered, last_checked, status`

func scanPlant(row scanner) (care.Profile, error) {
	var (
		p       care.Profile
		watered sql.NullTime
		checked sql.NullTime
		status  string
	)
	err := row.Scan(&p.Name, &p.Species, &p.Position, &p.SoilMoisture.Min, &p.SoilMoisture.Max,
		&p.Temperature.Min, &p.Temperature.Max, &p.Humidity.Min, &p.Humidity.Max,
		&p.Light.Min, &p.Light.Max, &p.WaterAmountML, &p.FrequencyDays, &watered, &checked, &status)
	if err != nil {
		return care.Profile{}, err
	}
	if watered.Valid {
		t := watered.Time
		p.LastWatered = &t
	}
	if checked.Valid {
		t := checked.Time
		p.LastChecked = &t
	}
	if p.Status, err = care.ParseStatus(status); err != nil {
		return care.Profile{}, err
	}
	return p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Insert stores a new profile at p.Position.
func (m *PlantModel) Insert(p care.Profile) (care.Profile, error) {
	if err := p.Validate(); err != nil {
		return care.Profile{}, err
	}
	if p.Status == "" {
		p.Status = care.StatusActive
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := m.insert(m.DB, p); err != nil {
		return care.Profile{}, err
	}
	return p, nil
}

func (m *PlantModel) insert(db execer, p care.Profile) error {
	stmt := `INSERT INTO plants (` + plantColumns + `, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.Exec(stmt, p.Name, p.Species, p.Position, p.SoilMoisture.Min, p.SoilMoisture.Max,
		p.Temperature.Min, p.Temperature.Max, p.Humidity.Min, p.Humidity.Max, p.Light.Min, p.Light.Max,
		p.WaterAmountML, p.FrequencyDays, nullTime(p.LastWatered), nullTime(p.LastChecked), string(p.Status),
		time.Now().UTC())
	switch {
	case err == nil:
		return nil
	case uniqueViolation(err, "plants.position"):
		return ErrDuplicatePosition
	case uniqueViolation(err, "plants.name"):
		return ErrDuplicateName
	}
	return err
}

func (m *PlantModel) Get(position int) (care.Profile, error) {
	row := m.DB.QueryRow(`SELECT `+plantColumns+` FROM plants WHERE position = ?`, position)
	p, err := scanPlant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return care.Profile{}, ErrNoRecord
		}
		return care.Profile{}, err
	}
	return p, nil
}

// ListActive returns every installed profile ordered by position.
func (m *PlantModel) ListActive() ([]care.Profile, error) {
	rows, err := m.DB.Query(`SELECT ` + plantColumns + ` FROM plants ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plants []care.Profile
	for rows.Next() {
		p, err := scanPlant(rows)
		if err != nil {
			return nil, err
		}
		plants = append(plants, p)
	}
	return plants, rows.Err()
}

// Due returns the profiles that need water at now.
func (m *PlantModel) Due(now time.Time) ([]care.Profile, error) {
	plants, err := m.ListActive()
	if err != nil {
		return nil, err
	}
	var due []care.Profile
	for _, p := range plants {
		if care.NeedsWatering(p, now) {
			due = append(due, p)
		}
	}
	return due, nil
}

// UpdateWatered records a successful watering and returns the plant to active.
func (m *PlantModel) UpdateWatered(position int, t time.Time) error {
	return m.update(`UPDATE plants SET last_watered = ?, status = ? WHERE position = ?`,
		t.UTC(), string(care.StatusActive), position)
}

// UpdateStatus sets the status and stamps last_checked.
func (m *PlantModel) UpdateStatus(position int, status care.Status, t time.Time) error {
	return m.update(`UPDATE plants SET status = ?, last_checked = ? WHERE position = ?`,
		string(status), t.UTC(), position)
}

func (m *PlantModel) Remove(position int) error {
	return m.update(`DELETE FROM plants WHERE position = ?`, position)
}

func (m *PlantModel) update(stmt string, args ...any) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := m.DB.Exec(stmt, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNoRecord
	}
	return nil
}

// plantConfig is the export format for the installed plants.
type plantConfig struct {
	Exported time.Time      `json:"exported"`
	Plants   []care.Profile `json:"plants"`
}

func (m *PlantModel) Export() ([]byte, error) {
	plants, err := m.ListActive()
	if err != nil {
		return nil, err
	}
	if plants == nil {
		plants = []care.Profile{}
	}
	return json.MarshalIndent(plantConfig{Exported: time.Now().UTC(), Plants: plants}, "", "  ")
}

// Import replaces every installed plant with the ones in data.
func (m *PlantModel) Import(data []byte) (int, error) {
	var cfg plantConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return 0, fmt.Errorf("decode plant config: %w", err)
	}
	for _, p := range cfg.Plants {
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("plant at position %d: %w", p.Position, err)
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	tx, err := m.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM plants`); err != nil {
		return 0, err
	}
	for _, p := range cfg.Plants {
		if p.Status == "" {
			p.Status = care.StatusActive
		}
		if err := m.insert(tx, p); err != nil {
			return 0, fmt.Errorf("plant at position %d: %w", p.Position, err)
		}
	}
	return len(cfg.Plants), tx.Commit()
}
