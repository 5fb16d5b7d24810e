package models

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"greenpot/planter/internal/care"
)

// Species is a reference catalog entry that new plant profiles copy their
// care bounds from.
type Species struct {
	ID            int         `json:"id"`
	Name          string      `json:"name"`
	WaterAmountML float64     `json:"water_amount"`
	FrequencyDays int         `json:"watering_frequency"`
	Light         care.Bounds `json:"light"`
	SoilType      string      `json:"soil_type"`
	SoilMoisture  care.Bounds `json:"soil_moisture"`
	Humidity      care.Bounds `json:"humidity"`
	Temperature   care.Bounds `json:"temperature"`
	Created       time.Time   `json:"created"`
	Updated       time.Time   `json:"updated"`
}

// Profile builds a care profile for the species at position.
func (s Species) Profile(name string, position int) care.Profile {
	if name == "" {
		name = s.Name
	}
	return care.Profile{
		Name:          name,
		Species:       s.Name,
		Position:      position,
		SoilMoisture:  s.SoilMoisture,
		Temperature:   s.Temperature,
		Humidity:      s.Humidity,
		Light:         s.Light,
		WaterAmountML: s.WaterAmountML,
		FrequencyDays: s.FrequencyDays,
		Status:        care.StatusActive,
	}
}

func (s Species) validate() error {
	return s.Profile("", 0).Validate()
}

type SpeciesModelInterface interface {
	Insert(s Species) (int, error)
	Get(name string) (Species, error)
	All() ([]Species, error)
	Delete(name string) error
	Seed() (int, error)
	Export() ([]byte, error)
	Import(data []byte) (int, error)
}

type SpeciesModel struct {
	DB *sql.DB
}

// DefaultSpecies is the catalog a fresh database is seeded with.
var DefaultSpecies = []Species{
	{Name: "Snake Plant", WaterAmountML: 250, FrequencyDays: 14, Light: care.Bounds{Min: 50, Max: 200}, SoilType: "Well-draining potting mix", SoilMoisture: care.Bounds{Min: 20, Max: 40}, Humidity: care.Bounds{Min: 30, Max: 60}, Temperature: care.Bounds{Min: 15, Max: 30}},
	{Name: "Peace Lily", WaterAmountML: 300, FrequencyDays: 7, Light: care.Bounds{Min: 100, Max: 300}, SoilType: "Rich, well-draining soil", SoilMoisture: care.Bounds{Min: 40, Max: 70}, Humidity: care.Bounds{Min: 50, Max: 80}, Temperature: care.Bounds{Min: 18, Max: 28}},
	{Name: "Spider Plant", WaterAmountML: 200, FrequencyDays: 7, Light: care.Bounds{Min: 100, Max: 400}, SoilType: "Well-draining potting soil", SoilMoisture: care.Bounds{Min: 30, Max: 60}, Humidity: care.Bounds{Min: 40, Max: 70}, Temperature: care.Bounds{Min: 15, Max: 30}},
	{Name: "Pothos", WaterAmountML: 250, FrequencyDays: 7, Light: care.Bounds{Min: 50, Max: 300}, SoilType: "Well-draining potting mix", SoilMoisture: care.Bounds{Min: 30, Max: 60}, Humidity: care.Bounds{Min: 40, Max: 70}, Temperature: care.Bounds{Min: 18, Max: 30}},
	{Name: "Monstera", WaterAmountML: 400, FrequencyDays: 7, Light: care.Bounds{Min: 200, Max: 500}, SoilType: "Rich, well-draining soil", SoilMoisture: care.Bounds{Min: 40, Max: 70}, Humidity: care.Bounds{Min: 60, Max: 80}, Temperature: care.Bounds{Min: 20, Max: 30}},
	{Name: "ZZ Plant", WaterAmountML: 200, FrequencyDays: 21, Light: care.Bounds{Min: 50, Max: 200}, SoilType: "Well-draining potting mix", SoilMoisture: care.Bounds{Min: 20, Max: 40}, Humidity: care.Bounds{Min: 30, Max: 60}, Temperature: care.Bounds{Min: 15, Max: 30}},
	{Name: "Fiddle Leaf Fig", WaterAmountML: 350, FrequencyDays: 7, Light: care.Bounds{Min: 200, Max: 500}, SoilType: "Well-draining potting soil", SoilMoisture: care.Bounds{Min: 30, Max: 60}, Humidity: care.Bounds{Min: 50, Max: 70}, Temperature: care.Bounds{Min: 18, Max: 28}},
	{Name: "Aloe Vera", WaterAmountML: 150, FrequencyDays: 21, Light: care.Bounds{Min: 200, Max: 600}, SoilType: "Cactus/succulent mix", SoilMoisture: care.Bounds{Min: 10, Max: 30}, Humidity: care.Bounds{Min: 30, Max: 50}, Temperature: care.Bounds{Min: 15, Max: 30}},
	{Name: "Chinese Evergreen", WaterAmountML: 250, FrequencyDays: 10, Light: care.Bounds{Min: 50, Max: 200}, SoilType: "Well-draining potting mix", SoilMoisture: care.Bounds{Min: 30, Max: 60}, Humidity: care.Bounds{Min: 40, Max: 70}, Temperature: care.Bounds{Min: 18, Max: 28}},
	{Name: "Philodendron", WaterAmountML: 300, FrequencyDays: 7, Light: care.Bounds{Min: 100, Max: 400}, SoilType: "Rich, well-draining soil", SoilMoisture: care.Bounds{Min: 40, Max: 70}, Humidity: care.Bounds{Min: 50, Max: 80}, Temperature: care.Bounds{Min: 18, Max: 30}},
}

const speciesColumns = `id, name, water_amount, watering_frequency, light_min, light_max, soil_type,
	soil_moisture_min, soil_moisture_max, humidity_min, humidity_max, temperature_min, temperature_max, created, updated`

type scanner interface {
	Scan(dest ...any) error
}

func scanSpecies(row scanner) (Species, error) {
	var s Species
	err := row.Scan(&s.ID, &s.Name, &s.WaterAmountML, &s.FrequencyDays, &s.Light.Min, &s.Light.Max, &s.SoilType,
		&s.SoilMoisture.Min, &s.SoilMoisture.Max, &s.Humidity.Min, &s.Humidity.Max,
		&s.Temperature.Min, &s.Temperature.Max, &s.Created, &s.Updated)
	return s, err
}

func (m *SpeciesModel) Insert(s Species) (int, error) {
	if err := s.validate(); err != nil {
		return 0, err
	}
	writeMu.Lock()
	defer writeMu.Unlock()
	return m.insert(m.DB, s)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (m *SpeciesModel) insert(db execer, s Species) (int, error) {
	stmt := `INSERT INTO species (name, water_amount, watering_frequency, light_min, light_max, soil_type,
		soil_moisture_min, soil_moisture_max, humidity_min, humidity_max, temperature_min, temperature_max, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.Exec(stmt, s.Name, s.WaterAmountML, s.FrequencyDays, s.Light.Min, s.Light.Max, s.SoilType,
		s.SoilMoisture.Min, s.SoilMoisture.Max, s.Humidity.Min, s.Humidity.Max,
		s.Temperature.Min, s.Temperature.Max, now, now)
	if err != nil {
		if uniqueViolation(err, "species.name") {
			return 0, ErrDuplicateSpecies
		}
		return 0, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}
	return int(id), nil
}

func (m *SpeciesModel) Get(name string) (Species, error) {
	row := m.DB.QueryRow(`SELECT `+speciesColumns+` FROM species WHERE name = ?`, name)
	s, err := scanSpecies(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Species{}, ErrNoRecord
		}
		return Species{}, err
	}
	return s, nil
}

func (m *SpeciesModel) All() ([]Species, error) {
	rows, err := m.DB.Query(`SELECT ` + speciesColumns + ` FROM species ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var all []Species
	for rows.Next() {
		s, err := scanSpecies(rows)
		if err != nil {
			return nil, err
		}
		all = append(all, s)
	}
	return all, rows.Err()
}

func (m *SpeciesModel) Delete(name string) error {
	writeMu.Lock()
	defer writeMu.Unlock()

	result, err := m.DB.Exec(`DELETE FROM species WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNoRecord
	}
	return nil
}

// Seed fills an empty catalog with DefaultSpecies and reports how many
// entries were added.
func (m *SpeciesModel) Seed() (int, error) {
	var count int
	if err := m.DB.QueryRow(`SELECT COUNT(*) FROM species`).Scan(&count); err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	return m.importSpecies(DefaultSpecies)
}

func (m *SpeciesModel) Export() ([]byte, error) {
	all, err := m.All()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(all, "", "  ")
}

// Import adds every species in data that is not already in the catalog.
func (m *SpeciesModel) Import(data []byte) (int, error) {
	var list []Species
	if err := json.Unmarshal(data, &list); err != nil {
		return 0, fmt.Errorf("decode species: %w", err)
	}
	return m.importSpecies(list)
}

func (m *SpeciesModel) importSpecies(list []Species) (int, error) {
	for _, s := range list {
		if err := s.validate(); err != nil {
			return 0, fmt.Errorf("species %q: %w", s.Name, err)
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	tx, err := m.DB.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	added := 0
	for _, s := range list {
		if _, err := m.insert(tx, s); err != nil {
			if errors.Is(err, ErrDuplicateSpecies) {
				continue
			}
			return 0, fmt.Errorf("species %q: %w", s.Name, err)
		}
		added++
	}
	return added, tx.Commit()
}
