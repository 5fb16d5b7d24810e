package models

import (
	"errors"
	"testing"
	"time"

	"greenpot/planter/internal/care"
)

func seededPlants(t *testing.T) (*PlantModel, *SpeciesModel) {
	t.Helper()
	db := newTestDB(t)
	species := &SpeciesModel{DB: db}
	if n, err := species.Seed(); err != nil || n != len(DefaultSpecies) {
		t.Fatalf("Seed = %d, %v", n, err)
	}
	return &PlantModel{DB: db}, species
}

func mustSpecies(t *testing.T, m *SpeciesModel, name string) Species {
	t.Helper()
	s, err := m.Get(name)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", name, err)
	}
	return s
}

func TestPlantInsertAndGet(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	snake := mustSpecies(t, species, "Snake Plant")

	if _, err := plants.Insert(snake.Profile("", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	p, err := plants.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Name != "Snake Plant" || p.SoilMoisture != (care.Bounds{Min: 20, Max: 40}) || p.FrequencyDays != 14 {
		t.Fatalf("Get = %+v", p)
	}
	if p.LastWatered != nil || p.Status != care.StatusActive {
		t.Fatalf("new profile state = %v / %s", p.LastWatered, p.Status)
	}

	if _, err := plants.Get(9); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("Get(9) = %v, want ErrNoRecord", err)
	}
}

func TestPlantInsertConflicts(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	lily := mustSpecies(t, species, "Peace Lily")

	if _, err := plants.Insert(lily.Profile("", 2)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if _, err := plants.Insert(lily.Profile("Second lily", 2)); !errors.Is(err, ErrDuplicatePosition) {
		t.Fatalf("same position = %v", err)
	}
	if _, err := plants.Insert(lily.Profile("", 3)); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("same name = %v", err)
	}

	bad := lily.Profile("Broken", 4)
	bad.WaterAmountML = 0
	if _, err := plants.Insert(bad); !errors.Is(err, care.ErrInvalidAmount) {
		t.Fatalf("zero amount = %v", err)
	}
}

func TestPlantWateringLifecycle(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	snake := mustSpecies(t, species, "Snake Plant")
	if _, err := plants.Insert(snake.Profile("", 1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	due, err := plants.Due(now)
	if err != nil || len(due) != 1 {
		t.Fatalf("Due = %v, %v", due, err)
	}

	if err := plants.UpdateStatus(1, care.StatusNeedsWater, now); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := plants.UpdateWatered(1, now); err != nil {
		t.Fatalf("UpdateWatered failed: %v", err)
	}

	p, err := plants.Get(1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if p.Status != care.StatusActive || p.LastWatered == nil || !p.LastWatered.Equal(now) {
		t.Fatalf("after watering: status=%s last=%v", p.Status, p.LastWatered)
	}
	if p.LastChecked == nil {
		t.Fatal("UpdateStatus did not stamp last_checked")
	}

	if due, _ := plants.Due(now.AddDate(0, 0, 13)); len(due) != 0 {
		t.Fatalf("due after 13 days: %v", due)
	}
	if due, _ := plants.Due(now.AddDate(0, 0, 14)); len(due) != 1 {
		t.Fatalf("not due after 14 days: %v", due)
	}

	if err := plants.UpdateStatus(1, care.StatusError, now); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if p, _ := plants.Get(1); p.Status != care.StatusError || !p.LastWatered.Equal(now) {
		t.Fatalf("error status changed last_watered: %+v", p)
	}

	if err := plants.UpdateWatered(7, now); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("UpdateWatered(7) = %v", err)
	}
}

func TestPlantRemove(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	aloe := mustSpecies(t, species, "Aloe Vera")
	if _, err := plants.Insert(aloe.Profile("", 5)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := plants.Remove(5); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := plants.Remove(5); !errors.Is(err, ErrNoRecord) {
		t.Fatalf("second Remove = %v", err)
	}
	if _, err := plants.Insert(aloe.Profile("", 5)); err != nil {
		t.Fatalf("position not freed: %v", err)
	}
}

func TestPlantExportImport(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	for i, name := range []string{"Pothos", "Monstera"} {
		if _, err := plants.Insert(mustSpecies(t, species, name).Profile("", i+1)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	data, err := plants.Export()
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	other, _ := seededPlants(t)
	if _, err := other.Insert(mustSpecies(t, species, "ZZ Plant").Profile("", 9)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	n, err := other.Import(data)
	if err != nil || n != 2 {
		t.Fatalf("Import = %d, %v", n, err)
	}
	list, err := other.ListActive()
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(list) != 2 || list[0].Name != "Pothos" || list[1].Position != 2 {
		t.Fatalf("imported = %+v", list)
	}

	if _, err := other.Import([]byte(`{"plants":[{"name":"x","position":1,"water_amount_ml":0}]}`)); err == nil {
		t.Fatal("expected invalid import to fail")
	}
	if list, _ := other.ListActive(); len(list) != 2 {
		t.Fatal("failed import modified the store")
	}
}

func TestPlantImportRejectsBadRows(t *testing.T) {
	t.Parallel()

	plants, species := seededPlants(t)
	pothos := mustSpecies(t, species, "Pothos")
	if _, err := plants.Insert(pothos.Profile("", 0)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	tests := []struct {
		name string
		data string
		want error
	}{
		{"unknown status", `"status":"bogus","position":1`, care.ErrUnknownStatus},
		{"negative position", `"position":-1`, care.ErrInvalidPosition},
		{"position too high", `"position":100`, care.ErrInvalidPosition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := `{"plants":[{"name":"x",` + tt.data + `,"soil_moisture":{"min":20,"max":40},` +
				`"temperature":{"min":15,"max":30},"humidity":{"min":30,"max":60},` +
				`"light":{"min":50,"max":500},"water_amount_ml":200,"watering_frequency_days":7}]}`
			if _, err := plants.Import([]byte(data)); !errors.Is(err, tt.want) {
				t.Fatalf("Import = %v, want %v", err, tt.want)
			}
			list, err := plants.ListActive()
			if err != nil || len(list) != 1 || list[0].Position != 0 {
				t.Fatalf("ListActive after rejected import = %+v, %v", list, err)
			}
		})
	}
}
