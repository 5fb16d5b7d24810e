package models

import (
	"testing"
	"time"
)

func TestWateringEvents(t *testing.T) {
	t.Parallel()

	m := &WateringModel{DB: newTestDB(t)}
	base := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

	first, err := m.Insert(WateringEvent{Position: 1, Plant: "Pothos", Pump: 2, AmountML: 250, Duration: 2500 * time.Millisecond, Success: true, Source: "auto", Time: base})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if first.ID == "" {
		t.Fatal("Insert did not assign an ID")
	}
	if _, err := m.Insert(WateringEvent{Position: 2, Plant: "Monstera", Pump: 1, AmountML: 400, Source: "manual", Error: "pump stalled", Time: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	recent, err := m.Recent(10)
	if err != nil || len(recent) != 2 {
		t.Fatalf("Recent = %d, %v", len(recent), err)
	}
	if recent[0].Plant != "Monstera" || recent[0].Success || recent[0].Error != "pump stalled" {
		t.Fatalf("Recent[0] = %+v", recent[0])
	}
	if recent[1].Duration != 2500*time.Millisecond || !recent[1].Success {
		t.Fatalf("Recent[1] = %+v", recent[1])
	}

	mine, err := m.ForPosition(1, 10)
	if err != nil || len(mine) != 1 || mine[0].ID != first.ID {
		t.Fatalf("ForPosition = %+v, %v", mine, err)
	}
}

func TestPumpDailyWindow(t *testing.T) {
	t.Parallel()

	m := &PumpTimeModel{DB: newTestDB(t)}
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < PumpDayWindow+5; i++ {
		if err := m.Record(PumpDay{Date: DayKey(day.AddDate(0, 0, i)), Pump1: float64(i), Waterings: 1}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	days, err := m.Recent(100)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(days) != PumpDayWindow {
		t.Fatalf("kept %d days, want %d", len(days), PumpDayWindow)
	}
	if days[len(days)-1].Date != DayKey(day.AddDate(0, 0, 5)) {
		t.Fatalf("oldest kept = %s", days[len(days)-1].Date)
	}
}
