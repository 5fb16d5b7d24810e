package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
	"greenpot/planter/internal/hardware"
	"greenpot/planter/internal/models"
)

type pumpRun struct {
	pump     int
	duration time.Duration
	amount   float64
}

type fakeBoard struct {
	mu      sync.Mutex
	reading hardware.Reading
	pumpErr error
	runs    []pumpRun
	status  []bool

	delay     time.Duration
	active    atomic.Int32
	maxActive atomic.Int32
}

func (b *fakeBoard) ReadAll(context.Context) hardware.Reading {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reading
}

func (b *fakeBoard) RunPump(pump int, d time.Duration, amountML float64) error {
	n := b.active.Add(1)
	defer b.active.Add(-1)
	for {
		m := b.maxActive.Load()
		if n <= m || b.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	if b.delay > 0 {
		time.Sleep(b.delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pumpErr != nil {
		return b.pumpErr
	}
	b.runs = append(b.runs, pumpRun{pump, d, amountML})
	return nil
}

func (b *fakeBoard) SetStatus(ok bool) error {
	b.mu.Lock()
	b.status = append(b.status, ok)
	b.mu.Unlock()
	return nil
}

func (b *fakeBoard) Close() error { return nil }

func (b *fakeBoard) set(r hardware.Reading) {
	b.mu.Lock()
	b.reading = r
	b.mu.Unlock()
}

func (b *fakeBoard) failPumps(err error) {
	b.mu.Lock()
	b.pumpErr = err
	b.mu.Unlock()
}

func (b *fakeBoard) pumpRuns() []pumpRun {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]pumpRun(nil), b.runs...)
}

func fullTank() hardware.Reading {
	return hardware.Reading{Snapshot: care.Snapshot{
		SoilMoisture: care.Float(30),
		Temperature:  care.Float(22),
		Humidity:     care.Float(45),
		Light:        care.Float(150),
		WaterLevel:   care.Float(100),
	}}
}

type recorder struct {
	mu        sync.Mutex
	cycles    []CycleReport
	waterings []models.WateringEvent
}

func (r *recorder) OnCycle(_ context.Context, rep CycleReport) error {
	r.mu.Lock()
	r.cycles = append(r.cycles, rep)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnWatering(_ context.Context, e models.WateringEvent) error {
	r.mu.Lock()
	r.waterings = append(r.waterings, e)
	r.mu.Unlock()
	return errors.New("observer errors are only logged")
}

type harness struct {
	c       *Controller
	board   *fakeBoard
	plants  *models.PlantModel
	species *models.SpeciesModel
	events  *models.WateringModel
	days    *models.PumpTimeModel
	metrics *Metrics
	pauses  []time.Duration
	now     time.Time
}

func newHarness(t *testing.T, opts ...func(*config.Controller)) *harness {
	t.Helper()

	db, err := models.OpenDB(filepath.Join(t.TempDir(), "planter.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{
		board:   &fakeBoard{reading: fullTank()},
		plants:  &models.PlantModel{DB: db},
		species: &models.SpeciesModel{DB: db},
		events:  &models.WateringModel{DB: db},
		days:    &models.PumpTimeModel{DB: db},
		metrics: NewMetrics(prometheus.NewRegistry()),
		now:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	if _, err := h.species.Seed(); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	cfg := config.Default().Controller
	for _, o := range opts {
		o(&cfg)
	}
	h.c = New(Deps{
		Board:    h.board,
		Plants:   h.plants,
		Readings: &models.ReadingModel{DB: db},
		Events:   h.events,
		PumpDays: h.days,
		Metrics:  h.metrics,
	}, cfg)
	h.c.now = func() time.Time { return h.now }
	h.c.day.Date = models.DayKey(h.now)
	h.c.extremes.Date = models.DayKey(h.now)
	h.c.pause = func(_ context.Context, d time.Duration) error {
		h.pauses = append(h.pauses, d)
		return nil
	}
	return h
}

func (h *harness) plant(t *testing.T, species string, position int) care.Profile {
	t.Helper()
	s, err := h.species.Get(species)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", species, err)
	}
	p, err := h.plants.Insert(s.Profile("", position))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return p
}

func (h *harness) get(t *testing.T, position int) care.Profile {
	t.Helper()
	p, err := h.plants.Get(position)
	if err != nil {
		t.Fatalf("Get(%d) failed: %v", position, err)
	}
	return p
}

func TestCycleWatersDuePlants(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Snake Plant", 1)
	h.plant(t, "Pothos", 2)

	rep, err := h.c.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	runs := h.board.pumpRuns()
	if len(runs) != 2 {
		t.Fatalf("pump runs = %+v", runs)
	}
	if runs[0].pump != 2 || runs[0].duration != 2500*time.Millisecond || runs[0].amount != 250 {
		t.Errorf("position 1 run = %+v", runs[0])
	}
	if runs[1].pump != 1 {
		t.Errorf("position 2 used pump %d", runs[1].pump)
	}
	if len(h.pauses) != 1 || h.pauses[0] != 2*time.Second {
		t.Errorf("pauses between plants = %v", h.pauses)
	}

	for _, pos := range []int{1, 2} {
		p := h.get(t, pos)
		if p.Status != care.StatusActive || p.LastWatered == nil || !p.LastWatered.Equal(h.now) {
			t.Errorf("position %d after watering: %s %v", pos, p.Status, p.LastWatered)
		}
	}
	if len(rep.Watered) != 2 || !rep.Watered[0].Success {
		t.Fatalf("report watered = %+v", rep.Watered)
	}
	events, _ := h.events.Recent(10)
	if len(events) != 2 {
		t.Fatalf("%d watering events stored", len(events))
	}

	// Freshly watered plants are left alone on the next cycle.
	h.now = h.now.Add(5 * time.Minute)
	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("second Cycle failed: %v", err)
	}
	if n := len(h.board.pumpRuns()); n != 2 {
		t.Fatalf("second cycle ran pumps again: %d runs", n)
	}

	if got := testutil.ToFloat64(h.metrics.Waterings.WithLabelValues("success")); got != 2 {
		t.Errorf("waterings_total{success} = %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.Cycles); got != 2 {
		t.Errorf("cycles_total = %v", got)
	}
	if got := h.c.PumpDay(); got.Waterings != 2 || got.Pump2 != 2.5 {
		t.Errorf("pump day = %+v", got)
	}
}

func TestCycleSkipsWateringWhenTankLow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Peace Lily", 1)
	r := fullTank()
	r.Snapshot.WaterLevel = care.Float(0)
	h.board.set(r)

	rep, err := h.c.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(h.board.pumpRuns()) != 0 {
		t.Fatal("pump ran with an empty tank")
	}
	if !rep.TankLow || len(rep.Alerts) == 0 {
		t.Fatalf("report = %+v", rep)
	}
	if p := h.get(t, 1); p.Status != care.StatusNeedsWater || p.LastChecked == nil {
		t.Fatalf("status = %s, checked %v", p.Status, p.LastChecked)
	}

	if _, err := h.c.Water(context.Background(), 1, SourceManual); !errors.Is(err, ErrTankLow) {
		t.Fatalf("manual Water with empty tank = %v", err)
	}
}

func TestCyclePumpFailureSetsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Monstera", 3)
	h.board.failPumps(errors.New("relay stuck"))

	rep, err := h.c.Cycle(context.Background())
	if err != nil {
		t.Fatalf("pump failure aborted the cycle: %v", err)
	}
	p := h.get(t, 3)
	if p.Status != care.StatusError {
		t.Fatalf("status = %s, want error", p.Status)
	}
	if p.LastWatered != nil {
		t.Fatal("failed watering updated last_watered")
	}
	if len(rep.Watered) != 1 || rep.Watered[0].Success || rep.Watered[0].Error == "" {
		t.Fatalf("report watered = %+v", rep.Watered)
	}
	if rep.Plants[0].Status != care.StatusError {
		t.Fatalf("report plant status = %s", rep.Plants[0].Status)
	}
	if got := testutil.ToFloat64(h.metrics.Waterings.WithLabelValues("failure")); got != 1 {
		t.Errorf("waterings_total{failure} = %v", got)
	}
	if h.board.status[len(h.board.status)-1] {
		t.Error("status LED reported healthy after a pump failure")
	}

	// The next successful cycle clears the error.
	h.board.failPumps(nil)
	h.now = h.now.Add(5 * time.Minute)
	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if p := h.get(t, 3); p.Status != care.StatusActive || p.LastWatered == nil {
		t.Fatalf("after recovery: %s %v", p.Status, p.LastWatered)
	}
}

func TestCycleMissingReadings(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Pothos", 1)
	watered := h.now.AddDate(0, 0, -1)
	if err := h.plants.UpdateWatered(1, watered); err != nil {
		t.Fatalf("UpdateWatered failed: %v", err)
	}
	h.board.set(hardware.Reading{Faults: map[string]error{
		string(care.SoilMoisture): hardware.ErrTransient,
		hardware.WaterLevel:       hardware.ErrAbsent,
	}})

	rep, err := h.c.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(h.board.pumpRuns()) != 0 {
		t.Fatal("watered a plant that is not due")
	}
	a := rep.Assessments[0]
	if !a.Valid() || len(a.Unknown) != 4 {
		t.Fatalf("assessment = %+v", a)
	}
	if len(rep.Faults) != 2 {
		t.Fatalf("faults = %v", rep.Faults)
	}
	if got := testutil.ToFloat64(h.metrics.SensorFaults.WithLabelValues(string(care.SoilMoisture))); got != 1 {
		t.Errorf("sensor_faults_total = %v", got)
	}
}

func TestCycleDrySoilTrigger(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Controller) { c.WaterOnDrySoil = true })
	h.plant(t, "Peace Lily", 2)
	if err := h.plants.UpdateWatered(2, h.now.Add(-13*time.Hour)); err != nil {
		t.Fatalf("UpdateWatered failed: %v", err)
	}
	r := fullTank()
	r.Snapshot.SoilMoisture = care.Float(10)
	h.board.set(r)

	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if n := len(h.board.pumpRuns()); n != 1 {
		t.Fatalf("dry soil did not trigger watering: %d runs", n)
	}

	h.now = h.now.Add(time.Hour)
	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if n := len(h.board.pumpRuns()); n != 1 {
		t.Fatalf("dry soil watered again inside the minimum interval: %d runs", n)
	}
}

type brokenStore struct{ ProfileStore }

func (brokenStore) ListActive() ([]care.Profile, error) { return nil, errors.New("database is locked") }

func TestCycleStoreUnavailable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.c.plants = brokenStore{}

	rep, err := h.c.Cycle(context.Background())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Cycle = %v, want ErrStoreUnavailable", err)
	}
	if rep.Err == "" || !errors.Is(h.c.LastError(), ErrStoreUnavailable) {
		t.Fatalf("error not reported: %+v", rep)
	}
	if got := testutil.ToFloat64(h.metrics.CycleErrors); got != 1 {
		t.Errorf("cycle_errors_total = %v", got)
	}
}

func TestRunBacksOffAfterError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Controller) {
		c.Interval = time.Hour
		c.ErrorBackoff = 5 * time.Millisecond
	})
	h.c.plants = brokenStore{}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := h.c.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if got := testutil.ToFloat64(h.metrics.Cycles); got < 3 {
		t.Fatalf("only %v cycles ran with a short backoff", got)
	}
}

func TestWaterManual(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Aloe Vera", 4)

	e, err := h.c.Water(context.Background(), 4, SourceManual)
	if err != nil {
		t.Fatalf("Water failed: %v", err)
	}
	if e.ID == "" || e.Pump != 1 || e.Duration != 1500*time.Millisecond || e.Source != SourceManual {
		t.Fatalf("event = %+v", e)
	}
	if _, err := h.c.Water(context.Background(), 9, SourceManual); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("Water(9) = %v", err)
	}
}

func TestWaterNeverOverlaps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	for i, name := range []string{"Pothos", "Monstera", "ZZ Plant"} {
		h.plant(t, name, i+1)
	}
	h.board.delay = 10 * time.Millisecond

	var wg sync.WaitGroup
	for pos := 1; pos <= 3; pos++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.c.Water(context.Background(), pos, SourceManual); err != nil {
				t.Errorf("Water(%d) failed: %v", pos, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := h.c.WaterAll(context.Background(), SourceRemote); err != nil {
			t.Errorf("WaterAll failed: %v", err)
		}
	}()
	wg.Wait()

	if got := h.board.maxActive.Load(); got != 1 {
		t.Fatalf("%d pumps ran at once", got)
	}
	if n := len(h.board.pumpRuns()); n != 6 {
		t.Fatalf("%d pump runs, want 6", n)
	}
}

func TestWaterSafetyTimeout(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	s, _ := h.species.Get("Monstera")
	p := s.Profile("Giant", 1)
	p.WaterAmountML = 5000
	if _, err := h.plants.Insert(p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	e, err := h.c.Water(context.Background(), 1, SourceManual)
	if err != nil {
		t.Fatalf("Water failed: %v", err)
	}
	if e.Duration != 30*time.Second {
		t.Fatalf("duration = %v, want safety timeout", e.Duration)
	}
	want := 30 * config.Default().Controller.FlowRate
	if e.AmountML != want {
		t.Fatalf("amount = %v, want %v delivered", e.AmountML, want)
	}
	if runs := h.board.pumpRuns(); len(runs) != 1 || runs[0].amount != want {
		t.Fatalf("pump runs = %+v", runs)
	}
	stored, err := h.events.Recent(1)
	if err != nil || len(stored) != 1 || stored[0].AmountML != want {
		t.Fatalf("stored events = %+v, %v", stored, err)
	}
}

func TestCycleInvalidPumpDurationSetsError(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(c *config.Controller) { c.FlowRate = 0 })
	h.plant(t, "Monstera", 3)

	rep, err := h.c.Cycle(context.Background())
	if err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	if len(h.board.pumpRuns()) != 0 {
		t.Fatal("pump ran with an invalid flow rate")
	}
	if p := h.get(t, 3); p.Status != care.StatusError {
		t.Fatalf("stored status = %s, want error", p.Status)
	}
	if rep.Plants[0].Status != care.StatusError {
		t.Fatalf("report status = %s, want error", rep.Plants[0].Status)
	}
}

func TestClearError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Philodendron", 2)
	if err := h.plants.UpdateStatus(2, care.StatusError, h.now); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	p, err := h.c.ClearError(2)
	if err != nil || p.Status != care.StatusActive {
		t.Fatalf("ClearError = %+v, %v", p, err)
	}
	if got := h.get(t, 2).Status; got != care.StatusActive {
		t.Fatalf("stored status = %s", got)
	}
	if _, err := h.c.ClearError(8); !errors.Is(err, ErrUnknownPosition) {
		t.Fatalf("ClearError(8) = %v", err)
	}
}

func TestObserversAndExtremes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Spider Plant", 1)
	rec := &recorder{}
	h.c.Subscribe(rec)

	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}
	r := fullTank()
	r.Snapshot.Temperature = care.Float(27)
	h.board.set(r)
	if _, err := h.c.Cycle(context.Background()); err != nil {
		t.Fatalf("Cycle failed: %v", err)
	}

	if len(rec.cycles) != 2 || len(rec.waterings) != 1 {
		t.Fatalf("observer saw %d cycles, %d waterings", len(rec.cycles), len(rec.waterings))
	}
	ex := h.c.Extremes()
	if *ex.HighTemp != 27 || *ex.LowTemp != 22 {
		t.Fatalf("extremes = %v / %v", *ex.HighTemp, *ex.LowTemp)
	}
	if h.c.History().Len() != 2 {
		t.Fatalf("history len = %d", h.c.History().Len())
	}
}

func TestRollover(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.plant(t, "Pothos", 1)
	if _, err := h.c.Water(context.Background(), 1, SourceManual); err != nil {
		t.Fatalf("Water failed: %v", err)
	}

	h.c.Rollover(h.now)
	if got := h.c.PumpDay().Waterings; got != 1 {
		t.Fatalf("same day rollover reset totals: %d", got)
	}

	h.c.Rollover(h.now.AddDate(0, 0, 1))
	days, err := h.days.Recent(5)
	if err != nil || len(days) != 1 {
		t.Fatalf("pump days = %+v, %v", days, err)
	}
	if days[0].Date != "2024-06-01" || days[0].Pump2 != 2.5 {
		t.Fatalf("stored day = %+v", days[0])
	}
	if got := h.c.PumpDay(); got.Waterings != 0 || got.Date != "2024-06-02" {
		t.Fatalf("new day = %+v", got)
	}
}
