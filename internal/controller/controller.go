// Package controller runs the planter: it polls the sensors, evaluates every
// installed plant against its care profile and waters the ones that are due.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
	"greenpot/planter/internal/hardware"
	"greenpot/planter/internal/models"
)

var (
	ErrSensorUnavailable = errors.New("controller: sensor unavailable")
	ErrActuatorFailure   = errors.New("controller: pump did not complete")
	ErrStoreUnavailable  = errors.New("controller: profile store unavailable")
	ErrTankLow           = errors.New("controller: water tank level too low")
	ErrUnknownPosition   = errors.New("controller: no plant at position")
)

// Sources recorded on watering events.
const (
	SourceAuto   = "auto"
	SourceManual = "manual"
	SourceRemote = "remote"
	SourceMQTT   = "mqtt"
)

// ProfileStore is the plant profile persistence the loop depends on.
type ProfileStore interface {
	ListActive() ([]care.Profile, error)
	Get(position int) (care.Profile, error)
	UpdateWatered(position int, t time.Time) error
	UpdateStatus(position int, status care.Status, t time.Time) error
}

type ReadingStore interface {
	Insert(s care.Snapshot) error
	Prune(before time.Time) (int64, error)
}

type EventStore interface {
	Insert(e models.WateringEvent) (models.WateringEvent, error)
}

type PumpDayStore interface {
	Record(day models.PumpDay) error
}

// Observer is told about every finished cycle and every watering attempt.
// Errors are logged and never stop the controller.
type Observer interface {
	OnCycle(ctx context.Context, r CycleReport) error
	OnWatering(ctx context.Context, e models.WateringEvent) error
}

type Deps struct {
	Board    hardware.Board
	Plants   ProfileStore
	Readings ReadingStore
	Events   EventStore
	PumpDays PumpDayStore
	Logger   *zap.Logger
	Metrics  *Metrics
}

// CycleReport summarises one polling cycle.
type CycleReport struct {
	Time        time.Time              `json:"timestamp"`
	Snapshot    care.Snapshot          `json:"snapshot"`
	Faults      map[string]string      `json:"faults,omitempty"`
	Assessments []care.Assessment      `json:"assessments"`
	Plants      []care.Profile         `json:"plants"`
	Watered     []models.WateringEvent `json:"watered,omitempty"`
	TankLow     bool                   `json:"tank_low"`
	Alerts      []Alert                `json:"alerts,omitempty"`
	Extremes    Extremes               `json:"extremes"`
	Err         string                 `json:"error,omitempty"`
}

// Alert is an operator-facing problem. Subject groups repeats of the same
// problem, for example "tank" or "plant:3".
type Alert struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Extremes are the daily high and low climate readings, reset at UTC midnight.
type Extremes struct {
	Date         string   `json:"date"`
	HighTemp     *float64 `json:"daily_high_temp"`
	LowTemp      *float64 `json:"daily_low_temp"`
	HighHumidity *float64 `json:"daily_high_humidity"`
	LowHumidity  *float64 `json:"daily_low_humidity"`
}

func (e *Extremes) observe(s care.Snapshot) {
	track := func(v *float64, hi, lo **float64) {
		if v == nil {
			return
		}
		if *hi == nil || *v > **hi {
			*hi = care.Float(*v)
		}
		if *lo == nil || *v < **lo {
			*lo = care.Float(*v)
		}
	}
	track(s.Temperature, &e.HighTemp, &e.LowTemp)
	track(s.Humidity, &e.HighHumidity, &e.LowHumidity)
}

type Controller struct {
	board    hardware.Board
	plants   ProfileStore
	readings ReadingStore
	events   EventStore
	pumpDays PumpDayStore
	logger   *zap.Logger
	metrics  *Metrics
	opts     config.Controller
	history  *History

	now   func() time.Time
	pause func(ctx context.Context, d time.Duration) error

	// pumpMu keeps manual and scheduled watering from overlapping.
	pumpMu sync.Mutex

	mu        sync.RWMutex
	last      CycleReport
	lastErr   error
	extremes  Extremes
	day       models.PumpDay
	observers []Observer
}

func New(deps Deps, opts config.Controller) *Controller {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Controller{
		board:    deps.Board,
		plants:   deps.Plants,
		readings: deps.Readings,
		events:   deps.Events,
		pumpDays: deps.PumpDays,
		logger:   logger,
		metrics:  deps.Metrics,
		opts:     opts,
		history:  NewHistory(opts.HistorySize),
		now:      func() time.Time { return time.Now().UTC() },
		pause:    sleepCtx,
	}
	today := models.DayKey(c.now())
	c.extremes.Date = today
	c.day.Date = today
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Subscribe adds an observer. It must be called before Run.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

func (c *Controller) History() *History { return c.history }

// LastReport returns the most recent cycle report.
func (c *Controller) LastReport() CycleReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// LastError returns the error of the most recent cycle, if it failed.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Controller) Extremes() Extremes {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.extremes
}

// Run polls until ctx is cancelled. A failed cycle is retried after the
// error backoff instead of the full interval.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("controller started",
		zap.Duration("interval", c.opts.Interval),
		zap.Duration("error_backoff", c.opts.ErrorBackoff))
	for {
		wait := c.opts.Interval
		if _, err := c.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("cycle failed", zap.Error(err), zap.Duration("retry_in", c.opts.ErrorBackoff))
			wait = c.opts.ErrorBackoff
		}
		if err := sleepCtx(ctx, wait); err != nil {
			c.logger.Info("controller stopped")
			return err
		}
	}
}

// Cycle runs one read-evaluate-water pass.
func (c *Controller) Cycle(ctx context.Context) (CycleReport, error) {
	now := c.now()
	rd := c.board.ReadAll(ctx)
	snap := rd.Snapshot
	if snap.Time.IsZero() {
		snap.Time = now
	}

	report := CycleReport{Time: now, Snapshot: snap}
	c.recordReading(&report, rd)

	err := c.evaluate(ctx, &report)
	if err != nil {
		report.Err = err.Error()
		if c.metrics != nil {
			c.metrics.CycleErrors.Inc()
		}
	}
	if c.metrics != nil {
		c.metrics.Cycles.Inc()
	}

	healthy := err == nil && len(report.Faults) == 0 && !report.TankLow
	for _, p := range report.Plants {
		if p.Status == care.StatusError {
			healthy = false
		}
	}
	if lerr := c.board.SetStatus(healthy); lerr != nil {
		c.logger.Warn("status led update failed", zap.Error(lerr))
	}

	c.mu.Lock()
	report.Extremes = c.extremes
	c.last = report
	c.lastErr = err
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	for _, o := range observers {
		if oerr := o.OnCycle(ctx, report); oerr != nil {
			c.logger.Warn("cycle observer failed", zap.String("observer", fmt.Sprintf("%T", o)), zap.Error(oerr))
		}
	}
	return report, err
}

func (c *Controller) recordReading(report *CycleReport, rd hardware.Reading) {
	snap := report.Snapshot
	c.history.Add(snap)

	if len(rd.Faults) > 0 {
		report.Faults = make(map[string]string, len(rd.Faults))
		for name, ferr := range rd.Faults {
			report.Faults[name] = ferr.Error()
			if c.metrics != nil {
				c.metrics.SensorFaults.WithLabelValues(name).Inc()
			}
			if !errors.Is(ferr, hardware.ErrAbsent) {
				c.logger.Warn("sensor unavailable", zap.String("sensor", name),
					zap.Error(fmt.Errorf("%w: %w", ErrSensorUnavailable, ferr)))
			}
		}
	}

	c.mu.Lock()
	if d := models.DayKey(snap.Time); d != c.extremes.Date {
		c.extremes = Extremes{Date: d}
	}
	c.extremes.observe(snap)
	c.mu.Unlock()

	if c.metrics != nil {
		for _, q := range care.Quantities {
			if v, ok := snap.Reading(q); ok {
				c.metrics.Readings.WithLabelValues(string(q)).Set(v)
			}
		}
		if snap.WaterLevel != nil {
			c.metrics.Readings.WithLabelValues(hardware.WaterLevel).Set(*snap.WaterLevel)
		}
	}

	if c.readings != nil {
		if err := c.readings.Insert(snap); err != nil {
			c.logger.Error("reading not stored", zap.Error(err))
		}
	}
}

func (c *Controller) tankLow(s care.Snapshot) bool {
	return s.WaterLevel != nil && *s.WaterLevel < c.opts.MinTankLevel
}

// wantsWater decides whether the loop should water p this cycle.
func (c *Controller) wantsWater(p care.Profile, a care.Assessment, now time.Time) bool {
	if a.Due {
		return true
	}
	if !c.opts.WaterOnDrySoil || !a.SoilDry {
		return false
	}
	return p.LastWatered == nil || now.Sub(*p.LastWatered) >= c.opts.DrySoilMinInterval
}

func (c *Controller) evaluate(ctx context.Context, report *CycleReport) error {
	profiles, err := c.plants.ListActive()
	if err != nil {
		return fmt.Errorf("%w: list plants: %w", ErrStoreUnavailable, err)
	}

	now := report.Time
	report.TankLow = c.tankLow(report.Snapshot)

	var candidates []care.Profile
	for i, p := range profiles {
		a := care.Assess(p, report.Snapshot, now)
		report.Assessments = append(report.Assessments, a)

		status := p.Status
		if a.Due {
			status = care.Next(status, care.EventDue)
		}
		if err := c.plants.UpdateStatus(p.Position, status, now); err != nil {
			return fmt.Errorf("%w: update status of position %d: %w", ErrStoreUnavailable, p.Position, err)
		}
		profiles[i].Status = status
		profiles[i].LastChecked = &now

		if !a.Valid() {
			for _, r := range a.Results {
				if !r.Valid {
					c.logger.Info("plant out of bounds", zap.Int("position", p.Position),
						zap.String("plant", p.Name), zap.String("action", string(r.Action)), zap.String("message", r.Message))
				}
			}
		}
		if c.wantsWater(p, a, now) {
			candidates = append(candidates, profiles[i])
		}
	}

	if len(candidates) > 0 && report.TankLow {
		msg := fmt.Sprintf("Water tank low (%.1f%% < %.1f%%), skipped watering %d plant(s)",
			*report.Snapshot.WaterLevel, c.opts.MinTankLevel, len(candidates))
		c.logger.Warn("watering skipped", zap.Error(ErrTankLow), zap.Int("plants", len(candidates)))
		report.Alerts = append(report.Alerts, Alert{Subject: "tank", Message: msg})
		candidates = nil
	}

	var waterErr error
	for i, p := range candidates {
		if i > 0 {
			if err := c.pause(ctx, c.opts.PlantPause); err != nil {
				return err
			}
		}
		e, err := c.water(ctx, p, SourceAuto)
		if e.Plant != "" {
			report.Watered = append(report.Watered, e)
		}
		ev := care.EventWatered
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			report.Alerts = append(report.Alerts, Alert{
				Subject: fmt.Sprintf("watering:%d", p.Position),
				Message: fmt.Sprintf("Watering %s at position %d failed: %v", p.Name, p.Position, err),
			})
			if errors.Is(err, ErrStoreUnavailable) {
				return err
			}
			waterErr = errors.Join(waterErr, err)
			ev = care.EventFailure
		}
		for j := range profiles {
			if profiles[j].Position != p.Position {
				continue
			}
			profiles[j].Status = care.Next(profiles[j].Status, ev)
			if err == nil {
				profiles[j].LastWatered = &e.Time
			}
		}
	}

	for _, p := range profiles {
		if p.Status == care.StatusError {
			report.Alerts = append(report.Alerts, Alert{
				Subject: fmt.Sprintf("plant:%d", p.Position),
				Message: fmt.Sprintf("%s at position %d needs attention", p.Name, p.Position),
			})
		}
	}
	report.Plants = profiles
	c.observeStatus(profiles)

	// Pump failures mark the plant but do not abort the cycle.
	if waterErr != nil {
		c.logger.Warn("watering failures this cycle", zap.Error(waterErr))
	}
	return nil
}

func (c *Controller) observeStatus(profiles []care.Profile) {
	if c.metrics == nil {
		return
	}
	counts := map[care.Status]int{care.StatusActive: 0, care.StatusNeedsWater: 0, care.StatusError: 0}
	for _, p := range profiles {
		counts[p.Status]++
	}
	for s, n := range counts {
		c.metrics.PlantStatus.WithLabelValues(string(s)).Set(float64(n))
	}
}

// Water runs the pump for the plant at position now.
func (c *Controller) Water(ctx context.Context, position int, source string) (models.WateringEvent, error) {
	p, err := c.plants.Get(position)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			return models.WateringEvent{}, fmt.Errorf("%w %d", ErrUnknownPosition, position)
		}
		return models.WateringEvent{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if s, ok := c.history.Latest(); ok && c.tankLow(s) {
		return models.WateringEvent{}, ErrTankLow
	}
	return c.water(ctx, p, source)
}

// WaterAll waters every installed plant in position order.
func (c *Controller) WaterAll(ctx context.Context, source string) ([]models.WateringEvent, error) {
	profiles, err := c.plants.ListActive()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if s, ok := c.history.Latest(); ok && c.tankLow(s) {
		return nil, ErrTankLow
	}

	var (
		events []models.WateringEvent
		errs   error
	)
	for i, p := range profiles {
		if i > 0 {
			if err := c.pause(ctx, c.opts.PlantPause); err != nil {
				return events, err
			}
		}
		e, err := c.water(ctx, p, source)
		if e.Plant != "" {
			events = append(events, e)
		}
		errs = errors.Join(errs, err)
	}
	return events, errs
}

// ClearError returns a plant in error to active.
func (c *Controller) ClearError(position int) (care.Profile, error) {
	p, err := c.plants.Get(position)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			return care.Profile{}, fmt.Errorf("%w %d", ErrUnknownPosition, position)
		}
		return care.Profile{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	next := care.Next(p.Status, care.EventRecovered)
	if next == p.Status {
		return p, nil
	}
	now := c.now()
	if err := c.plants.UpdateStatus(position, next, now); err != nil {
		return care.Profile{}, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	p.Status = next
	p.LastChecked = &now
	c.logger.Info("plant error cleared", zap.Int("position", position), zap.String("plant", p.Name))
	return p, nil
}

func (c *Controller) water(ctx context.Context, p care.Profile, source string) (models.WateringEvent, error) {
	if err := ctx.Err(); err != nil {
		return models.WateringEvent{}, err
	}
	pump := care.PumpIndex(p.Position)
	d, err := care.PumpDuration(p.WaterAmountML, c.opts.FlowRate)
	if err != nil {
		c.logger.Error("watering not started", zap.Int("position", p.Position), zap.String("plant", p.Name), zap.Error(err))
		if serr := c.plants.UpdateStatus(p.Position, care.Next(p.Status, care.EventFailure), c.now()); serr != nil {
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrStoreUnavailable, serr))
		}
		return models.WateringEvent{}, err
	}
	amount := p.WaterAmountML
	if d > c.opts.SafetyTimeout {
		d = c.opts.SafetyTimeout
		amount = d.Seconds() * c.opts.FlowRate
		c.logger.Warn("pump run capped by safety timeout",
			zap.Int("position", p.Position), zap.Duration("timeout", c.opts.SafetyTimeout),
			zap.Float64("requested_ml", p.WaterAmountML), zap.Float64("delivered_ml", amount))
	}

	c.pumpMu.Lock()
	runErr := c.board.RunPump(pump, d, amount)
	c.pumpMu.Unlock()

	now := c.now()
	e := models.WateringEvent{
		Position: p.Position,
		Plant:    p.Name,
		Pump:     pump,
		AmountML: amount,
		Duration: d,
		Success:  runErr == nil,
		Source:   source,
		Time:     now,
	}

	var result error
	if runErr != nil {
		e.Error = runErr.Error()
		result = fmt.Errorf("%w: pump %d: %w", ErrActuatorFailure, pump, runErr)
		c.logger.Error("watering failed", zap.Int("position", p.Position), zap.String("plant", p.Name), zap.Error(result))
		if err := c.plants.UpdateStatus(p.Position, care.Next(p.Status, care.EventFailure), now); err != nil {
			result = errors.Join(result, fmt.Errorf("%w: %w", ErrStoreUnavailable, err))
		}
	} else {
		if err := c.plants.UpdateWatered(p.Position, now); err != nil {
			result = fmt.Errorf("%w: record watering: %w", ErrStoreUnavailable, err)
		}
		c.addPumpTime(pump, d)
		c.logger.Info("plant watered", zap.Int("position", p.Position), zap.String("plant", p.Name),
			zap.Int("pump", pump), zap.Float64("amount_ml", amount), zap.String("source", source))
	}

	if c.metrics != nil {
		label := "success"
		if runErr != nil {
			label = "failure"
		}
		c.metrics.Waterings.WithLabelValues(label).Inc()
		if runErr == nil {
			c.metrics.PumpSeconds.WithLabelValues(strconv.Itoa(pump)).Add(d.Seconds())
		}
	}

	if c.events != nil {
		stored, err := c.events.Insert(e)
		if err != nil {
			c.logger.Error("watering event not stored", zap.Error(err))
		} else {
			e = stored
		}
	}

	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	for _, o := range observers {
		if oerr := o.OnWatering(ctx, e); oerr != nil {
			c.logger.Warn("watering observer failed", zap.String("observer", fmt.Sprintf("%T", o)), zap.Error(oerr))
		}
	}
	return e, result
}

func (c *Controller) addPumpTime(pump int, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch pump {
	case 1:
		c.day.Pump1 += d.Seconds()
	case 2:
		c.day.Pump2 += d.Seconds()
	}
	c.day.Waterings++
}

// PumpDay returns the running pump totals for the current day.
func (c *Controller) PumpDay() models.PumpDay {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.day
}
