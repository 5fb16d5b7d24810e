package hardware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"gobot.io/x/gobot/v2"
	"gobot.io/x/gobot/v2/drivers/gpio"
	"gobot.io/x/gobot/v2/drivers/i2c"
	"gobot.io/x/gobot/v2/platforms/raspi"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
)

type climateSensor interface {
	Temperature() (float32, error)
	Humidity() (float32, error)
}

type luxSensor interface {
	Lux() (int, error)
}

type adc interface {
	ReadWithDefaults(channel int) (float64, error)
}

type digitalReader interface {
	DigitalRead(pin string) (int, error)
}

type switcher interface {
	On() error
	Off() error
}

// relay flips On and Off for boards wired active-low.
type relay struct {
	d        *gpio.RelayDriver
	inverted bool
}

func (r relay) On() error {
	if r.inverted {
		return r.d.Off()
	}
	return r.d.On()
}

func (r relay) Off() error {
	if r.inverted {
		return r.d.On()
	}
	return r.d.Off()
}

// PiBoard is the Raspberry Pi planter: SHT2x climate sensor and BH1750 lux
// meter on I2C, a capacitive soil probe on an ADS1115, three tank float
// switches and relay driven pumps.
type PiBoard struct {
	robot  *gobot.Robot
	logger *zap.Logger
	cfg    config.Hardware

	climate climateSensor
	lux     luxSensor
	soil    adc
	gpio    digitalReader

	pumps     map[int]switcher
	enable    switcher
	statusLED switcher
	warnLED   switcher

	// mu keeps pump runs and status writes off the relays at the same time.
	mu    sync.Mutex
	sleep func(time.Duration)
}

// NewPiBoard connects to the Raspberry Pi and starts every driver.
func NewPiBoard(cfg config.Hardware, logger *zap.Logger) (*PiBoard, error) {
	r := raspi.NewAdaptor()
	sht2x := i2c.NewSHT2xDriver(r)
	bh1750 := i2c.NewBH1750Driver(r)
	ads := i2c.NewADS1115Driver(r)
	pump1 := gpio.NewRelayDriver(r, cfg.Pins.Pump1)
	pump2 := gpio.NewRelayDriver(r, cfg.Pins.Pump2)
	enable := gpio.NewRelayDriver(r, cfg.Pins.PumpEnable)
	statusLED := gpio.NewLedDriver(r, cfg.Pins.StatusLED)
	warnLED := gpio.NewLedDriver(r, cfg.Pins.WarningLED)

	devices := []gobot.Device{pump1, pump2, enable, statusLED, warnLED}
	b := &PiBoard{
		logger:    logger,
		cfg:       cfg,
		gpio:      r,
		pumps:     map[int]switcher{1: relay{pump1, cfg.InvertedRelays}, 2: relay{pump2, cfg.InvertedRelays}},
		enable:    relay{enable, cfg.InvertedRelays},
		statusLED: statusLED,
		warnLED:   warnLED,
		sleep:     time.Sleep,
	}
	if !b.disabled(string(care.Temperature)) || !b.disabled(string(care.Humidity)) {
		b.climate = sht2x
		devices = append(devices, sht2x)
	}
	if !b.disabled(string(care.Light)) {
		b.lux = bh1750
		devices = append(devices, bh1750)
	}
	if !b.disabled(string(care.SoilMoisture)) {
		b.soil = ads
		devices = append(devices, ads)
	}

	b.robot = gobot.NewRobot("PlanterController", []gobot.Connection{r}, devices)
	if err := b.robot.Start(false); err != nil {
		return nil, fmt.Errorf("start board: %w", err)
	}
	// Relays come up energised on some boards.
	for _, s := range []switcher{b.pumps[1], b.pumps[2], b.enable} {
		if err := s.Off(); err != nil {
			logger.Warn("relay reset failed", zap.Error(err))
		}
	}
	logger.Info("raspberry pi board started", zap.Int("devices", len(devices)))
	return b, nil
}

func (b *PiBoard) disabled(name string) bool {
	return slices.Contains(b.cfg.Disabled, name)
}

func (b *PiBoard) ReadAll(ctx context.Context) Reading {
	rd := Reading{Snapshot: care.Snapshot{Time: time.Now().UTC()}}

	b.readClimate(ctx, &rd)

	b.readQuantity(ctx, &rd, care.Light, b.lux != nil, func() (float64, error) {
		v, err := b.lux.Lux()
		return float64(v), err
	})
	b.readQuantity(ctx, &rd, care.SoilMoisture, b.soil != nil, func() (float64, error) {
		v, err := b.soil.ReadWithDefaults(b.cfg.SoilChannel)
		if err != nil {
			return 0, err
		}
		return SoilPercent(v, b.cfg.SoilDryVolts, b.cfg.SoilWetVolts), nil
	})

	if b.disabled(WaterLevel) {
		rd.fault(WaterLevel, ErrAbsent)
	} else if level, err := b.tankLevel(); err != nil {
		b.logger.Warn("tank level read failed", zap.Error(err))
		rd.fault(WaterLevel, err)
	} else {
		rd.Snapshot.WaterLevel = &level
	}
	return rd
}

func (b *PiBoard) readClimate(ctx context.Context, rd *Reading) {
	if b.climate == nil {
		rd.fault(string(care.Temperature), ErrAbsent)
		rd.fault(string(care.Humidity), ErrAbsent)
		return
	}
	var temp, hum float32
	err := retry(ctx, b.cfg.MaxRetries, b.cfg.RetryInterval, func() error {
		var err error
		if temp, err = b.climate.Temperature(); err != nil {
			return err
		}
		hum, err = b.climate.Humidity()
		return err
	})
	if err != nil {
		b.logger.Warn("climate sensor read failed", zap.Error(err))
		rd.fault(string(care.Temperature), err)
		rd.fault(string(care.Humidity), err)
		return
	}
	b.record(rd, care.Temperature, float64(temp))
	b.record(rd, care.Humidity, float64(hum)+b.cfg.HumidityOffset)
}

func (b *PiBoard) readQuantity(ctx context.Context, rd *Reading, q care.Quantity, fitted bool, read func() (float64, error)) {
	if !fitted {
		rd.fault(string(q), ErrAbsent)
		return
	}
	var v float64
	err := retry(ctx, b.cfg.MaxRetries, b.cfg.RetryInterval, func() error {
		var err error
		v, err = read()
		return err
	})
	if err != nil {
		b.logger.Warn("sensor read failed", zap.String("quantity", string(q)), zap.Error(err))
		rd.fault(string(q), err)
		return
	}
	b.record(rd, q, v)
}

func (b *PiBoard) record(rd *Reading, q care.Quantity, v float64) {
	if b.disabled(string(q)) {
		rd.fault(string(q), ErrAbsent)
		return
	}
	if err := CheckRange(q, v); err != nil {
		b.logger.Warn("sensor value rejected", zap.String("quantity", string(q)), zap.Error(err))
		rd.fault(string(q), err)
		return
	}
	rd.Snapshot.Set(q, v)
}

func (b *PiBoard) tankLevel() (float64, error) {
	var levels [3]bool
	for i, pin := range []string{b.cfg.Pins.TankTop, b.cfg.Pins.TankMiddle, b.cfg.Pins.TankBottom} {
		v, err := b.gpio.DigitalRead(pin)
		if err != nil {
			return 0, fmt.Errorf("%w: float switch %s: %v", ErrTransient, pin, err)
		}
		levels[i] = v == 1
	}
	return TankLevel(levels[0], levels[1], levels[2]), nil
}

// RunPump energises the pump driver, runs pump for d and switches both off
// again. It cannot be cancelled once started.
func (b *PiBoard) RunPump(pump int, d time.Duration, amountML float64) error {
	if err := validPump(pump); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p := b.pumps[pump]
	if err := b.enable.On(); err != nil {
		return fmt.Errorf("pump enable: %w", err)
	}
	b.sleep(pumpSettle)

	var runErr error
	if err := p.On(); err != nil {
		runErr = fmt.Errorf("pump %d on: %w", pump, err)
	} else {
		b.logger.Info("pump running", zap.Int("pump", pump), zap.Duration("duration", d), zap.Float64("amount_ml", amountML))
		b.sleep(d)
	}
	if err := p.Off(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("pump %d off: %w", pump, err))
	}
	if err := b.enable.Off(); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("pump disable: %w", err))
	}
	return runErr
}

// SetStatus lights the status LED when ok and the warning LED otherwise.
func (b *PiBoard) SetStatus(ok bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	on, off := b.statusLED, b.warnLED
	if !ok {
		on, off = off, on
	}
	return errors.Join(on.On(), off.Off())
}

func (b *PiBoard) Close() error {
	if b.robot == nil {
		return nil
	}
	return b.robot.Stop()
}
