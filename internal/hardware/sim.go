package hardware

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"greenpot/planter/internal/care"
)

// PumpRun records one simulated pump activation.
type PumpRun struct {
	Pump     int
	Duration time.Duration
	AmountML float64
	At       time.Time
}

// Simulator stands in for the board on development machines. Values are
// drawn from plausible indoor ranges and are reproducible for a given seed.
type Simulator struct {
	logger *zap.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	runs    []PumpRun
	status  bool
	pumpErr error
	sleep   func(time.Duration)
}

func NewSimulator(seed int64, logger *zap.Logger) *Simulator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulator{
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
		status: true,
		sleep:  time.Sleep,
	}
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func (s *Simulator) ReadAll(ctx context.Context) Reading {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := care.Snapshot{Time: time.Now().UTC()}
	snap.Set(care.Temperature, s.between(17, 28))
	snap.Set(care.Humidity, s.between(30, 60))
	snap.Set(care.SoilMoisture, s.between(15, 55))
	snap.Set(care.Light, s.between(50, 550))
	level := TankLevel(s.rng.Intn(2) == 1, s.rng.Intn(2) == 1, s.rng.Intn(2) == 1)
	snap.WaterLevel = &level
	return Reading{Snapshot: snap}
}

func (s *Simulator) RunPump(pump int, d time.Duration, amountML float64) error {
	if err := validPump(pump); err != nil {
		return err
	}
	s.mu.Lock()
	err := s.pumpErr
	sleep := s.sleep
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.Info("simulated pump run", zap.Int("pump", pump), zap.Duration("duration", d), zap.Float64("amount_ml", amountML))
	sleep(d)

	s.mu.Lock()
	s.runs = append(s.runs, PumpRun{Pump: pump, Duration: d, AmountML: amountML, At: time.Now()})
	s.mu.Unlock()
	return nil
}

// FailPumps makes every following pump run return err; nil clears it.
func (s *Simulator) FailPumps(err error) {
	s.mu.Lock()
	s.pumpErr = err
	s.mu.Unlock()
}

// Runs returns the pump activations so far.
func (s *Simulator) Runs() []PumpRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PumpRun(nil), s.runs...)
}

func (s *Simulator) SetStatus(ok bool) error {
	s.mu.Lock()
	s.status = ok
	s.mu.Unlock()
	return nil
}

// Status reports the last value passed to SetStatus.
func (s *Simulator) Status() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Simulator) Close() error { return nil }
