package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"greenpot/planter/internal/models"
)

const pruneEvery = time.Hour

// RunHousekeeping prunes old readings every hour and rolls the daily pump
// totals over at UTC midnight until ctx is cancelled.
func (c *Controller) RunHousekeeping(ctx context.Context) {
	pruneTicker := time.NewTicker(pruneEvery)
	defer pruneTicker.Stop()

	now := c.now()
	nextMidnight := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	midnight := time.NewTimer(nextMidnight.Sub(now))
	defer midnight.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			c.Prune()
		case <-midnight.C:
			c.Rollover(c.now())
			midnight.Reset(24 * time.Hour)
		}
	}
}

// Prune deletes readings older than the retention window.
func (c *Controller) Prune() {
	if c.readings == nil || c.opts.Retention <= 0 {
		return
	}
	n, err := c.readings.Prune(c.now().Add(-c.opts.Retention))
	if err != nil {
		c.logger.Error("reading prune failed", zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("old readings pruned", zap.Int64("rows", n), zap.Duration("retention", c.opts.Retention))
	}
}

// Rollover stores the finished day's pump totals and starts a new day.
func (c *Controller) Rollover(now time.Time) {
	today := models.DayKey(now)

	c.mu.Lock()
	finished := c.day
	if finished.Date == today {
		c.mu.Unlock()
		return
	}
	c.day = models.PumpDay{Date: today}
	if c.extremes.Date != today {
		c.extremes = Extremes{Date: today}
	}
	c.mu.Unlock()

	if c.pumpDays == nil {
		return
	}
	if err := c.pumpDays.Record(finished); err != nil {
		c.logger.Error("daily pump totals not stored", zap.String("date", finished.Date), zap.Error(err))
		return
	}
	c.logger.Info("daily pump totals stored",
		zap.String("date", finished.Date),
		zap.Float64("pump1_seconds", finished.Pump1),
		zap.Float64("pump2_seconds", finished.Pump2),
		zap.Int("waterings", finished.Waterings))
}
