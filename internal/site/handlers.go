package site

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
	"greenpot/planter/internal/validator"
)

type statusResponse struct {
	Time       string              `json:"timestamp"`
	Healthy    bool                `json:"healthy"`
	LastCycle  string              `json:"last_cycle,omitempty"`
	LastError  string              `json:"last_error,omitempty"`
	TankLow    bool                `json:"tank_low"`
	WaterLevel *float64            `json:"water_level"`
	Plants     int                 `json:"plants"`
	Statuses   map[care.Status]int `json:"statuses"`
	Extremes   controller.Extremes `json:"extremes"`
	PumpToday  models.PumpDay      `json:"pump_today"`
	Alerts     []controller.Alert  `json:"alerts"`
}

func (a *API) status(c *gin.Context) {
	rep := a.ctl.LastReport()
	resp := statusResponse{
		Time:       a.now().Format(time.RFC3339),
		Healthy:    a.ctl.LastError() == nil,
		TankLow:    rep.TankLow,
		WaterLevel: rep.Snapshot.WaterLevel,
		Plants:     len(rep.Plants),
		Statuses:   make(map[care.Status]int),
		Extremes:   a.ctl.Extremes(),
		PumpToday:  a.ctl.PumpDay(),
		Alerts:     rep.Alerts,
	}
	if !rep.Time.IsZero() {
		resp.LastCycle = rep.Time.Format(time.RFC3339)
	}
	if err := a.ctl.LastError(); err != nil {
		resp.LastError = err.Error()
	}
	for _, p := range rep.Plants {
		resp.Statuses[p.Status]++
	}
	c.JSON(http.StatusOK, resp)
}

// sensors returns the newest snapshot, from memory when the controller has
// one and from the store otherwise.
func (a *API) sensors(c *gin.Context) {
	if s, ok := a.ctl.History().Latest(); ok {
		c.JSON(http.StatusOK, s)
		return
	}
	s, err := a.readings.Latest()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (a *API) sensorHistory(c *gin.Context) {
	limit := limitQuery(c, defaultHistory)
	h := a.ctl.History()
	if h.Len() >= limit {
		c.JSON(http.StatusOK, h.Recent(limit))
		return
	}
	list, err := a.readings.History(limit)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []care.Snapshot{}
	}
	c.JSON(http.StatusOK, list)
}

func (a *API) sensorChart(c *gin.Context) {
	list, err := a.readings.Chart(chartPoints)
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []care.Snapshot{}
	}
	c.JSON(http.StatusOK, list)
}

func (a *API) listPlants(c *gin.Context) {
	plants, err := a.plants.ListActive()
	if err != nil {
		fail(c, err)
		return
	}
	if plants == nil {
		plants = []care.Profile{}
	}
	c.JSON(http.StatusOK, plants)
}

type plantStatus struct {
	Plant        care.Profile    `json:"plant"`
	Assessment   care.Assessment `json:"assessment"`
	NextWatering *string         `json:"next_watering"`
}

func (a *API) assess(p care.Profile) plantStatus {
	s, _ := a.ctl.History().Latest()
	ps := plantStatus{Plant: p, Assessment: care.Assess(p, s, a.now())}
	if next := care.NextWatering(p); !next.IsZero() {
		v := next.Format(time.RFC3339)
		ps.NextWatering = &v
	}
	return ps
}

func (a *API) plantsStatus(c *gin.Context) {
	plants, err := a.plants.ListActive()
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]plantStatus, 0, len(plants))
	for _, p := range plants {
		out = append(out, a.assess(p))
	}
	c.JSON(http.StatusOK, out)
}

func (a *API) plantStatus(c *gin.Context) {
	pos, ok := positionParam(c)
	if !ok {
		return
	}
	p, err := a.plants.Get(pos)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a.assess(p))
}

func (a *API) catalog(c *gin.Context) {
	all, err := a.species.All()
	if err != nil {
		fail(c, err)
		return
	}
	if all == nil {
		all = []models.Species{}
	}
	c.JSON(http.StatusOK, all)
}

func (a *API) wateringEvents(c *gin.Context) {
	limit := limitQuery(c, 50)
	var (
		list []models.WateringEvent
		err  error
	)
	if p := c.Query("position"); p != "" {
		pos, perr := strconv.Atoi(p)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "position must be an integer"})
			return
		}
		list, err = a.events.ForPosition(pos, limit)
	} else {
		list, err = a.events.Recent(limit)
	}
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []models.WateringEvent{}
	}
	c.JSON(http.StatusOK, list)
}

func (a *API) pumpTimes(c *gin.Context) {
	days, err := a.pumpDays.Recent(limitQuery(c, models.PumpDayWindow))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"today": a.ctl.PumpDay(), "days": days})
}

type addPlantRequest struct {
	Species  string `json:"species"`
	Position *int   `json:"position"`
	Name     string `json:"name"`

	validator.Validator `json:"-"`
}

func (a *API) addPlant(c *gin.Context) {
	var req addPlantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	req.CheckField(validator.NotBlank(req.Species), "species", "This field cannot be blank")
	req.CheckField(req.Position != nil, "position", "This field is required")
	if req.Position != nil {
		req.CheckField(validator.Between(*req.Position, 0, MaxPosition), "position", fmt.Sprintf("Must be between 0 and %d", MaxPosition))
	}
	req.CheckField(validator.MaxChars(req.Name, 100), "name", "This field cannot be more than 100 characters long")
	if !req.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "fields": req.FieldErrors})
		return
	}

	sp, err := a.species.Get(req.Species)
	if err != nil {
		fail(c, err)
		return
	}
	p, err := a.plants.Insert(sp.Profile(req.Name, *req.Position))
	if err != nil {
		fail(c, err)
		return
	}
	a.logger.Info("plant added", zap.String("plant", p.Name), zap.String("species", p.Species), zap.Int("position", p.Position))
	c.JSON(http.StatusCreated, p)
}

func (a *API) removePlant(c *gin.Context) {
	pos, ok := positionParam(c)
	if !ok {
		return
	}
	if err := a.plants.Remove(pos); err != nil {
		fail(c, err)
		return
	}
	a.logger.Info("plant removed", zap.Int("position", pos))
	c.Status(http.StatusNoContent)
}

func (a *API) clearPlant(c *gin.Context) {
	pos, ok := positionParam(c)
	if !ok {
		return
	}
	p, err := a.ctl.ClearError(pos)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) waterPlant(c *gin.Context) {
	pos, ok := positionParam(c)
	if !ok {
		return
	}
	e, err := a.ctl.Water(c.Request.Context(), pos, controller.SourceManual)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (a *API) waterAll(c *gin.Context) {
	events, err := a.ctl.WaterAll(c.Request.Context(), controller.SourceManual)
	if events == nil {
		events = []models.WateringEvent{}
	}
	if err != nil {
		if len(events) == 0 {
			fail(c, err)
			return
		}
		// Some plants were watered.
		c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "events": events})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (a *API) exportConfig(c *gin.Context) {
	data, err := a.plants.Export()
	if err != nil {
		fail(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

func (a *API) importConfig(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	n, err := a.plants.Import(data)
	if err != nil {
		fail(c, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	a.logger.Info("plant config imported", zap.Int("plants", n))
	c.JSON(http.StatusOK, gin.H{"imported": n})
}
