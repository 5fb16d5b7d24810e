// Package site serves the planter's JSON API with gin.
package site

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

const (
	chartPoints    = 200
	defaultHistory = 10
	maxLimit       = 500
	// MaxPosition is the highest planter slot.
	MaxPosition = care.MaxPosition
)

// Controller is the slice of the controller the API drives.
type Controller interface {
	LastReport() controller.CycleReport
	LastError() error
	Extremes() controller.Extremes
	PumpDay() models.PumpDay
	History() *controller.History
	Water(ctx context.Context, position int, source string) (models.WateringEvent, error)
	WaterAll(ctx context.Context, source string) ([]models.WateringEvent, error)
	ClearError(position int) (care.Profile, error)
}

type Deps struct {
	Controller Controller
	Plants     models.PlantModelInterface
	Species    models.SpeciesModelInterface
	Readings   models.ReadingModelInterface
	Events     models.WateringModelInterface
	PumpDays   models.PumpTimeModelInterface
	Logger     *zap.Logger
	// Token, when set, is required as a bearer token on mutating routes.
	Token string
	// Session reports whether r carries a logged-in dashboard session. It
	// authorizes same-origin writes when Token is empty.
	Session func(r *http.Request) bool
}

type API struct {
	ctl      Controller
	plants   models.PlantModelInterface
	species  models.SpeciesModelInterface
	readings models.ReadingModelInterface
	events   models.WateringModelInterface
	pumpDays models.PumpTimeModelInterface
	logger   *zap.Logger
	token    string
	session  func(r *http.Request) bool
	now      func() time.Time
}

func New(d Deps) *API {
	return &API{
		ctl:      d.Controller,
		plants:   d.Plants,
		species:  d.Species,
		readings: d.Readings,
		events:   d.Events,
		pumpDays: d.PumpDays,
		logger:   d.Logger,
		token:    d.Token,
		session:  d.Session,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handler returns the gin engine with every route mounted under /api.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(requestLogger(a.logger), gin.Recovery())

	api := router.Group("/api")
	api.GET("/status", a.status)
	api.GET("/sensors", a.sensors)
	api.GET("/sensors/history", a.sensorHistory)
	api.GET("/sensors/chart", a.sensorChart)
	api.GET("/plants", a.listPlants)
	api.GET("/plants/status", a.plantsStatus)
	api.GET("/plants/:position/status", a.plantStatus)
	api.GET("/catalog", a.catalog)
	api.GET("/watering-events", a.wateringEvents)
	api.GET("/pump-times", a.pumpTimes)
	api.GET("/config", a.exportConfig)

	write := api.Group("", a.requireWriter)
	write.POST("/plants", a.addPlant)
	write.DELETE("/plants/:position", a.removePlant)
	write.POST("/plants/:position/clear", a.clearPlant)
	write.POST("/water/all", a.waterAll)
	write.POST("/water/:position", a.waterPlant)
	write.POST("/config", a.importConfig)

	return router
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("api request",
			zap.String("ip", c.ClientIP()),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("error", c.Errors.ByType(gin.ErrorTypePrivate).String()),
		)
	}
}

func (a *API) requireWriter(c *gin.Context) {
	switch {
	case a.token != "":
		auth := c.GetHeader("Authorization")
		if got, ok := strings.CutPrefix(auth, "Bearer "); !ok || got != a.token {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
		}
	case a.session != nil:
		if !a.session(c.Request) || !sameOrigin(c.Request) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required"})
		}
	}
}

// sameOrigin requires an Origin header naming the host that was asked.
func sameOrigin(r *http.Request) bool {
	u, err := url.Parse(r.Header.Get("Origin"))
	return err == nil && u.Host != "" && u.Host == r.Host
}

// fail maps err onto a status code and writes the JSON error body.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNoRecord), errors.Is(err, controller.ErrUnknownPosition):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrDuplicatePosition), errors.Is(err, models.ErrDuplicateName):
		status = http.StatusConflict
	case errors.Is(err, controller.ErrTankLow):
		status = http.StatusServiceUnavailable
	case errors.Is(err, controller.ErrActuatorFailure):
		status = http.StatusBadGateway
	case errors.Is(err, care.ErrInvalidBounds), errors.Is(err, care.ErrInvalidAmount),
		errors.Is(err, care.ErrInvalidFrequency), errors.Is(err, care.ErrInvalidPosition),
		errors.Is(err, care.ErrUnknownStatus), errors.Is(err, errBadRequest):
		status = http.StatusBadRequest
	}
	c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

var errBadRequest = errors.New("bad request")

func positionParam(c *gin.Context) (int, bool) {
	pos, err := strconv.Atoi(c.Param("position"))
	if err != nil || pos < 0 || pos > MaxPosition {
		c.JSON(http.StatusBadRequest, gin.H{"error": "position must be an integer between 0 and " + strconv.Itoa(MaxPosition)})
		return 0, false
	}
	return pos, true
}

func limitQuery(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return min(n, maxLimit)
}
