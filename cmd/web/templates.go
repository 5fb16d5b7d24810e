package main

import (
	"fmt"
	"html/template"
	"io/fs"
	"path/filepath"
	"time"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
	"greenpot/planter/ui"
)

// plantView is a profile with its assessment against the latest snapshot.
type plantView struct {
	Profile      care.Profile
	Assessment   care.Assessment
	NeedsWater   bool
	NextWatering time.Time
}

type templateData struct {
	CurrentYear     int
	Flash           string
	Form            any
	IsAuthenticated bool
	CSRFToken       string
	Snapshot        care.Snapshot
	HasSnapshot     bool
	Plants          []plantView
	Species         []models.Species
	Events          []models.WateringEvent
	History         []care.Snapshot
	PumpToday       models.PumpDay
	PumpDays        []models.PumpDay
	Extremes        controller.Extremes
	Alerts          []controller.Alert
	LastError       string
	Config          *config.Config
}

func humanDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("02 Jan 2006 at 15:04")
}

func humanTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanDate(*t)
}

func reading(v *float64, unit string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%s", *v, unit)
}

var functions = template.FuncMap{
	"humanDate": humanDate,
	"humanTime": humanTime,
	"reading":   reading,
}

func newTemplateCache() (map[string]*template.Template, error) {
	cache := map[string]*template.Template{}

	pages, err := fs.Glob(ui.Files, "html/pages/*.html")
	if err != nil {
		return nil, err
	}

	for _, page := range pages {
		name := filepath.Base(page)

		patterns := []string{
			"html/base.html",
			"html/partials/*.html",
			page,
		}

		ts, err := template.New(name).Funcs(functions).ParseFS(ui.Files, patterns...)
		if err != nil {
			return nil, err
		}
		cache[name] = ts
	}
	return cache, nil
}
