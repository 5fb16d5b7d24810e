package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
	"greenpot/planter/internal/site"
	"greenpot/planter/internal/validator"
)

const dashboardEvents = 20

func ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("OK"))
}

// plantViews assesses every installed plant against the latest snapshot.
func (app *application) plantViews() ([]plantView, error) {
	plants, err := app.plants.ListActive()
	if err != nil {
		return nil, err
	}
	s, _ := app.ctl.History().Latest()
	now := time.Now().UTC()

	views := make([]plantView, 0, len(plants))
	for _, p := range plants {
		a := care.Assess(p, s, now)
		views = append(views, plantView{
			Profile:      p,
			Assessment:   a,
			NeedsWater:   a.Due,
			NextWatering: care.NextWatering(p),
		})
	}
	return views, nil
}

func (app *application) home(w http.ResponseWriter, r *http.Request) {
	views, err := app.plantViews()
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	data := app.newTemplateData(r)
	data.Snapshot, data.HasSnapshot = app.ctl.History().Latest()
	data.Plants = views
	data.Extremes = app.ctl.Extremes()
	data.PumpToday = app.ctl.PumpDay()
	data.Alerts = app.ctl.LastReport().Alerts
	if err := app.ctl.LastError(); err != nil {
		data.LastError = err.Error()
	}
	app.render(w, r, http.StatusOK, "home.html", data)
}

type plantForm struct {
	Species             string `form:"species"`
	Position            string `form:"position"`
	Name                string `form:"name"`
	validator.Validator `form:"-"`
}

func (app *application) renderPlants(w http.ResponseWriter, r *http.Request, status int, form plantForm) {
	views, err := app.plantViews()
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	species, err := app.species.All()
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	data := app.newTemplateData(r)
	data.Plants = views
	data.Species = species
	data.Form = form
	app.render(w, r, status, "plants.html", data)
}

func (app *application) plantList(w http.ResponseWriter, r *http.Request) {
	app.renderPlants(w, r, http.StatusOK, plantForm{})
}

func (app *application) plantAddPost(w http.ResponseWriter, r *http.Request) {
	var form plantForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}

	form.CheckField(validator.NotBlank(form.Species), "species", "This field cannot be blank")
	form.CheckField(validator.MaxChars(form.Name, 100), "name", "This field cannot be more than 100 characters long")
	position, err := strconv.Atoi(strings.TrimSpace(form.Position))
	form.CheckField(err == nil && validator.Between(position, 0, site.MaxPosition), "position",
		fmt.Sprintf("This field must be a number between 0 and %d", site.MaxPosition))
	if !form.Valid() {
		app.renderPlants(w, r, http.StatusUnprocessableEntity, form)
		return
	}

	sp, err := app.species.Get(form.Species)
	if err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			form.AddFieldError("species", "Unknown species")
			app.renderPlants(w, r, http.StatusUnprocessableEntity, form)
		} else {
			app.serverError(w, r, err)
		}
		return
	}

	p, err := app.plants.Insert(sp.Profile(strings.TrimSpace(form.Name), position))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDuplicatePosition):
			form.AddFieldError("position", "This position is already occupied")
			app.renderPlants(w, r, http.StatusUnprocessableEntity, form)
		case errors.Is(err, models.ErrDuplicateName):
			form.AddFieldError("name", "A plant with this name is already installed")
			app.renderPlants(w, r, http.StatusUnprocessableEntity, form)
		default:
			app.serverError(w, r, err)
		}
		return
	}

	app.sessionManager.Put(r.Context(), "flash", fmt.Sprintf("%s added at position %d.", p.Name, p.Position))
	http.Redirect(w, r, "/plants", http.StatusSeeOther)
}

type positionForm struct {
	Position int `form:"position"`
}

func (app *application) decodePosition(w http.ResponseWriter, r *http.Request) (int, bool) {
	var form positionForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return 0, false
	}
	return form.Position, true
}

func (app *application) plantRemovePost(w http.ResponseWriter, r *http.Request) {
	pos, ok := app.decodePosition(w, r)
	if !ok {
		return
	}
	if err := app.plants.Remove(pos); err != nil {
		if errors.Is(err, models.ErrNoRecord) {
			app.clientError(w, http.StatusNotFound)
		} else {
			app.serverError(w, r, err)
		}
		return
	}
	app.sessionManager.Put(r.Context(), "flash", fmt.Sprintf("Plant at position %d removed.", pos))
	http.Redirect(w, r, "/plants", http.StatusSeeOther)
}

func (app *application) plantWaterPost(w http.ResponseWriter, r *http.Request) {
	pos, ok := app.decodePosition(w, r)
	if !ok {
		return
	}

	e, err := app.ctl.Water(r.Context(), pos, controller.SourceManual)
	switch {
	case err == nil:
		app.sessionManager.Put(r.Context(), "flash", fmt.Sprintf("Watered %s with %.0f ml.", e.Plant, e.AmountML))
	case errors.Is(err, controller.ErrUnknownPosition):
		app.clientError(w, http.StatusNotFound)
		return
	case errors.Is(err, controller.ErrTankLow), errors.Is(err, controller.ErrActuatorFailure):
		app.sessionManager.Put(r.Context(), "flash", "Watering failed: "+err.Error())
	default:
		app.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (app *application) plantClearPost(w http.ResponseWriter, r *http.Request) {
	pos, ok := app.decodePosition(w, r)
	if !ok {
		return
	}
	p, err := app.ctl.ClearError(pos)
	if err != nil {
		if errors.Is(err, controller.ErrUnknownPosition) {
			app.clientError(w, http.StatusNotFound)
		} else {
			app.serverError(w, r, err)
		}
		return
	}
	app.sessionManager.Put(r.Context(), "flash", fmt.Sprintf("%s is %s.", p.Name, p.Status))
	http.Redirect(w, r, "/plants", http.StatusSeeOther)
}

func (app *application) sensors(w http.ResponseWriter, r *http.Request) {
	events, err := app.events.Recent(dashboardEvents)
	if err != nil {
		app.serverError(w, r, err)
		return
	}
	days, err := app.pumpDays.Recent(models.PumpDayWindow)
	if err != nil {
		app.serverError(w, r, err)
		return
	}

	h := app.ctl.History()
	data := app.newTemplateData(r)
	data.History = h.Recent(h.Cap())
	data.Events = events
	data.PumpToday = app.ctl.PumpDay()
	data.PumpDays = days
	app.render(w, r, http.StatusOK, "sensors.html", data)
}

type configImportForm struct {
	Data                string `form:"data"`
	validator.Validator `form:"-"`
}

func (app *application) configView(w http.ResponseWriter, r *http.Request) {
	data := app.newTemplateData(r)
	data.Config = app.cfg
	app.render(w, r, http.StatusOK, "config.html", data)
}

func (app *application) configImportPost(w http.ResponseWriter, r *http.Request) {
	var form configImportForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}

	form.CheckField(validator.NotBlank(form.Data), "data", "This field cannot be blank")
	if form.Valid() {
		n, err := app.plants.Import([]byte(form.Data))
		if err == nil {
			app.sessionManager.Put(r.Context(), "flash", fmt.Sprintf("Imported %d plants.", n))
			http.Redirect(w, r, "/plants", http.StatusSeeOther)
			return
		}
		form.AddFieldError("data", err.Error())
	}

	data := app.newTemplateData(r)
	data.Config = app.cfg
	data.Form = form
	app.render(w, r, http.StatusUnprocessableEntity, "config.html", data)
}

type userLoginForm struct {
	Email               string `form:"email"`
	Password            string `form:"password"`
	validator.Validator `form:"-"`
}

func (app *application) userLogin(w http.ResponseWriter, r *http.Request) {
	data := app.newTemplateData(r)
	data.Form = userLoginForm{}
	app.render(w, r, http.StatusOK, "login.html", data)
}

func (app *application) userLoginPost(w http.ResponseWriter, r *http.Request) {
	var form userLoginForm
	if err := app.decodePostForm(r, &form); err != nil {
		app.clientError(w, http.StatusBadRequest)
		return
	}

	form.CheckField(validator.NotBlank(form.Email), "email", "This field cannot be blank")
	form.CheckField(validator.Matches(form.Email, validator.EmailRX), "email", "This field must be a valid email address")
	form.CheckField(validator.NotBlank(form.Password), "password", "This field cannot be blank")
	if !form.Valid() {
		data := app.newTemplateData(r)
		data.Form = form
		app.render(w, r, http.StatusUnprocessableEntity, "login.html", data)
		return
	}

	id, err := app.users.Authenticate(form.Email, form.Password)
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			form.AddNonFieldError("Email or password is incorrect")
			data := app.newTemplateData(r)
			data.Form = form
			app.render(w, r, http.StatusUnprocessableEntity, "login.html", data)
		} else {
			app.serverError(w, r, err)
		}
		return
	}

	if err := app.sessionManager.RenewToken(r.Context()); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.sessionManager.Put(r.Context(), "authenticatedUserID", id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (app *application) userLogoutPost(w http.ResponseWriter, r *http.Request) {
	if err := app.sessionManager.RenewToken(r.Context()); err != nil {
		app.serverError(w, r, err)
		return
	}
	app.sessionManager.Remove(r.Context(), "authenticatedUserID")
	app.sessionManager.Put(r.Context(), "flash", "You've been logged out successfully!")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
