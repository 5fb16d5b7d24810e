package main

import (
	"net/http"

	"github.com/justinas/alice"

	"greenpot/planter/ui"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.FileServerFS(ui.Files))
	mux.HandleFunc("GET /ping", ping)
	mux.Handle("/api/", app.sessionManager.LoadAndSave(app.api))
	mux.Handle("GET /metrics", app.metrics)
	mux.Handle("GET /ws", app.feed)

	dynamic := alice.New(app.sessionManager.LoadAndSave, app.noSurf, app.authenticate)
	mux.Handle("GET /{$}", dynamic.ThenFunc(app.home))
	mux.Handle("GET /plants", dynamic.ThenFunc(app.plantList))
	mux.Handle("GET /sensors", dynamic.ThenFunc(app.sensors))
	mux.Handle("GET /config", dynamic.ThenFunc(app.configView))
	mux.Handle("GET /user/login", dynamic.ThenFunc(app.userLogin))
	mux.Handle("POST /user/login", dynamic.ThenFunc(app.userLoginPost))

	protected := dynamic.Append(app.requireAuthentication)
	mux.Handle("POST /plants/add", protected.ThenFunc(app.plantAddPost))
	mux.Handle("POST /plants/remove", protected.ThenFunc(app.plantRemovePost))
	mux.Handle("POST /plants/water", protected.ThenFunc(app.plantWaterPost))
	mux.Handle("POST /plants/clear", protected.ThenFunc(app.plantClearPost))
	mux.Handle("POST /config/import", protected.ThenFunc(app.configImportPost))
	mux.Handle("POST /user/logout", protected.ThenFunc(app.userLogoutPost))

	standard := alice.New(app.recoverPanic, app.logRequest, commonHeaders)
	return standard.Then(mux)
}
