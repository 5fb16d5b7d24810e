package main

import (
	"bytes"
	"html"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/form/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/hardware"
	"greenpot/planter/internal/livefeed"
	"greenpot/planter/internal/models"
	"greenpot/planter/internal/site"
)

const (
	testEmail    = "admin@example.com"
	testPassword = "pa55word"
)

var csrfTokenRX = regexp.MustCompile(`<input type='hidden' name='csrf_token' value='(.+)'>`)

func extractCSRFToken(t *testing.T, body string) string {
	matches := csrfTokenRX.FindStringSubmatch(body)
	if len(matches) < 2 {
		t.Fatal("no csrf token found in body")
	}
	return html.UnescapeString(matches[1])
}

func newTestApplication(t *testing.T) *application {
	t.Helper()

	db, err := models.OpenDB(filepath.Join(t.TempDir(), "planter.db"))
	if err != nil {
		t.Fatalf("OpenDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	cfg.HTTP.SecureCookies = true

	species := &models.SpeciesModel{DB: db}
	if _, err := species.Seed(); err != nil {
		t.Fatal(err)
	}
	users := &models.UserModel{DB: db}
	if _, err := users.SeedAdmin("admin", testEmail, testPassword); err != nil {
		t.Fatal(err)
	}

	plants := &models.PlantModel{DB: db}
	readings := &models.ReadingModel{DB: db}
	events := &models.WateringModel{DB: db}
	pumpDays := &models.PumpTimeModel{DB: db}
	ctl := controller.New(controller.Deps{
		Board:    hardware.NewSimulator(1, zap.NewNop()),
		Plants:   plants,
		Readings: readings,
		Events:   events,
		PumpDays: pumpDays,
	}, cfg.Controller)

	templateCache, err := newTemplateCache()
	if err != nil {
		t.Fatal(err)
	}

	sessionManager := scs.New()
	sessionManager.Cookie.Secure = true

	return &application{
		logger:         zap.NewNop(),
		cfg:            cfg,
		ctl:            ctl,
		plants:         plants,
		species:        species,
		events:         events,
		pumpDays:       pumpDays,
		users:          users,
		templateCache:  templateCache,
		formDecoder:    form.NewDecoder(),
		sessionManager: sessionManager,
		feed:           livefeed.NewHub(zap.NewNop()),
		metrics:        promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{}),
		api: site.New(site.Deps{
			Controller: ctl,
			Plants:     plants,
			Species:    species,
			Readings:   readings,
			Events:     events,
			PumpDays:   pumpDays,
			Logger:     zap.NewNop(),
			Session:    hasSession(sessionManager),
		}).Handler(),
	}
}

type testServer struct {
	*httptest.Server
}

func newTestServer(t *testing.T, h http.Handler) *testServer {
	ts := httptest.NewTLSServer(h)
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ts.Client().Jar = jar
	ts.Client().CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &testServer{ts}
}

func (ts *testServer) get(t *testing.T, urlPath string) (int, http.Header, string) {
	rs, err := ts.Client().Get(ts.URL + urlPath)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(bytes.TrimSpace(body))
}

func (ts *testServer) postForm(t *testing.T, urlPath string, form url.Values) (int, http.Header, string) {
	rs, err := ts.Client().PostForm(ts.URL+urlPath, form)
	if err != nil {
		t.Fatal(err)
	}
	defer rs.Body.Close()

	body, err := io.ReadAll(rs.Body)
	if err != nil {
		t.Fatal(err)
	}
	return rs.StatusCode, rs.Header, string(bytes.TrimSpace(body))
}

// login signs the seeded admin in and returns a fresh CSRF token.
func (ts *testServer) login(t *testing.T) string {
	t.Helper()

	_, _, body := ts.get(t, "/user/login")
	form := url.Values{}
	form.Add("email", testEmail)
	form.Add("password", testPassword)
	form.Add("csrf_token", extractCSRFToken(t, body))
	if code, _, _ := ts.postForm(t, "/user/login", form); code != http.StatusSeeOther {
		t.Fatalf("login status = %d", code)
	}

	_, _, body = ts.get(t, "/plants")
	return extractCSRFToken(t, body)
}
