package main

import (
	"context"
	"errors"
	"flag"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/go-playground/form/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/events"
	"greenpot/planter/internal/hardware"
	"greenpot/planter/internal/livefeed"
	"greenpot/planter/internal/logging"
	"greenpot/planter/internal/models"
	"greenpot/planter/internal/notify"
	"greenpot/planter/internal/site"
	"greenpot/planter/internal/websync"
	"greenpot/planter/mqtt"
)

type application struct {
	logger         *zap.Logger
	cfg            *config.Config
	ctl            *controller.Controller
	plants         models.PlantModelInterface
	species        models.SpeciesModelInterface
	events         models.WateringModelInterface
	pumpDays       models.PumpTimeModelInterface
	users          models.UserModelInterface
	templateCache  map[string]*template.Template
	formDecoder    *form.Decoder
	sessionManager *scs.SessionManager
	api            http.Handler
	feed           http.Handler
	metrics        http.Handler
}

func main() {
	configPath := flag.String("config", "planter.yaml", "Path to the YAML config file")
	debug := flag.Bool("debug", false, "Use development logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("load config", zap.Error(err))
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development || *debug)
	if err != nil {
		zap.NewExample().Fatal("build logger", zap.Error(err))
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("planter stopped", zap.Error(err))
	}
}

func openBoard(cfg config.Hardware, logger *zap.Logger) (hardware.Board, error) {
	if cfg.Mode == "pi" {
		return hardware.NewPiBoard(cfg, logger)
	}
	logger.Info("using simulated hardware", zap.Int64("seed", cfg.Seed))
	return hardware.NewSimulator(cfg.Seed, logger), nil
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := models.OpenDB(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	species := &models.SpeciesModel{DB: db}
	if n, err := species.Seed(); err != nil {
		return err
	} else if n > 0 {
		logger.Info("species catalog seeded", zap.Int("species", n))
	}
	users := &models.UserModel{DB: db}
	created, err := users.SeedAdmin(cfg.Admin.Name, cfg.Admin.Email, cfg.Admin.Password)
	if err != nil {
		logger.Error("seeding admin user", zap.Error(err))
	} else if created {
		logger.Info("admin user created", zap.String("email", cfg.Admin.Email))
	}

	board, err := openBoard(cfg.Hardware, logger)
	if err != nil {
		return err
	}
	defer board.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	plants := &models.PlantModel{DB: db}
	readings := &models.ReadingModel{DB: db}
	waterings := &models.WateringModel{DB: db}
	pumpDays := &models.PumpTimeModel{DB: db}
	ctl := controller.New(controller.Deps{
		Board:    board,
		Plants:   plants,
		Readings: readings,
		Events:   waterings,
		PumpDays: pumpDays,
		Logger:   logger,
		Metrics:  controller.NewMetrics(reg),
	}, cfg.Controller)

	feed := livefeed.NewHub(logger)
	ctl.Subscribe(feed)
	closers := subscribeObservers(ctx, cfg, ctl, logger)
	defer func() {
		for _, c := range closers {
			c()
		}
	}()

	templateCache, err := newTemplateCache()
	if err != nil {
		return err
	}

	if cfg.HTTP.APIToken == "" {
		logger.Warn("http.api_token is empty, api writes require a dashboard login",
			zap.Bool("mqtt", cfg.MQTT.Enabled), zap.String("sync", cfg.Sync.Mode))
	}

	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.New(db)
	sessionManager.Lifetime = 12 * time.Hour
	sessionManager.Cookie.Secure = cfg.HTTP.SecureCookies

	app := &application{
		logger:         logger,
		cfg:            cfg,
		ctl:            ctl,
		plants:         plants,
		species:        species,
		events:         waterings,
		pumpDays:       pumpDays,
		users:          users,
		templateCache:  templateCache,
		formDecoder:    form.NewDecoder(),
		sessionManager: sessionManager,
		feed:           feed,
		metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		api: site.New(site.Deps{
			Controller: ctl,
			Plants:     plants,
			Species:    species,
			Readings:   readings,
			Events:     waterings,
			PumpDays:   pumpDays,
			Logger:     logger.Named("api"),
			Session:    hasSession(sessionManager),
			Token:      cfg.HTTP.APIToken,
		}).Handler(),
	}

	go func() {
		if err := ctl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("controller stopped", zap.Error(err))
		}
	}()
	go ctl.RunHousekeeping(ctx)

	srv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     app.routes(),
		ErrorLog:    zap.NewStdLog(logger),
		IdleTimeout: time.Minute,
		ReadTimeout: 5 * time.Second,
		// Manual watering holds the request for up to the pump safety timeout.
		WriteTimeout: cfg.Controller.SafetyTimeout + 10*time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// subscribeObservers connects the optional outbound integrations. A failing
// integration is logged and left out; the controller runs without it.
func subscribeObservers(ctx context.Context, cfg *config.Config, ctl *controller.Controller, logger *zap.Logger) []func() {
	var closers []func()

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewClient(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			logger.Error("mqtt disabled", zap.Error(err))
		} else {
			ctl.Subscribe(client)
			if err := client.HandleWaterCommands(ctx, ctl); err != nil {
				logger.Error("mqtt water commands unavailable", zap.Error(err))
			}
			closers = append(closers, client.Close)
		}
	}

	switch cfg.Sync.Mode {
	case "rest":
		rest := websync.NewREST(cfg.Sync, logger.Named("websync"))
		ctl.Subscribe(rest)
		go func() {
			if err := rest.SyncConfig(ctx, cfg.Hardware); err != nil {
				logger.Warn("hardware config sync failed", zap.Error(err))
			}
		}()
		go rest.PollCommands(ctx, cfg.Sync.CommandPoll, ctl)
	case "firebase":
		fb, err := websync.NewFirebase(ctx, cfg.Sync, logger.Named("firebase"))
		if err != nil {
			logger.Error("firebase mirror disabled", zap.Error(err))
		} else {
			ctl.Subscribe(fb)
		}
	}

	if cfg.AMQP.Enabled {
		pub, err := events.Dial(cfg.AMQP, logger.Named("amqp"))
		if err != nil {
			logger.Error("amqp publisher disabled", zap.Error(err))
		} else {
			ctl.Subscribe(pub)
			closers = append(closers, func() { pub.Close() })
		}
	}

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Throttle, logger.Named("telegram"))
		if err != nil {
			logger.Error("telegram alerts disabled", zap.Error(err))
		} else {
			ctl.Subscribe(tg)
		}
	}

	return closers
}
