package websync

import (
	"context"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

type setter interface {
	Set(ctx context.Context, v any) error
}

// Firebase mirrors the planter state into a Realtime Database under
// planter/.
type Firebase struct {
	ref    func(path string) setter
	logger *zap.Logger
}

func NewFirebase(ctx context.Context, cfg config.Sync, logger *zap.Logger) (*Firebase, error) {
	var opt option.ClientOption
	if strings.HasPrefix(strings.TrimSpace(cfg.FirebaseCredentials), "{") {
		opt = option.WithCredentialsJSON([]byte(cfg.FirebaseCredentials))
	} else {
		opt = option.WithCredentialsFile(cfg.FirebaseCredentials)
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{DatabaseURL: cfg.FirebaseURL}, opt)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("get firebase database client: %w", err)
	}
	logger.Info("firebase mirror ready", zap.String("url", cfg.FirebaseURL))

	return &Firebase{
		ref:    func(path string) setter { return client.NewRef(path) },
		logger: logger,
	}, nil
}

func (f *Firebase) OnCycle(ctx context.Context, r controller.CycleReport) error {
	if err := f.ref("planter/sensors/latest").Set(ctx, NewSensorPayload(r.Snapshot)); err != nil {
		return fmt.Errorf("mirror sensors: %w", err)
	}
	if err := f.ref("planter/plants").Set(ctx, r.Plants); err != nil {
		return fmt.Errorf("mirror plants: %w", err)
	}
	return nil
}

func (f *Firebase) OnWatering(ctx context.Context, e models.WateringEvent) error {
	if e.ID == "" {
		return nil
	}
	if err := f.ref("planter/watering_events/"+e.ID).Set(ctx, e); err != nil {
		return fmt.Errorf("mirror watering event: %w", err)
	}
	return nil
}
