// Package websync mirrors readings and watering events to a remote
// dashboard and polls it for remote watering commands.
package websync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

const userAgent = "Planter-Controller/1.0"

// Waterer runs a single watering on request.
type Waterer interface {
	Water(ctx context.Context, position int, source string) (models.WateringEvent, error)
}

type SensorPayload struct {
	Time         time.Time `json:"timestamp"`
	Temperature  *float64  `json:"temperature"`
	Humidity     *float64  `json:"humidity"`
	SoilMoisture *float64  `json:"soil_moisture"`
	Light        *float64  `json:"light_level"`
	WaterLevel   *float64  `json:"water_level"`
	Source       string    `json:"source"`
}

func NewSensorPayload(s care.Snapshot) SensorPayload {
	return SensorPayload{
		Time:         s.Time,
		Temperature:  s.Temperature,
		Humidity:     s.Humidity,
		SoilMoisture: s.SoilMoisture,
		Light:        s.Light,
		WaterLevel:   s.WaterLevel,
		Source:       "raspberry_pi",
	}
}

type WateringPayload struct {
	Position    int       `json:"plant_id"`
	Plant       string    `json:"plant_name"`
	WaterAmount float64   `json:"water_amount"`
	Success     bool      `json:"success"`
	Time        time.Time `json:"timestamp"`
	Source      string    `json:"source"`
}

type hardwareConfigPayload struct {
	HardwareID string    `json:"hardware_id"`
	Config     any       `json:"config"`
	Time       time.Time `json:"timestamp"`
}

// Command is a watering request queued on the remote dashboard.
type Command struct {
	ID          string   `json:"id"`
	Position    *int     `json:"position"`
	WaterAmount *float64 `json:"water_amount,omitempty"`
}

type commandList struct {
	Commands []Command `json:"commands"`
}

type confirmPayload struct {
	CommandID string    `json:"command_id"`
	Success   bool      `json:"success"`
	Time      time.Time `json:"timestamp"`
}

// REST talks to the remote dashboard's JSON API under BaseURL/api.
type REST struct {
	base       string
	apiKey     string
	hardwareID string
	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

func NewREST(cfg config.Sync, logger *zap.Logger) *REST {
	return &REST{
		base:       strings.TrimRight(cfg.BaseURL, "/") + "/api",
		apiKey:     cfg.APIKey,
		hardwareID: cfg.HardwareID,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *REST) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	endpoint := r.base + path
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	if r.apiKey != "" {
		req.Header.Set("X-API-Key", r.apiKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, endpoint, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (r *REST) OnCycle(ctx context.Context, rep controller.CycleReport) error {
	if err := r.do(ctx, http.MethodPost, "/sensor-data", NewSensorPayload(rep.Snapshot), nil); err != nil {
		return err
	}
	r.logger.Debug("sensor data mirrored")
	return nil
}

func (r *REST) OnWatering(ctx context.Context, e models.WateringEvent) error {
	return r.do(ctx, http.MethodPost, "/watering-events", WateringPayload{
		Position:    e.Position,
		Plant:       e.Plant,
		WaterAmount: e.AmountML,
		Success:     e.Success,
		Time:        e.Time,
		Source:      "raspberry_pi_" + e.Source,
	}, nil)
}

// SyncConfig pushes the hardware configuration once at startup.
func (r *REST) SyncConfig(ctx context.Context, hw config.Hardware) error {
	err := r.do(ctx, http.MethodPost, "/hardware/config", hardwareConfigPayload{
		HardwareID: r.hardwareID,
		Config:     hw,
		Time:       r.now(),
	}, nil)
	if err != nil {
		return err
	}
	r.logger.Info("hardware config synced", zap.String("hardware_id", r.hardwareID))
	return nil
}

func (r *REST) Commands(ctx context.Context) ([]Command, error) {
	var list commandList
	if err := r.do(ctx, http.MethodGet, "/hardware/watering-commands", nil, &list); err != nil {
		return nil, err
	}
	return list.Commands, nil
}

func (r *REST) Confirm(ctx context.Context, id string, success bool) error {
	return r.do(ctx, http.MethodPost, "/hardware/confirm-command", confirmPayload{
		CommandID: id,
		Success:   success,
		Time:      r.now(),
	}, nil)
}

// PollCommands executes queued remote commands every interval until ctx is
// cancelled. Every command is confirmed, including the ones that failed.
func (r *REST) PollCommands(ctx context.Context, interval time.Duration, w Waterer) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.runCommands(ctx, w)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *REST) runCommands(ctx context.Context, w Waterer) {
	cmds, err := r.Commands(ctx)
	if err != nil {
		r.logger.Warn("command poll failed", zap.Error(err))
		return
	}
	for _, cmd := range cmds {
		if cmd.Position == nil {
			r.logger.Warn("command without position ignored", zap.String("command_id", cmd.ID))
			continue
		}
		r.logger.Info("remote watering command", zap.String("command_id", cmd.ID), zap.Int("position", *cmd.Position))
		_, werr := w.Water(ctx, *cmd.Position, controller.SourceRemote)
		if werr != nil {
			r.logger.Error("remote watering failed", zap.String("command_id", cmd.ID), zap.Error(werr))
		}
		if err := r.Confirm(ctx, cmd.ID, werr == nil); err != nil {
			r.logger.Warn("command confirmation failed", zap.String("command_id", cmd.ID), zap.Error(err))
		}
	}
}
