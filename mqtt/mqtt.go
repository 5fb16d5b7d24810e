package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

// Client publishes planter state to the broker and accepts watering
// commands on <prefix>/water.
type Client struct {
	client mqtt.Client
	cfg    config.MQTT
	logger *zap.Logger
}

// NewClient connects to the broker, retrying up to cfg.MaxRetries times.
func NewClient(cfg config.MQTT, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		client := mqtt.NewClient(opts)
		token := client.Connect()
		if token.WaitTimeout(cfg.RetryInterval) && token.Error() == nil {
			logger.Info("connected to mqtt broker", zap.String("broker", cfg.BrokerURL))
			return &Client{client: client, cfg: cfg, logger: logger}, nil
		}
		lastErr = token.Error()
		if lastErr == nil {
			lastErr = errors.New("connect timed out")
		}
		logger.Warn("mqtt connect failed",
			zap.Int("attempt", attempt), zap.Int("max_retries", retries), zap.Error(lastErr))
		if attempt < retries {
			time.Sleep(cfg.RetryInterval)
		}
	}
	return nil, fmt.Errorf("connect to mqtt broker %s after %d attempts: %w", cfg.BrokerURL, retries, lastErr)
}

func (c *Client) topic(name string) string {
	return c.cfg.TopicPrefix + "/" + name
}

// Publish sends payload without waiting for the broker acknowledgement.
func (c *Client) Publish(topic string, payload []byte) {
	if !c.client.IsConnected() {
		c.logger.Warn("mqtt not connected, dropping message", zap.String("topic", topic))
		return
	}
	token := c.client.Publish(topic, c.cfg.QoS, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			c.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}()
	c.logger.Debug("mqtt published", zap.String("topic", topic), zap.Int("bytes", len(payload)))
}

func (c *Client) publishJSON(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	c.Publish(c.topic(name), b)
	return nil
}

func (c *Client) OnCycle(_ context.Context, r controller.CycleReport) error {
	err := errors.Join(
		c.publishJSON("sensors", NewSensorMessage(r)),
		c.publishJSON("plants", r.Plants),
	)
	for _, a := range r.Alerts {
		c.Publish(c.topic("alerts"), []byte(a.Message))
	}
	return err
}

func (c *Client) OnWatering(_ context.Context, e models.WateringEvent) error {
	return c.publishJSON("events", e)
}

// Waterer runs watering requests received over MQTT.
type Waterer interface {
	Water(ctx context.Context, position int, source string) (models.WateringEvent, error)
	WaterAll(ctx context.Context, source string) ([]models.WateringEvent, error)
}

// HandleWaterCommands subscribes to <prefix>/water. Commands run in their
// own goroutine so the paho router is not blocked for the pump run.
func (c *Client) HandleWaterCommands(ctx context.Context, w Waterer) error {
	topic := c.topic("water")
	token := c.client.Subscribe(topic, c.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		cmd, err := ParseWaterCommand(msg.Payload())
		if err != nil {
			c.logger.Warn("bad water command", zap.String("payload", string(msg.Payload())), zap.Error(err))
			return
		}
		go c.run(ctx, w, cmd)
	})
	if !token.WaitTimeout(c.cfg.RetryInterval) {
		return fmt.Errorf("subscribe %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	c.logger.Info("listening for water commands", zap.String("topic", topic))
	return nil
}

func (c *Client) run(ctx context.Context, w Waterer, cmd WaterCommand) {
	if cmd.All {
		if _, err := w.WaterAll(ctx, controller.SourceMQTT); err != nil {
			c.logger.Error("mqtt water all failed", zap.Error(err))
		}
		return
	}
	if _, err := w.Water(ctx, cmd.Position, controller.SourceMQTT); err != nil {
		c.logger.Error("mqtt water failed", zap.Int("position", cmd.Position), zap.Error(err))
	}
}

// Close disconnects, waiting up to 250ms for in-flight messages.
func (c *Client) Close() {
	if c.client.IsConnected() {
		c.logger.Info("disconnecting from mqtt broker")
		c.client.Disconnect(250)
	}
}
