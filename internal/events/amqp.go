// Package events publishes watering events and cycle summaries to a
// RabbitMQ exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"greenpot/planter/internal/care"
	"greenpot/planter/internal/config"
	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

const publishTimeout = 5 * time.Second

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	key      string
	logger   *zap.Logger
}

// Dial connects with retries and declares the topic exchange.
func Dial(cfg config.AMQP, logger *zap.Logger) (*Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	const maxRetries = 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		logger.Warn("amqp connect failed", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries), zap.Error(err))
		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to amqp after %d attempts: %w", maxRetries, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	logger.Info("amqp exchange declared", zap.String("exchange", cfg.Exchange))

	return &Publisher{conn: conn, ch: ch, exchange: cfg.Exchange, key: cfg.RoutingKey, logger: logger}, nil
}

func (p *Publisher) publish(ctx context.Context, key string, v any, at time.Time) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    at,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// OnWatering publishes e with the configured routing key suffixed by the
// result, e.g. watering.success.
func (p *Publisher) OnWatering(ctx context.Context, e models.WateringEvent) error {
	result := "success"
	if !e.Success {
		result = "failure"
	}
	return p.publish(ctx, p.key+"."+result, e, e.Time)
}

// OnCycle publishes a compact cycle summary on cycle.
func (p *Publisher) OnCycle(ctx context.Context, r controller.CycleReport) error {
	return p.publish(ctx, "cycle", CycleSummary{
		Time:     r.Time,
		Snapshot: r.Snapshot,
		Watered:  len(r.Watered),
		TankLow:  r.TankLow,
		Alerts:   len(r.Alerts),
		Error:    r.Err,
	}, r.Time)
}

type CycleSummary struct {
	Time     time.Time     `json:"timestamp"`
	Snapshot care.Snapshot `json:"snapshot"`
	Watered  int           `json:"watered"`
	TankLow  bool          `json:"tank_low"`
	Alerts   int           `json:"alerts"`
	Error    string        `json:"error,omitempty"`
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.logger.Warn("amqp channel close failed", zap.Error(err))
	}
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
