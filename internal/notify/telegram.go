// Package notify sends operator alerts to a Telegram chat.
package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram posts controller alerts, at most one per subject per throttle
// window.
type Telegram struct {
	bot      sender
	chatID   int64
	throttle time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]time.Time
}

func NewTelegram(token string, chatID int64, throttle time.Duration, logger *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	logger.Info("telegram bot authorized", zap.String("username", bot.Self.UserName))
	return newTelegram(bot, chatID, throttle, logger), nil
}

func newTelegram(bot sender, chatID int64, throttle time.Duration, logger *zap.Logger) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		throttle: throttle,
		logger:   logger,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// allow reports whether subject may alert now and records the attempt.
func (t *Telegram) allow(subject string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[subject]; ok && now.Sub(last) < t.throttle {
		return false
	}
	t.last[subject] = now
	return true
}

func (t *Telegram) send(a controller.Alert, at time.Time) error {
	if !t.allow(a.Subject) {
		t.logger.Debug("alert throttled", zap.String("subject", a.Subject))
		return nil
	}
	msg := tgbotapi.NewMessage(t.chatID, formatAlert(a, at))
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	t.logger.Info("alert sent", zap.String("subject", a.Subject))
	return nil
}

func formatAlert(a controller.Alert, at time.Time) string {
	var sb strings.Builder
	sb.WriteString("<b>Planter alert</b>\n")
	sb.WriteString(fmt.Sprintf("<b>Time:</b> %s\n", at.Format("2006-01-02 15:04:05")))
	sb.WriteString(html.EscapeString(a.Message))
	return sb.String()
}

func (t *Telegram) OnCycle(_ context.Context, r controller.CycleReport) error {
	var firstErr error
	for _, a := range r.Alerts {
		if err := t.send(a, r.Time); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Telegram) OnWatering(_ context.Context, e models.WateringEvent) error {
	if e.Success {
		return nil
	}
	return t.send(controller.Alert{
		Subject: fmt.Sprintf("watering:%d", e.Position),
		Message: fmt.Sprintf("Watering %s at position %d failed: %s", e.Plant, e.Position, e.Error),
	}, e.Time)
}
