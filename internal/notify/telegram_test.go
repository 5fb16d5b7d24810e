package notify

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"greenpot/planter/internal/controller"
	"greenpot/planter/internal/models"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func TestTelegramThrottlesPerSubject(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	tg := newTelegram(bot, 42, 15*time.Minute, zap.NewNop())
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	tg.now = func() time.Time { return now }

	r := controller.CycleReport{Time: now, Alerts: []controller.Alert{
		{Subject: "tank", Message: "Water tank low (0.0% < 33.3%)"},
		{Subject: "plant:2", Message: "Pothos <2> needs attention"},
	}}
	if err := tg.OnCycle(context.Background(), r); err != nil {
		t.Fatalf("OnCycle failed: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent %d messages", len(bot.sent))
	}
	if bot.sent[0].ChatID != 42 || bot.sent[0].ParseMode != "HTML" {
		t.Fatalf("message = %+v", bot.sent[0])
	}
	if !strings.Contains(bot.sent[1].Text, "&lt;2&gt;") {
		t.Fatalf("message text not escaped: %q", bot.sent[1].Text)
	}

	now = now.Add(5 * time.Minute)
	tg.OnCycle(context.Background(), r)
	if len(bot.sent) != 2 {
		t.Fatalf("throttle let %d messages through", len(bot.sent)-2)
	}

	now = now.Add(15 * time.Minute)
	tg.OnCycle(context.Background(), r)
	if len(bot.sent) != 4 {
		t.Fatalf("sent %d messages after the window", len(bot.sent))
	}
}

func TestTelegramWateringFailures(t *testing.T) {
	t.Parallel()

	bot := &fakeBot{}
	tg := newTelegram(bot, 1, time.Minute, zap.NewNop())

	tg.OnWatering(context.Background(), models.WateringEvent{Position: 1, Plant: "Aloe Vera", Success: true})
	if len(bot.sent) != 0 {
		t.Fatal("alerted on a successful watering")
	}
	tg.OnWatering(context.Background(), models.WateringEvent{Position: 1, Plant: "Aloe Vera", Error: "relay stuck"})
	if len(bot.sent) != 1 || !strings.Contains(bot.sent[0].Text, "relay stuck") {
		t.Fatalf("sent = %+v", bot.sent)
	}
}
