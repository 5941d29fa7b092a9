package notify

import (
	"context"
	"fmt"
	"time"
)

// --- Discord ---

type Discord struct {
	WebhookURL string
}

func (d *Discord) Name() string { return "Discord" }
func (d *Discord) Send(ctx context.Context, title, message string) error {
	payload := map[string]interface{}{
		"username": "slipway",
		"embeds": []map[string]interface{}{{
			"title":       title,
			"description": message,
			"color":       3447003,
			"timestamp":   time.Now().Format(time.RFC3339),
		}},
	}
	return postJSON(ctx, d.WebhookURL, payload)
}

// --- Slack ---

type Slack struct {
	WebhookURL string
}

func (s *Slack) Name() string { return "Slack" }
func (s *Slack) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{"text": fmt.Sprintf("*%s*\n%s", title, message)}
	return postJSON(ctx, s.WebhookURL, payload)
}

// --- Telegram ---

var telegramAPIBase = "https://api.telegram.org"

type Telegram struct{ BotToken, ChatID string }

func (t *Telegram) Name() string { return "Telegram" }
func (t *Telegram) Send(ctx context.Context, title, message string) error {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", telegramAPIBase, t.BotToken)
	payload := map[string]string{
		"chat_id":    t.ChatID,
		"text":       fmt.Sprintf("<b>%s</b>\n%s", title, message),
		"parse_mode": "HTML",
	}
	return postJSON(ctx, apiURL, payload)
}

// --- Generic Webhook ---

type Generic struct{ WebhookURL string }

func (g *Generic) Name() string { return "Generic" }
func (g *Generic) Send(ctx context.Context, title, message string) error {
	payload := map[string]string{
		"title":   title,
		"message": message,
		"source":  "slipway",
		"time":    time.Now().Format(time.RFC3339),
	}
	return postJSON(ctx, g.WebhookURL, payload)
}
