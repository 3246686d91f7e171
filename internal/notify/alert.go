package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Discord accepts roughly 30 webhook posts a minute
const discordPerSecond = 0.5

// DiscordAlerter posts escalations to a Discord webhook
type DiscordAlerter struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
}

func NewDiscordAlerter(webhookURL string) *DiscordAlerter {
	return &DiscordAlerter{
		url:     webhookURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(discordPerSecond), 5),
	}
}

func (a *DiscordAlerter) Error(ctx context.Context, msg string) {
	a.post(ctx, fmt.Sprintf("🔥 **SoltyBet Error**: ```%s```", msg))
}

func (a *DiscordAlerter) Info(ctx context.Context, msg string) {
	a.post(ctx, fmt.Sprintf("ℹ️ **SoltyBet Info**: %s", msg))
}

// post never fails the caller; delivery problems are only logged
func (a *DiscordAlerter) post(ctx context.Context, content string) {
	if !a.limiter.Allow() {
		log.Printf("[Alert] webhook rate limited, dropping: %s", content)
		return
	}

	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		log.Printf("[Alert] failed to encode alert: %v", err)
		return
	}

	req, err := http.NewRequestWithContext(context.WithoutCancel(ctx), http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		log.Printf("[Alert] failed to build webhook request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		log.Printf("[Alert] webhook post failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("[Alert] webhook returned %s", resp.Status)
	}
}

// LogAlerter writes escalations to the log when no webhook is configured
type LogAlerter struct{}

func (LogAlerter) Error(_ context.Context, msg string) {
	log.Printf("[Alert] ERROR: %s", msg)
}

func (LogAlerter) Info(_ context.Context, msg string) {
	log.Printf("[Alert] INFO: %s", msg)
}
