package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// WebhookChannel POSTs the alert payload as JSON to an arbitrary endpoint.
// Outbound calls pass through a rate limiter since most chat webhooks throttle
// aggressively.
type WebhookChannel struct {
	name    string
	url     string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// WebhookOptions parameterise a webhook channel.
type WebhookOptions struct {
	Name          string
	URL           string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(opts WebhookOptions, logger zerolog.Logger) *WebhookChannel {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	name := opts.Name
	if name == "" {
		name = "webhook"
	}

	limit := rate.Inf
	burst := opts.Burst
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	return &WebhookChannel{
		name:    name,
		url:     opts.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With().Str("component", "channel_webhook").Str("channel", name).Logger(),
	}
}

// Name identifies the channel in delivery records.
func (c *WebhookChannel) Name() string { return c.name }

// Send posts the payload, waiting for a rate-limit slot first.
func (c *WebhookChannel) Send(ctx context.Context, payload Payload) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	body, err := json.Marshal(struct {
		Payload
		Text string `json:"text"`
	}{Payload: payload, Text: RenderText(payload)})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}

	c.logger.Debug().
		Str("event_id", payload.EventID).
		Str("symbol", payload.Symbol).
		Msg("alert delivered via webhook")
	return nil
}

var _ Channel = (*WebhookChannel)(nil)
