package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// WebPushConfig holds the VAPID credentials for browser push.
type WebPushConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
	TTL        int
	HTTPClient webpush.HTTPClient
}

// WebPushClient delivers payloads to browser push subscriptions.
type WebPushClient struct {
	cfg WebPushConfig
}

// NewWebPushClient creates a web-push sender. TTL defaults to one day.
func NewWebPushClient(cfg WebPushConfig) *WebPushClient {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * 60 * 60
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &WebPushClient{cfg: cfg}
}

// Send encrypts payload for the subscription and posts it to the push
// service endpoint.
func (c *WebPushClient) Send(ctx context.Context, subscription string, payload []byte) error {
	sub, err := parseSubscription(subscription)
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		Subscriber:      c.cfg.Subscriber,
		VAPIDPublicKey:  c.cfg.PublicKey,
		VAPIDPrivateKey: c.cfg.PrivateKey,
		TTL:             c.cfg.TTL,
		Urgency:         webpush.UrgencyHigh,
		HTTPClient:      c.cfg.HTTPClient,
	})
	if err != nil {
		return fmt.Errorf("send web push: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// parseSubscription decodes a stored subscription. Older rows hold the
// subscription JSON encoded a second time as a string.
func parseSubscription(raw string) (*webpush.Subscription, error) {
	data := []byte(raw)

	var inner string
	if err := json.Unmarshal(data, &inner); err == nil {
		data = []byte(inner)
	}

	var sub webpush.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("subscription has no endpoint")
	}
	return &sub, nil
}
