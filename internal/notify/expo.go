package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	// DefaultExpoURL is the public Expo push endpoint.
	DefaultExpoURL = "https://exp.host/--/api/v2/push/send"

	// ExpoBatchSize is the most messages Expo accepts per request.
	ExpoBatchSize = 100
)

// ExpoMessage is one mobile push message.
type ExpoMessage struct {
	To    string         `json:"to"`
	Sound string         `json:"sound,omitempty"`
	Title string         `json:"title,omitempty"`
	Body  string         `json:"body,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ExpoClient submits batches to the Expo push gateway.
type ExpoClient struct {
	url         string
	accessToken string
	http        *http.Client
}

// NewExpoClient creates a gateway client. An empty url uses DefaultExpoURL.
func NewExpoClient(url, accessToken string, client *http.Client) *ExpoClient {
	if url == "" {
		url = DefaultExpoURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ExpoClient{url: url, accessToken: accessToken, http: client}
}

// SendBatch posts up to ExpoBatchSize messages in one request. The returned
// slice holds one entry per message, nil when the gateway accepted it. A
// non-nil error means the whole request failed.
func (c *ExpoClient) SendBatch(ctx context.Context, msgs []ExpoMessage) ([]error, error) {
	if len(msgs) == 0 {
		return nil, nil
	}
	if len(msgs) > ExpoBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(msgs), ExpoBatchSize)
	}

	body, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("marshal expo batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build expo request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post expo batch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read expo response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("expo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode expo response: %w", err)
	}
	if len(parsed.Errors) > 0 && len(parsed.Data) == 0 {
		e := parsed.Errors[0]
		return nil, fmt.Errorf("expo rejected batch: %s: %s", e.Code, e.Message)
	}
	if len(parsed.Data) != len(msgs) {
		return nil, fmt.Errorf("expo returned %d tickets for %d messages", len(parsed.Data), len(msgs))
	}

	results := make([]error, len(msgs))
	for i, t := range parsed.Data {
		if t.Status == "ok" {
			continue
		}
		reason := t.Details.Error
		if reason == "" {
			reason = t.Status
		}
		results[i] = fmt.Errorf("expo ticket %s: %s", reason, t.Message)
	}
	return results, nil
}
