// Package discord posts operational alerts to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type WebhookMessage struct {
	Content string  `json:"content,omitempty"`
	Embeds  []Embed `json:"embeds,omitempty"`
}

type Embed struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Color       int       `json:"color"`
	Timestamp   time.Time `json:"timestamp"`
	Fields      []Field   `json:"fields,omitempty"`
}

type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Level picks the embed colour.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

func (l Level) color() int {
	switch l {
	case LevelError:
		return 0xFF0000
	case LevelWarn:
		return 0xFFA500
	default:
		return 0x808080
	}
}

// NewEmbed builds a single-embed message with inline fields.
func NewEmbed(level Level, title, description string, at time.Time, fields ...Field) WebhookMessage {
	for i := range fields {
		fields[i].Inline = true
	}
	return WebhookMessage{Embeds: []Embed{{
		Title:       title,
		Description: description,
		Color:       level.color(),
		Timestamp:   at.UTC(),
		Fields:      fields,
	}}}
}

type Client struct {
	webhookURL string
	httpClient *http.Client
}

func NewClient(webhookURL string) *Client {
	return &Client{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Enabled reports whether a webhook URL is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.webhookURL != ""
}

// SendMessage posts msg. A client without a webhook URL does nothing.
func (c *Client) SendMessage(ctx context.Context, msg WebhookMessage) error {
	if !c.Enabled() {
		return nil
	}

	req, err := c.newRequest(ctx, msg)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, msg WebhookMessage) (*http.Request, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encoding webhook message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
