package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxContent is the longest message a discord-style webhook accepts.
const maxContent = 2000

// Webhook posts events to a discord-style chat webhook as
// {"content": "..."}.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook returns a sink posting to url. A nil client gets a 10s
// timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) URL() string { return w.url }

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	return w.Post(ctx, ev.Text())
}

// Post sends a raw content line.
func (w *Webhook) Post(ctx context.Context, content string) error {
	if len(content) > maxContent {
		content = content[:maxContent]
	}
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
