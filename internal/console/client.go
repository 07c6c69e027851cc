package console

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gbionescu/reddit-moderator-bot/internal/bot"
	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

// Client talks to a running console.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for addr, given as host:port or a URL. A nil
// hc gets a 10s timeout.
func NewClient(addr string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{base: strings.TrimRight(addr, "/"), http: hc}
}

// Send posts one console line and returns the queued message id.
func (c *Client) Send(ctx context.Context, data string) (string, error) {
	var resp Response
	if err := c.do(ctx, http.MethodPost, "/console", Request{Data: data}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Status returns the manager status.
func (c *Client) Status(ctx context.Context) (bot.Status, error) {
	var st bot.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &st)
	return st, err
}

// Modqueue returns the moderation queue of subreddit.
func (c *Client) Modqueue(ctx context.Context, subreddit string) ([]platform.Report, error) {
	var out struct {
		Items []platform.Report `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "/api/modqueue/"+url.PathEscape(subreddit), nil, &out)
	return out.Items, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("console request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("console %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var env errorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err == nil && env.Error.Message != "" {
			return fmt.Errorf("console %s %s: %s (%d)", method, path, env.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("console %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode console response: %w", err)
	}
	return nil
}
