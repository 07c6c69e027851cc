// Package reddit implements platform.Client against the reddit OAuth API.
// Requests are authenticated with a script-app password grant and paced
// by a token bucket.
package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/gbionescu/reddit-moderator-bot/internal/platform"
)

const (
	DefaultAPIURL   = "https://oauth.reddit.com"
	DefaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	// DefaultRate keeps under the 100 requests per minute an OAuth client
	// is allowed.
	DefaultRate  = rate.Limit(1.5)
	DefaultBurst = 5
)

// ErrRateLimited is returned when the API answers 429.
var ErrRateLimited = errors.New("rate limited")

// Credentials of a reddit script app.
type Credentials struct {
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	UserAgent    string
}

// APIError is a non-2xx answer.
type APIError struct {
	Status int
	Method string
	Path   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("reddit %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client talks to reddit. It is safe for concurrent use.
type Client struct {
	creds    Credentials
	apiURL   string
	tokenURL string
	base     *http.Client
	limiter  *rate.Limiter
	baseRate rate.Limit
	log      *zap.SugaredLogger

	mu     sync.Mutex
	authed *http.Client
	me     string
}

var (
	_ platform.Client   = (*Client)(nil)
	_ platform.Resetter = (*Client)(nil)
)

// Option configures a Client.
type Option func(*Client)

// WithEndpoints overrides the API and token URLs.
func WithEndpoints(apiURL, tokenURL string) Option {
	return func(c *Client) {
		c.apiURL = strings.TrimRight(apiURL, "/")
		c.tokenURL = tokenURL
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.base = hc }
}

// WithLimiter replaces the request pacing.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = log }
}

// New returns a client. No request is made until the first call.
func New(creds Credentials, opts ...Option) *Client {
	c := &Client{
		creds:    creds,
		apiURL:   DefaultAPIURL,
		tokenURL: DefaultTokenURL,
		base:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(DefaultRate, DefaultBurst),
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.baseRate = c.limiter.Limit()
	return c
}

// userAgent sets the User-Agent reddit requires on every request.
type userAgent struct {
	base  http.RoundTripper
	agent string
}

func (u userAgent) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", u.agent)
	base := u.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// passwordSource fetches a new token with the password grant each time the
// previous one expires.
type passwordSource struct {
	cfg      *oauth2.Config
	client   *http.Client
	username string
	password string
}

func (s passwordSource) Token() (*oauth2.Token, error) {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, s.client)
	return s.cfg.PasswordCredentialsToken(ctx, s.username, s.password)
}

func (c *Client) httpClient() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.authed != nil {
		return c.authed
	}

	plain := &http.Client{
		Timeout:   c.base.Timeout,
		Transport: userAgent{base: c.base.Transport, agent: c.creds.UserAgent},
	}
	src := passwordSource{
		cfg: &oauth2.Config{
			ClientID:     c.creds.ClientID,
			ClientSecret: c.creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  c.tokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		client:   plain,
		username: c.creds.Username,
		password: c.creds.Password,
	}
	c.authed = &http.Client{
		Timeout: c.base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.ReuseTokenSource(nil, src),
			Base:   plain.Transport,
		},
	}
	return c.authed
}

// Reset drops the session so the next call authenticates again.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed = nil
	c.log.Infow("session reset")
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, form, out)
}

func (c *Client) do(ctx context.Context, method, path string, query, form url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if query == nil {
		query = url.Values{}
	}
	query.Set("raw_json", "1")
	u := c.apiURL + path + "?" + query.Encode()

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("reddit request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("reddit %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.log.Debugw("api call", "method", method, "path", path, "status", resp.StatusCode, "duration", time.Since(start))
	c.observeQuota(resp.Header)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("reddit %s %s: %w", method, path, platform.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("reddit %s %s: %w", method, path, ErrRateLimited)
	case resp.StatusCode >= 300:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{Status: resp.StatusCode, Method: method, Path: path, Body: string(data)}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// observeQuota slows the limiter down when reddit reports few requests
// left in the current window.
func (c *Client) observeQuota(h http.Header) {
	if c.baseRate == rate.Inf {
		return
	}
	remaining, err1 := strconv.ParseFloat(h.Get("X-Ratelimit-Remaining"), 64)
	reset, err2 := strconv.ParseFloat(h.Get("X-Ratelimit-Reset"), 64)
	if err1 != nil || err2 != nil {
		return
	}
	if remaining < 1 {
		remaining = 1
	}
	window := rate.Limit(remaining / max(reset, 1))
	if window < c.baseRate {
		c.limiter.SetLimit(window)
	} else if c.limiter.Limit() != c.baseRate {
		c.limiter.SetLimit(c.baseRate)
	}
}
