// Package daily creates short-lived video rooms for coaching sessions.
//
// [Client] talks to the Daily REST API. [Local] hands out rooms served by
// this process only and is used when no Daily API key is configured.
package daily

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const (
	// DefaultAPIURL is the Daily REST endpoint.
	DefaultAPIURL = "https://api.daily.co/v1"

	// DefaultPrefix starts every generated room name.
	DefaultPrefix = "case-coach"

	requestTimeout = 10 * time.Second
)

// Room is a room that was created for one session.
type Room struct {
	Name string
	URL  string

	// ExpiresAt is zero for rooms that never expire.
	ExpiresAt time.Time
}

// PrettyExpiration formats ExpiresAt for logs, or "Never".
func (r Room) PrettyExpiration() string {
	if r.ExpiresAt.IsZero() {
		return "Never"
	}
	return r.ExpiresAt.UTC().Format("2006-01-02 15:04:05 UTC")
}

// Creator creates rooms. Both [Client] and [Local] implement it.
type Creator interface {
	CreateRoom(ctx context.Context, expMinutes int) (Room, error)
}

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daily: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Option configures a [Client].
type Option func(*Client)

// WithAPIURL overrides the REST base URL. Used by tests.
func WithAPIURL(u string) Option {
	return func(c *Client) { c.apiURL = strings.TrimRight(u, "/") }
}

// WithPrefix sets the room name prefix.
func WithPrefix(prefix string) Option {
	return func(c *Client) { c.prefix = prefix }
}

// WithHTTPClient replaces the HTTP client. Its transport is used as is.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit throttles room creation to r requests per second with the
// given burst.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithClock overrides the clock used for names and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client creates rooms through the Daily REST API.
type Client struct {
	apiKey     string
	apiURL     string
	prefix     string
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

var _ Creator = (*Client)(nil)

// New returns a Client. apiKey must not be empty.
func New(apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("daily: apiKey must not be empty")
	}
	c := &Client{
		apiKey: apiKey,
		apiURL: DefaultAPIURL,
		prefix: DefaultPrefix,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(rate.Limit(2), 5),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

type createRequest struct {
	Name       string          `json:"name"`
	Properties *roomProperties `json:"properties,omitempty"`
}

type roomProperties struct {
	Exp int64 `json:"exp"`
}

type createResponse struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Config struct {
		Exp int64 `json:"exp"`
	} `json:"config"`
}

// CreateRoom creates a room that expires expMinutes from now. A
// non-positive expMinutes creates a room without expiry.
func (c *Client) CreateRoom(ctx context.Context, expMinutes int) (Room, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Room{}, fmt.Errorf("daily: create room: %w", err)
	}

	now := c.now()
	body := createRequest{Name: RoomName(c.prefix, now)}
	if expMinutes > 0 {
		body.Properties = &roomProperties{Exp: now.Add(time.Duration(expMinutes) * time.Minute).Unix()}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return Room{}, fmt.Errorf("daily: create room: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL+"/rooms", bytes.NewReader(payload))
	if err != nil {
		return Room{}, fmt.Errorf("daily: create room: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	slog.Info("creating daily room", "name", body.Name)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("daily: create room: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Room{}, fmt.Errorf("daily: create room: %w", &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))})
	}

	var cr createResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Room{}, fmt.Errorf("daily: create room decode: %w", err)
	}
	room := Room{Name: cr.Name, URL: cr.URL}
	if cr.Config.Exp > 0 {
		room.ExpiresAt = time.Unix(cr.Config.Exp, 0).UTC()
	}
	return room, nil
}

// RoomName returns "<prefix>-YYYYMMDD-HHMMSS-<4 hex>" in UTC. An empty
// prefix falls back to [DefaultPrefix].
func RoomName(prefix string, now time.Time) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:4]
	return fmt.Sprintf("%s-%s-%s", prefix, now.UTC().Format("20060102-150405"), suffix)
}

// Local creates rooms that exist only inside this process. Their URL points
// at the room's audio socket below BaseURL.
type Local struct {
	BaseURL string
	Prefix  string
	Now     func() time.Time
}

var _ Creator = (*Local)(nil)

// CreateRoom implements [Creator].
func (l *Local) CreateRoom(ctx context.Context, expMinutes int) (Room, error) {
	if err := ctx.Err(); err != nil {
		return Room{}, fmt.Errorf("daily: create local room: %w", err)
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	t := now()
	name := RoomName(l.Prefix, t)
	room := Room{
		Name: name,
		URL:  strings.TrimRight(l.BaseURL, "/") + "/rooms/" + name + "/audio",
	}
	if expMinutes > 0 {
		room.ExpiresAt = t.Add(time.Duration(expMinutes) * time.Minute).UTC().Truncate(time.Second)
	}
	return room, nil
}
