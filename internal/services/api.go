package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/melos-app/melos/internal/models"
	"github.com/melos-app/melos/internal/shared"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const defaultRequestsPerSecond = 5.0

// Client implements [API] over HTTP with bearer-token auth and a
// client-side rate limiter shared by all callers (three synchronizers plus
// the sync manager hit the same host).
type Client struct {
	baseURL    string
	clientType string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// ClientOpts contains configuration options for creating a Client.
type ClientOpts struct {
	BaseURL           string
	AccessToken       string
	ClientType        string
	RequestsPerSecond float64
	HTTPClient        *http.Client // overrides AccessToken when set, used in tests
}

// NewClient creates a sync API client. When no HTTP client is supplied the
// access token is attached via an oauth2 static token source.
func NewClient(opts ClientOpts) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:8080"
	}
	if opts.ClientType == "" {
		opts.ClientType = "melos-go"
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.AccessToken})
		httpClient = oauth2.NewClient(context.Background(), src)
	}

	return &Client{
		baseURL:    opts.BaseURL,
		clientType: opts.ClientType,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
	}
}

// SyncState fetches the authoritative full-state snapshot.
func (c *Client) SyncState(ctx context.Context) (*models.SyncState, error) {
	var state models.SyncState
	if err := c.doRequest(ctx, http.MethodGet, "/v1/sync/state", nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SyncEvents fetches events with seq > since.
func (c *Client) SyncEvents(ctx context.Context, since int64) (*EventBatch, error) {
	endpoint := fmt.Sprintf("/v1/sync/events?since=%d", since)

	var batch EventBatch
	if err := c.doRequest(ctx, http.MethodGet, endpoint, nil, &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

// LikeContent marks content as liked.
func (c *Client) LikeContent(ctx context.Context, contentType, contentID string) error {
	endpoint := fmt.Sprintf("/v1/user/liked/%s/%s", url.PathEscape(contentType), url.PathEscape(contentID))
	return c.doRequest(ctx, http.MethodPost, endpoint, nil, nil)
}

// UnlikeContent removes a like.
func (c *Client) UnlikeContent(ctx context.Context, contentType, contentID string) error {
	endpoint := fmt.Sprintf("/v1/user/liked/%s/%s", url.PathEscape(contentType), url.PathEscape(contentID))
	return c.doRequest(ctx, http.MethodDelete, endpoint, nil, nil)
}

// PutSettings uploads locally-changed user settings.
func (c *Client) PutSettings(ctx context.Context, settings []models.UserSetting) error {
	type wireSetting struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}

	body := struct {
		Settings []wireSetting `json:"settings"`
	}{}
	for _, s := range settings {
		body.Settings = append(body.Settings, wireSetting{Key: s.Key, Value: s.Value})
	}

	return c.doRequest(ctx, http.MethodPut, "/v1/user/settings", body, nil)
}

// PostListening submits a listening-session record.
func (c *Client) PostListening(ctx context.Context, ev *models.ListeningEvent) (*ListeningReceipt, error) {
	body := struct {
		TrackID              string     `json:"track_id"`
		SessionID            string     `json:"session_id"`
		StartedAt            time.Time  `json:"started_at"`
		EndedAt              *time.Time `json:"ended_at,omitempty"`
		DurationSeconds      int        `json:"duration_seconds"`
		TrackDurationSeconds int        `json:"track_duration_seconds"`
		SeekCount            int        `json:"seek_count"`
		PauseCount           int        `json:"pause_count"`
		PlaybackContext      string     `json:"playback_context"`
		ClientType           string     `json:"client_type"`
	}{
		TrackID:              ev.TrackID,
		SessionID:            ev.SessionID,
		StartedAt:            ev.StartedAt,
		EndedAt:              ev.EndedAt,
		DurationSeconds:      ev.DurationSeconds,
		TrackDurationSeconds: ev.TrackDurationSeconds,
		SeekCount:            ev.SeekCount,
		PauseCount:           ev.PauseCount,
		PlaybackContext:      ev.PlaybackContext,
		ClientType:           c.clientType,
	}

	var receipt ListeningReceipt
	if err := c.doRequest(ctx, http.MethodPost, "/v1/user/listening", body, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

// doRequest performs one rate-limited, authenticated request and decodes
// the JSON response into result when it is non-nil.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: failed to encode request body: %v", shared.ErrClient, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("%w: failed to create request: %v", shared.ErrClient, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: %s %s returned status %d", err, method, endpoint, resp.StatusCode)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("%w: failed to decode response: %v", shared.ErrClient, err)
		}
	}

	return nil
}

// classifyStatus maps an HTTP status onto the shared failure taxonomy.
// Server-side errors are transient from the client's point of view and
// classified as network failures.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return shared.ErrUnauthorized
	case code == http.StatusNotFound:
		return shared.ErrNotFound
	case code == http.StatusGone:
		return shared.ErrEventsPruned
	case code >= 400 && code < 500:
		return shared.ErrClient
	default:
		return shared.ErrNetwork
	}
}
