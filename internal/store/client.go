package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrNotFound is returned when the configuration service has no record
// for the requested key.
var ErrNotFound = errors.New("store: record not found")

const (
	defaultTimeout  = 5 * time.Second
	initialInterval = 500 * time.Millisecond
	maxInterval     = 2 * time.Second
	maxRetries      = 2
)

// Client talks to the configuration service. All calls carry a short
// per-request timeout and a small bounded retry with backoff; they are
// used only by cache refresh and limit resolution, never inline on the
// hot forwarding path.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a configuration service client. timeout bounds each
// individual HTTP attempt; zero selects the default of 5s.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ActiveRoutes fetches the full list of active routes.
func (c *Client) ActiveRoutes(ctx context.Context) ([]*Route, error) {
	var routes []*Route
	err := c.getJSON(ctx, "/service-routes?activeOnly=true", &routes)
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// APIKeys fetches all API keys for bulk cache refresh.
func (c *Client) APIKeys(ctx context.Context) ([]*ApiKey, error) {
	var keys []*ApiKey
	err := c.getJSON(ctx, "/api/keys", &keys)
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// ValidateKey looks up a single API key by value. Returns ErrNotFound for
// an unknown key.
func (c *Client) ValidateKey(ctx context.Context, keyValue string) (*ApiKey, error) {
	var key ApiKey
	path := "/api/keys/validate?keyValue=" + url.QueryEscape(keyValue)
	if err := c.getJSON(ctx, path, &key); err != nil {
		return nil, err
	}
	return &key, nil
}

// EffectiveLimit fetches the resolved rate limit for an (apiKeyId, routeId)
// pair.
func (c *Client) EffectiveLimit(ctx context.Context, apiKeyID, routeID int64) (*EffectiveLimit, error) {
	var limit EffectiveLimit
	path := "/rate-limits/check?apiKeyId=" + strconv.FormatInt(apiKeyID, 10) +
		"&serviceRouteId=" + strconv.FormatInt(routeID, 10)
	if err := c.getJSON(ctx, path, &limit); err != nil {
		return nil, err
	}
	return &limit, nil
}

// getJSON performs a GET with bounded retry and decodes the JSON body.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(ErrNotFound)
		case resp.StatusCode != http.StatusOK:
			io.Copy(io.Discard, resp.Body)
			return fmt.Errorf("config service status %d for %s", resp.StatusCode, path)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", path, err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialInterval
	bo.MaxInterval = maxInterval
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, maxRetries), ctx))
}
