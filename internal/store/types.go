// Package store holds the routing and credential records served by the
// configuration service, and the HTTP client used to fetch them.
package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Auth types a route can require.
const (
	AuthNone   = "NONE"
	AuthAPIKey = "API_KEY"
	AuthJWT    = "JWT"
	AuthBoth   = "BOTH"
)

// Route is a routing rule mapping a public path pattern to a backend target.
// Instances are immutable once published in a cache snapshot.
type Route struct {
	ID                 int64    `json:"id"`
	PublicPath         string   `json:"publicPath"`
	TargetURL          string   `json:"targetUrl"`
	AllowedMethods     []string `json:"allowedMethods"`
	AuthRequired       bool     `json:"authRequired"`
	AuthType           string   `json:"authType"`
	RateLimitEnabled   bool     `json:"rateLimitEnabled"`
	RateLimitPerMinute int      `json:"rateLimitPerMinute"`
	RateLimitPerHour   int      `json:"rateLimitPerHour"`
	TimeoutMs          int      `json:"timeoutMs"`
	CustomHeaders      string   `json:"customHeaders"`
	Active             bool     `json:"isActive"`

	customHeaders map[string]string
}

// CompileHeaders parses the customHeaders JSON object string. Called once
// when a snapshot is built; a malformed value leaves the map empty.
func (r *Route) CompileHeaders() error {
	if r.CustomHeaders == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.CustomHeaders), &r.customHeaders)
}

// HeaderMap returns the parsed custom headers, nil if none.
func (r *Route) HeaderMap() map[string]string {
	return r.customHeaders
}

// AllowsMethod reports whether method is permitted on this route.
// An empty allowed-methods list permits everything.
func (r *Route) AllowsMethod(method string) bool {
	if len(r.AllowedMethods) == 0 {
		return true
	}
	for _, m := range r.AllowedMethods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// Timeout returns the route's forwarding timeout, or def if unset.
func (r *Route) Timeout(def time.Duration) time.Duration {
	if r.TimeoutMs > 0 {
		return time.Duration(r.TimeoutMs) * time.Millisecond
	}
	return def
}

// ApiKey is a client credential record.
type ApiKey struct {
	ID        int64      `json:"id"`
	KeyValue  string     `json:"keyValue"`
	Active    bool       `json:"isActive"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Expired reports whether the key has an expiry in the past.
func (k *ApiKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// EffectiveLimit is the rate limit the configuration service resolved for
// an (apiKeyId, routeId) pair, by specificity: exact > route-default >
// key-global > system default.
type EffectiveLimit struct {
	RequestsPerMinute int  `json:"requestsPerMinute"`
	RequestsPerHour   int  `json:"requestsPerHour"`
	Active            bool `json:"active"`
}

// MaskKey shortens an API key for logging: first 8 chars plus "***".
func MaskKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:8] + "***"
}
