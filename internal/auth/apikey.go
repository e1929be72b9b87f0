// Package auth validates client credentials: API keys against the key
// cache and JWT bearer tokens against a shared signing secret.
package auth

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/cache"
	gwerrors "github.com/nexusgate/gateway/internal/errors"
	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/store"
)

// HeaderAPIKey is the request header carrying the client's API key.
const HeaderAPIKey = "X-API-KEY"

// APIKeyAuth validates X-API-KEY headers against the key cache.
type APIKeyAuth struct {
	keys *cache.KeyCache
}

// NewAPIKeyAuth creates an API key validator backed by the given cache.
func NewAPIKeyAuth(keys *cache.KeyCache) *APIKeyAuth {
	return &APIKeyAuth{keys: keys}
}

// Authenticate checks the request's API key. On success it returns the
// matched key record; on failure it returns the gateway error to send to
// the client.
func (a *APIKeyAuth) Authenticate(r *http.Request) (*store.ApiKey, *gwerrors.GatewayError) {
	value := r.Header.Get(HeaderAPIKey)
	if value == "" {
		return nil, gwerrors.ErrUnauthorized.WithMessage("API key is required")
	}

	key, err := a.keys.Validate(value)
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) && !a.keys.Initialized() {
			// The cache never loaded, so an unknown key may simply be
			// invisible. Refuse to guess.
			logging.Warn("Rejecting request, API key cache never initialized",
				zap.String("key", store.MaskKey(value)))
			return nil, gwerrors.ErrServiceUnavailable.WithMessage("Authentication service temporarily unavailable")
		}
		return nil, gwerrors.ErrUnauthorized.WithMessage("Invalid API key")
	}

	if !key.Active {
		return nil, gwerrors.ErrUnauthorized.WithMessage("API key is inactive")
	}
	if key.Expired(time.Now()) {
		return nil, gwerrors.ErrUnauthorized.WithMessage("API key is expired")
	}
	return key, nil
}
