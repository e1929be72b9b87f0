package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	gwerrors "github.com/nexusgate/gateway/internal/errors"
)

// JWTAuth validates HS256-signed bearer tokens.
type JWTAuth struct {
	secret []byte
}

// NewJWTAuth creates a JWT validator using the given HMAC signing secret.
func NewJWTAuth(secret string) *JWTAuth {
	return &JWTAuth{secret: []byte(secret)}
}

// Authenticate checks the Authorization bearer token. On success it
// returns the token's claims; on failure the gateway error to send.
func (a *JWTAuth) Authenticate(r *http.Request) (jwt.MapClaims, *gwerrors.GatewayError) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, gwerrors.ErrUnauthorized.WithMessage("JWT token is required")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, gwerrors.ErrUnauthorized.WithMessage("Invalid or expired JWT token")
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header. The
// "Bearer " prefix is stripped when present; a bare token is accepted
// as-is.
func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
