// Package auth authenticates the bearer token on every TES request into a
// Subject, per spec section 6.4. Two variants: dummy (any non-empty token)
// and oidc (full discovery + JWKS + claim verification).
package auth

import (
	"context"
	"strings"

	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// Subject is the authenticated caller. UserID scopes every Store lookup.
type Subject struct {
	UserID string
}

// Authenticator verifies a raw Authorization header value and resolves
// the caller's identity.
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (Subject, error)
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value. Returns an AuthError if the header is missing or
// malformed.
func BearerToken(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", poiesiserr.New(poiesiserr.KindAuth, "missing or malformed Authorization header")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", poiesiserr.New(poiesiserr.KindAuth, "empty bearer token")
	}
	return token, nil
}
