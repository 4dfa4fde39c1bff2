package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/poiesis-run/poiesis/pkg/poiesiserr"
)

// discoveryDoc is the subset of an OIDC provider's
// .well-known/openid-configuration this engine needs.
type discoveryDoc struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// OIDCAuthenticator verifies bearer tokens against a discovered OIDC
// provider: JWKS fetched once at startup and kept warm by jwx's HTTP
// resource cache, signature/exp/iss/aud verified on every call.
type OIDCAuthenticator struct {
	issuer   string
	audience string
	cache    *jwk.Cache
	jwksURI  string
}

// NewOIDCAuthenticator performs discovery against issuer and primes the
// JWKS cache. audience must match the aud claim on every verified token
// (the OIDC client id).
func NewOIDCAuthenticator(ctx context.Context, issuer, audience string) (*OIDCAuthenticator, error) {
	doc, err := discover(ctx, issuer)
	if err != nil {
		return nil, err
	}

	client := httprc.NewClient()
	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindAuth, "create jwks cache", err)
	}
	if err := cache.Register(ctx, doc.JWKSURI); err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindAuth, "register jwks endpoint", err)
	}

	return &OIDCAuthenticator{
		issuer:   doc.Issuer,
		audience: audience,
		cache:    cache,
		jwksURI:  doc.JWKSURI,
	}, nil
}

func discover(ctx context.Context, issuer string) (*discoveryDoc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, issuer+"/.well-known/openid-configuration", nil)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindAuth, "build discovery request", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindAuth, "oidc discovery request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, poiesiserr.New(poiesiserr.KindAuth, fmt.Sprintf("oidc discovery returned %d", resp.StatusCode))
	}

	var doc discoveryDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, poiesiserr.Wrap(poiesiserr.KindAuth, "decode oidc discovery document", err)
	}
	return &doc, nil
}

func (a *OIDCAuthenticator) Authenticate(ctx context.Context, authorizationHeader string) (Subject, error) {
	token, err := BearerToken(authorizationHeader)
	if err != nil {
		return Subject{}, err
	}

	keySet, err := a.cache.Lookup(ctx, a.jwksURI)
	if err != nil {
		return Subject{}, poiesiserr.Wrap(poiesiserr.KindAuth, "fetch jwks", err)
	}

	parsed, err := jwt.Parse([]byte(token),
		jwt.WithKeySet(keySet),
		jwt.WithValidate(true),
		jwt.WithIssuer(a.issuer),
		jwt.WithAudience(a.audience),
	)
	if err != nil {
		return Subject{}, poiesiserr.Wrap(poiesiserr.KindAuth, "verify bearer token", err)
	}

	var sub string
	if err := parsed.Get(jwt.SubjectKey, &sub); err != nil || sub == "" {
		return Subject{}, poiesiserr.New(poiesiserr.KindAuth, "token has no sub claim")
	}
	return Subject{UserID: sub}, nil
}

var _ Authenticator = (*OIDCAuthenticator)(nil)
