package auth

import "context"

// DummyAuthenticator treats the bearer token itself as the user id, for
// local development and single-tenant deployments with no identity
// provider.
type DummyAuthenticator struct{}

func NewDummyAuthenticator() *DummyAuthenticator { return &DummyAuthenticator{} }

func (a *DummyAuthenticator) Authenticate(ctx context.Context, authorizationHeader string) (Subject, error) {
	token, err := BearerToken(authorizationHeader)
	if err != nil {
		return Subject{}, err
	}
	return Subject{UserID: token}, nil
}

var _ Authenticator = (*DummyAuthenticator)(nil)
