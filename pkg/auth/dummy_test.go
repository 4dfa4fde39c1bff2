package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDummyAuthenticatorUsesTokenAsUserID(t *testing.T) {
	a := NewDummyAuthenticator()
	sub, err := a.Authenticate(context.Background(), "Bearer alice")
	require.NoError(t, err)
	require.Equal(t, "alice", sub.UserID)
}

func TestDummyAuthenticatorRejectsMissingHeader(t *testing.T) {
	a := NewDummyAuthenticator()
	_, err := a.Authenticate(context.Background(), "")
	require.Error(t, err)
}

func TestBearerTokenRejectsEmptyToken(t *testing.T) {
	_, err := BearerToken("Bearer ")
	require.Error(t, err)
}

func TestBearerTokenParsesValidHeader(t *testing.T) {
	token, err := BearerToken("Bearer xyz123")
	require.NoError(t, err)
	require.Equal(t, "xyz123", token)
}
