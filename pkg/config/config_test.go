package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	require.Equal(t, AuthTypeDummy, cfg.AuthType)
	require.Equal(t, 8080, cfg.APIServerPort)
	require.Equal(t, 64*1024, cfg.StdoutStderrTruncationBytes)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("AUTH_TYPE", "oidc")
	t.Setenv("POIESIS_API_SERVER_PORT", "9090")
	t.Setenv("OIDC_ISSUER", "https://issuer.example.com")

	cfg := Load()
	require.Equal(t, AuthTypeOIDC, cfg.AuthType)
	require.Equal(t, 9090, cfg.APIServerPort)
	require.Equal(t, "https://issuer.example.com", cfg.OIDC.Issuer)
}
