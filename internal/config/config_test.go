package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/theDeemoonn/foodMobile/internal/config"
)

func TestNew_Defaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	t.Setenv("CREDENTIAL_SCHEME", "")

	c := config.New()

	require.Equal(t, "http://localhost:8080/api/public", c.GetPublicBaseURL())
	require.Equal(t, "http://localhost:8080/api/private", c.GetPrivateBaseURL())
	require.Equal(t, "session", c.GetCredentialScheme())
	require.Equal(t, 6, c.GetPasswordMinLength())
	require.Equal(t, 15*time.Second, c.GetRequestTimeout())
	require.True(t, c.GetLogoutOnGatewayTimeout())
	require.Equal(t, ":8080", c.GetPort())
}

func TestLoad_FileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "foodmobile.yaml")
	err := os.WriteFile(path, []byte(`
api_base_url: https://api.example.com/
credential_scheme: bearer
password_min_length: 8
logout_on_gateway_timeout: false
api_timeout: 3s
`), 0o600)
	require.NoError(t, err)

	t.Run("file values", func(t *testing.T) {
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, "https://api.example.com/api/public", c.GetPublicBaseURL())
		require.Equal(t, "bearer", c.GetCredentialScheme())
		require.Equal(t, 8, c.GetPasswordMinLength())
		require.False(t, c.GetLogoutOnGatewayTimeout())
		require.Equal(t, 3*time.Second, c.GetRequestTimeout())
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("CREDENTIAL_SCHEME", "session")
		c, err := config.Load(path)
		require.NoError(t, err)
		require.Equal(t, "session", c.GetCredentialScheme())
	})
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
