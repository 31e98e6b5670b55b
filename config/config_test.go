package config

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret32 = "0123456789abcdef0123456789abcdef"

func setValidEnv(t *testing.T) {
	t.Setenv("INKWELL_CSRF_SECRET", secret32)
	t.Setenv("INKWELL_SESSION_SECRET", secret32)
	t.Setenv("INKWELL_DATABASE_URL", "memory://")
	t.Setenv("INKWELL_OAUTH_PROVIDERS", "github")
	t.Setenv("INKWELL_OAUTH_GITHUB_CLIENT_ID", "id")
	t.Setenv("INKWELL_OAUTH_GITHUB_CLIENT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setValidEnv(t)
	cfg := Load()
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 2*time.Hour, cfg.SessionIdleTimeout)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, "github", cfg.Providers[0].Name)
	assert.NoError(t, cfg.Validate())
}

func TestValidateListsEverythingMissing(t *testing.T) {
	t.Setenv("INKWELL_CSRF_SECRET", "")
	t.Setenv("INKWELL_SESSION_SECRET", "")
	t.Setenv("INKWELL_DATABASE_URL", "")
	t.Setenv("INKWELL_OAUTH_PROVIDERS", "")

	err := Load().Validate()
	var missing *MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{
		"INKWELL_CSRF_SECRET",
		"INKWELL_SESSION_SECRET",
		"INKWELL_DATABASE_URL",
		"INKWELL_OAUTH_GITHUB_CLIENT_ID",
		"INKWELL_OAUTH_GITHUB_CLIENT_SECRET",
		"INKWELL_OAUTH_GOOGLE_CLIENT_ID",
		"INKWELL_OAUTH_GOOGLE_CLIENT_SECRET",
	}, missing.Missing)
	assert.Contains(t, err.Error(), "INKWELL_DATABASE_URL")
}

func TestValidateShortSecret(t *testing.T) {
	setValidEnv(t)
	t.Setenv("INKWELL_SESSION_SECRET", "short")

	var missing *MissingError
	require.ErrorAs(t, Load().Validate(), &missing)
	assert.Empty(t, missing.Missing)
	require.Len(t, missing.Invalid, 1)
	assert.Contains(t, missing.Invalid[0], "INKWELL_SESSION_SECRET")
}

func TestTrustedProxies(t *testing.T) {
	setValidEnv(t)
	t.Setenv("INKWELL_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7")
	cfg := Load()
	got, err := cfg.ParseTrustedProxies()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
	}, got)

	t.Setenv("INKWELL_TRUSTED_PROXIES", "not-an-ip")
	assert.Error(t, Load().Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("X_INT", "-3")
	assert.Equal(t, 5, EnvInt("X_INT", 5))
	t.Setenv("X_INT", "14")
	assert.Equal(t, 14, EnvInt("X_INT", 5))
	t.Setenv("X_DUR", "90s")
	assert.Equal(t, 90*time.Second, EnvDuration("X_DUR", time.Second))
	t.Setenv("X_LIST", " a, ,b ")
	assert.Equal(t, []string{"a", "b"}, EnvList("X_LIST", nil))
}

func TestLoadWithoutProviders(t *testing.T) {
	setValidEnv(t)
	t.Setenv("INKWELL_OAUTH_PROVIDERS", "none")
	cfg := Load()
	assert.Empty(t, cfg.Providers)
	assert.NoError(t, cfg.Validate())
}

func TestValidateBcryptCost(t *testing.T) {
	setValidEnv(t)
	assert.Equal(t, 12, Load().BcryptCost)

	t.Setenv("INKWELL_BCRYPT_COST", "40")
	var invalid *MissingError
	require.ErrorAs(t, Load().Validate(), &invalid)
	require.Len(t, invalid.Invalid, 1)
	assert.Contains(t, invalid.Invalid[0], "INKWELL_BCRYPT_COST")
}
