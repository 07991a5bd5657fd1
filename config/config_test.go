package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, 24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, "gk_session", cfg.Session.CookieName)
	assert.True(t, cfg.Session.CookieHTTPOnly)
	assert.True(t, cfg.Session.CookieSecure)
	assert.Equal(t, 5*time.Minute, cfg.Challenge.TTL)
	assert.EqualValues(t, 1, cfg.Challenge.ChainID)
	assert.Equal(t, []string{"openid", "email", "profile"}, cfg.OAuth.Scopes)
	assert.Equal(t, 10*time.Minute, cfg.OAuth.TransactionTTL)
	assert.False(t, cfg.OAuth.Enabled())
	assert.EqualValues(t, 64*1024, cfg.Password.MemoryKiB)
	assert.EqualValues(t, 2, cfg.Password.Parallelism)

	require.NoError(t, cfg.Validate())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GATEKEEPER_SESSION_TTL", "1h")
	t.Setenv("GATEKEEPER_OAUTH_ALLOWED_REDIRECT_URLS", "https://a.test/cb, https://b.test/cb")
	t.Setenv("GATEKEEPER_SESSION_COOKIE_SECURE", "false")

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	cfg := FromViper(v)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.False(t, cfg.Session.CookieSecure)
	assert.Equal(t, []string{"https://a.test/cb", "https://b.test/cb"}, cfg.OAuth.AllowedRedirectURLs)
}

func TestValidate(t *testing.T) {
	t.Run("Durations", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Session.TTL = 0
		cfg.Challenge.TTL = -time.Second

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session.ttl")
		assert.Contains(t, err.Error(), "challenge.ttl")
	})

	t.Run("Custom_Provider_Needs_Endpoints", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.OAuth.ClientID = "client"
		cfg.OAuth.Provider = "custom"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "oauth.tokenUrl")
	})

	t.Run("Unknown_Provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.OAuth.ClientID = "client"
		cfg.OAuth.Provider = "myspace"
		assert.Error(t, cfg.Validate())
	})

	t.Run("Relative_Redirect", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.OAuth.ClientID = "client"
		cfg.OAuth.AllowedRedirectURLs = []string{"/callback"}
		assert.Error(t, cfg.Validate())
	})

	t.Run("Password_Floor", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Password.MinLength = 4
		assert.Error(t, cfg.Validate())
	})
}

func TestApplySecret(t *testing.T) {
	t.Setenv("GATEKEEPER_TEST_KEEP", "original")

	applied, err := applySecret([]byte(`{"GATEKEEPER_TEST_KEEP":"secret","GATEKEEPER_TEST_NEW":42}`), false)
	require.NoError(t, err)
	t.Cleanup(func() { os.Unsetenv("GATEKEEPER_TEST_NEW") })

	assert.Equal(t, 1, applied)
	assert.Equal(t, "original", os.Getenv("GATEKEEPER_TEST_KEEP"))
	assert.Equal(t, "42", os.Getenv("GATEKEEPER_TEST_NEW"))

	_, err = applySecret([]byte("not json"), true)
	assert.Error(t, err)
}
