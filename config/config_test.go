package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/princinho/vrixsa/devices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("MONGODB_URI", "mongodb://localhost:27017")
	t.Setenv("JWT_SECRET", "access")
	t.Setenv("JWT_REFRESH_SECRET", "refresh")
}

func TestDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 15*time.Minute, cfg.OneTimeTTL)
	assert.Equal(t, devices.PolicyLenient, cfg.DevicePolicy)
	assert.True(t, cfg.Cookies.Secure)
	assert.Equal(t, http.SameSiteLaxMode, cfg.Cookies.SameSite)
	assert.Equal(t, "vrixsa_email-queue", cfg.EmailQueueKey)
	assert.Equal(t, 5, cfg.MaxUploadSizeMB)
}

func TestOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "5")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "-3")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("ADMIN_EMAIL", " Admin@Example.com ")
	t.Setenv("ADMIN_PASSWORD", "secretpass")
	t.Setenv("DEVICE_MATCH_POLICY", "strict")
	t.Setenv("CLIENT_URL", "https://app.example/")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "admin@example.com", cfg.AdminEmail)
	assert.Equal(t, devices.PolicyStrict, cfg.DevicePolicy)
	assert.Equal(t, "https://app.example", cfg.ClientURL)
}

func TestValidation(t *testing.T) {
	t.Run("missing secrets", func(t *testing.T) {
		t.Setenv("MONGODB_URI", "mongodb://x")
		t.Setenv("JWT_SECRET", "")
		t.Setenv("JWT_REFRESH_SECRET", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "JWT_SECRET")
	})
	t.Run("shared secret", func(t *testing.T) {
		setRequired(t)
		t.Setenv("JWT_REFRESH_SECRET", "access")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "must differ")
	})
	t.Run("admin half set", func(t *testing.T) {
		setRequired(t)
		t.Setenv("ADMIN_EMAIL", "admin@example.com")
		t.Setenv("ADMIN_PASSWORD", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "ADMIN_EMAIL")
	})
	t.Run("bad policy", func(t *testing.T) {
		setRequired(t)
		t.Setenv("DEVICE_MATCH_POLICY", "paranoid")
		_, err := FromEnv()
		assert.Error(t, err)
	})
	t.Run("r2 without public domain", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORAGE_DRIVER", "r2")
		t.Setenv("R2_BUCKET", "avatars")
		t.Setenv("R2_ACCESS_KEY_ID", "key")
		t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
		t.Setenv("R2_ENDPOINT", "https://acct.r2.cloudflarestorage.com")
		t.Setenv("R2_PUBLIC_DOMAIN", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "R2_PUBLIC_DOMAIN")

		t.Setenv("R2_PUBLIC_DOMAIN", "files.example")
		_, err = FromEnv()
		assert.ErrorContains(t, err, "R2_PUBLIC_DOMAIN")

		t.Setenv("R2_PUBLIC_DOMAIN", "https://files.example/")
		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, "https://files.example", cfg.R2PublicDomain)
	})
	t.Run("gcs without bucket", func(t *testing.T) {
		setRequired(t)
		t.Setenv("STORAGE_DRIVER", "gcs")
		t.Setenv("GCS_BUCKET", "")
		_, err := FromEnv()
		assert.ErrorContains(t, err, "GCS_BUCKET")
	})
}
