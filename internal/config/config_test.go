package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithToken(t *testing.T) {
	t.Setenv("API_TOKEN", "tok")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.OfferFastInterval)
	assert.Equal(t, 60*time.Second, cfg.OfferSlowInterval)
	assert.Equal(t, "driversync.db", cfg.SQLitePath)
}

func TestLoadRequiresToken(t *testing.T) {
	os.Unsetenv("API_TOKEN")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_TOKEN")
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driverd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_token: from-file\nlog_level: debug\noffer_fast_interval: 20s\n"), 0o600))
	t.Setenv("API_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIToken)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.OfferFastInterval)
}

func TestMalformedFileDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "driverd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("api_token: tok\ntick: soon\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tick")
}

func TestInvalidIntervalsRejected(t *testing.T) {
	t.Setenv("API_TOKEN", "tok")
	t.Setenv("OFFER_FAST_INTERVAL", "90s")
	t.Setenv("OFFER_SLOW_INTERVAL", "60s")
	defer os.Unsetenv("OFFER_FAST_INTERVAL")
	defer os.Unsetenv("OFFER_SLOW_INTERVAL")

	_, err := Load("")
	require.Error(t, err)
}
