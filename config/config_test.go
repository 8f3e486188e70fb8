package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "./data/reputation.db", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 5*time.Minute, cfg.EventMaxSkew)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, ":8080", cfg.Addr())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("REP_PORT", "9090")
	t.Setenv("REP_DB_PATH", ":memory:")
	t.Setenv("REP_STORE_TIMEOUT", "250ms")
	t.Setenv("REP_EVENT_MAX_SKEW", "30s")
	t.Setenv("REP_ALLOWED_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, 250*time.Millisecond, cfg.StoreTimeout)
	assert.Equal(t, 30*time.Second, cfg.EventMaxSkew)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("unparsable port", func(t *testing.T) {
		t.Setenv("REP_PORT", "abc")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse env:")
	})

	t.Run("negative event skew", func(t *testing.T) {
		t.Setenv("REP_EVENT_MAX_SKEW", "-1m")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero event skew", func(t *testing.T) {
		t.Setenv("REP_EVENT_MAX_SKEW", "0s")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("non-positive click burst", func(t *testing.T) {
		t.Setenv("REP_CLICK_BURST", "0")
		_, err := Load()
		assert.Error(t, err)
	})
}
