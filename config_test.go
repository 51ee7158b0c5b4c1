package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSettingsMissingFileUsesDefaults(t *testing.T) {
	settings, err := loadSettings(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "auto", settings.Sender)
	assert.Equal(t, "https://medium.com", settings.BaseURL)
	assert.Equal(t, "medium.com", settings.Domain)
	assert.Equal(t, "cache.db", settings.CachePath)
	assert.Equal(t, 10, settings.Concurrency)
	assert.Equal(t, 3, settings.MaxRetries)
	assert.Equal(t, 50, settings.PageSize)
	assert.Equal(t, 30*time.Second, settings.Timeout())
	assert.Equal(t, 750*time.Millisecond, settings.RetryBackoff())
}

func TestLoadSettingsFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
sender: decodo
decodo:
  api_key: secret
  advanced: true
cache_path: /tmp/custom.db
default_ttl_seconds: 3600
timeout_seconds: 5
concurrency: 3
page_size: 20
`), 0o644))

	settings, err := loadSettings(path)
	require.NoError(t, err)

	assert.Equal(t, "decodo", settings.Sender)
	assert.Equal(t, "secret", settings.Decodo.APIKey)
	assert.True(t, settings.Decodo.Advanced)
	assert.Equal(t, "/tmp/custom.db", settings.CachePath)
	assert.Equal(t, time.Hour, settings.DefaultTTL())
	assert.Equal(t, 5*time.Second, settings.Timeout())
	assert.Equal(t, 3, settings.Concurrency)
	assert.Equal(t, 20, settings.PageSize)

	// Unset fields keep their defaults.
	assert.Equal(t, 3, settings.MaxRetries)
}

func TestLoadSettingsRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sender: [broken"), 0o644))

	_, err := loadSettings(path)
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	valid := defaultSettings()
	assert.NoError(t, valid.Validate())

	badSender := defaultSettings()
	badSender.Sender = "carrier-pigeon"
	assert.Error(t, badSender.Validate())

	noKey := defaultSettings()
	noKey.Sender = "decodo"
	assert.Error(t, noKey.Validate())

	zeroConcurrency := defaultSettings()
	zeroConcurrency.Concurrency = 0
	assert.Error(t, zeroConcurrency.Validate())

	zeroPageSize := defaultSettings()
	zeroPageSize.PageSize = -1
	assert.Error(t, zeroPageSize.Validate())
}

func TestBuildSenderDirect(t *testing.T) {
	settings := defaultSettings()
	settings.CachePath = filepath.Join(t.TempDir(), "cache.db")

	sender, err := settings.buildSender()
	require.NoError(t, err)
	defer sender.Close()

	_, ok := sender.inner.(*HTTPSender)
	assert.True(t, ok)
}

func TestBuildSenderAutoPrefersDecodoWithKey(t *testing.T) {
	settings := defaultSettings()
	settings.CachePath = filepath.Join(t.TempDir(), "cache.db")
	settings.Decodo.APIKey = "secret"

	sender, err := settings.buildSender()
	require.NoError(t, err)
	defer sender.Close()

	_, ok := sender.inner.(*DecodoSender)
	assert.True(t, ok)
}

func TestLoadProxies(t *testing.T) {
	t.Run("empty path", func(t *testing.T) {
		proxies, err := loadProxies("")
		require.NoError(t, err)
		assert.Nil(t, proxies)
	})

	t.Run("json array", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "proxies.json")
		require.NoError(t, os.WriteFile(path, []byte(`["http://p1:8080","http://p2:8080"]`), 0o644))
		proxies, err := loadProxies(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"http://p1:8080", "http://p2:8080"}, proxies)
	})

	t.Run("newline list", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "proxies.txt")
		require.NoError(t, os.WriteFile(path, []byte("http://p1:8080\n\nhttp://p2:8080\n"), 0o644))
		proxies, err := loadProxies(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"http://p1:8080", "http://p2:8080"}, proxies)
	})
}
