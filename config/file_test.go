package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const confOverrides = `
---
listing_url: https://example.test/ru/list/processors
max_attempts: 5
delay: 250ms
backoff: exponential
backoff_max: 3s
workers: 4
headers:
  Accept-Language: ru
layout:
  container: ul.items
...
`

func TestLoad(t *testing.T) {
	cfg, err := Load([]byte(confOverrides))
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/ru/list/processors", cfg.ListingURL)
	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, BackoffExponential, cfg.Backoff)
	assert.Equal(t, 3*time.Second, cfg.BackoffMax)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, "ru", cfg.Headers["Accept-Language"])
	assert.Equal(t, "*/*", cfg.Headers["Accept"], "default headers are kept")
	assert.Equal(t, "ul.items", cfg.Layout.Container)
	assert.Equal(t, DefaultLayout().Entry, cfg.Layout.Entry, "unset layout keys keep defaults")
	assert.NoError(t, cfg.Validate())
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errors.Is(err, ErrConfigNotFound))

	path := filepath.Join(dir, "crawler.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_format: sqlite\noutput_file: out/items.db\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.OutputFormat)
	assert.Equal(t, "out/items.db", cfg.OutputFile)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load([]byte("max_attempts: [1, 2"))
	assert.Error(t, err)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("SCRAPER_TEST_INT", " 7 ")
	t.Setenv("SCRAPER_TEST_BAD", "seven")
	t.Setenv("SCRAPER_TEST_DURATION", "1500ms")

	value, ok, err := EnvInt("SCRAPER_TEST_INT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, value)

	_, _, err = EnvInt("SCRAPER_TEST_BAD")
	assert.Error(t, err)

	_, ok, err = EnvInt("SCRAPER_TEST_UNSET")
	require.NoError(t, err)
	assert.False(t, ok)

	d, ok, err := EnvDuration("SCRAPER_TEST_DURATION")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1500*time.Millisecond, d)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SCRAPER_URL", "https://example.test/list")
	t.Setenv("SCRAPER_FORMAT", "SQLite")
	t.Setenv("SCRAPER_WORKERS", "3")
	t.Setenv("SCRAPER_DELAY", "2s")

	cfg := DefaultConfig()
	require.NoError(t, ApplyEnv(cfg))
	assert.Equal(t, "https://example.test/list", cfg.ListingURL)
	assert.Equal(t, "sqlite", cfg.OutputFormat)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 2*time.Second, cfg.Delay)
	assert.Equal(t, 3, cfg.MaxAttempts)

	t.Setenv("SCRAPER_MAX_ATTEMPTS", "many")
	assert.Error(t, ApplyEnv(DefaultConfig()))
}
