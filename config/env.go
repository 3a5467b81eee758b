package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key and whether it was set to a
// non-empty value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides cfg with any SCRAPER_* variables that are set.
func ApplyEnv(cfg *Config) error {
	if value, ok := EnvString("SCRAPER_URL"); ok {
		cfg.ListingURL = value
	}
	if value, ok := EnvString("SCRAPER_PROXY"); ok {
		cfg.ProxyURL = value
	}
	if value, ok := EnvString("SCRAPER_CHECKPOINT"); ok {
		cfg.CheckpointFile = value
	}
	if value, ok := EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := EnvString("SCRAPER_FORMAT"); ok {
		cfg.OutputFormat = strings.ToLower(value)
	}
	if value, ok := EnvString("SCRAPER_IMAGES_DIR"); ok {
		cfg.ImagesDir = value
	}
	if value, ok := EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_MAX_ATTEMPTS", &cfg.MaxAttempts},
		{"SCRAPER_WORKERS", &cfg.Workers},
	}
	for _, e := range ints {
		value, ok, err := EnvInt(e.key)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = value
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCRAPER_TIMEOUT", &cfg.Timeout},
		{"SCRAPER_DELAY", &cfg.Delay},
	}
	for _, e := range durations {
		value, ok, err := EnvDuration(e.key)
		if err != nil {
			return err
		}
		if ok {
			*e.dst = value
		}
	}
	return nil
}
