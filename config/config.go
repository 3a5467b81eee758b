package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Backoff strategies understood by RetryPolicy.
const (
	BackoffFixed       = "fixed"
	BackoffExponential = "exponential"
)

// Config holds crawler configuration.
type Config struct {
	ListingURL string `yaml:"listing_url"`
	PageParam  string `yaml:"page_param"`

	MaxAttempts       int               `yaml:"max_attempts"`
	Timeout           time.Duration     `yaml:"timeout"`
	Delay             time.Duration     `yaml:"delay"`
	Backoff           string            `yaml:"backoff"` // fixed or exponential
	BackoffMax        time.Duration     `yaml:"backoff_max"`
	RequestsPerSecond float64           `yaml:"requests_per_second"`
	UserAgent         string            `yaml:"user_agent"`
	Headers           map[string]string `yaml:"headers"`
	ProxyURL          string            `yaml:"proxy_url"`
	UseCookies        bool              `yaml:"use_cookies"`

	Workers           int      `yaml:"workers"`
	RedirectPrefix    string   `yaml:"redirect_prefix"`
	RedirectCacheSize int      `yaml:"redirect_cache_size"`
	LocaleAliases     []string `yaml:"locale_aliases"`
	CanonicalLocale   string   `yaml:"canonical_locale"`
	Layout            Layout   `yaml:"layout"`

	CheckpointFile     string `yaml:"checkpoint_file"`
	SkipCompletedPages bool   `yaml:"skip_completed_pages"`
	OutputFile         string `yaml:"output_file"`
	OutputFormat       string `yaml:"output_format"` // csv, json, dual or sqlite
	ImagesDir          string `yaml:"images_dir"`

	Restart     bool   `yaml:"-"`
	Preflight   bool   `yaml:"preflight"`
	Verbose     bool   `yaml:"verbose"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Layout describes where the listing page keeps its pagination and entries.
type Layout struct {
	PaginatorItems string `yaml:"paginator_items"`
	Container      string `yaml:"container"`
	Entry          string `yaml:"entry"`
	AdMarker       string `yaml:"ad_marker"`
	TitleAnchor    string `yaml:"title_anchor"`
}

// RetryPolicy is the immutable request policy shared by every Transport call.
type RetryPolicy struct {
	MaxAttempts int
	Timeout     time.Duration
	Delay       time.Duration
	Backoff     string
	BackoffMax  time.Duration
	Headers     map[string]string
	ProxyURL    string
}

// DefaultLayout returns selectors for the 999.md classifieds listing.
func DefaultLayout() Layout {
	return Layout{
		PaginatorItems: "nav.paginator > ul > li",
		Container:      "ul.ads-list-photo.large-photo",
		Entry:          "li.ads-list-photo-item",
		AdMarker:       "span.advertising-label",
		TitleAnchor:    "div.ads-list-photo-item-title a",
	}
}

// DefaultConfig returns conservative defaults for the demo target.
func DefaultConfig() *Config {
	return &Config{
		ListingURL:        "https://999.md/ru/list/computers-and-office-equipment/processors",
		PageParam:         "page",
		MaxAttempts:       3,
		Timeout:           5 * time.Second,
		Delay:             500 * time.Millisecond,
		Backoff:           BackoffFixed,
		BackoffMax:        5 * time.Second,
		RequestsPerSecond: 0,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0",
		Headers:           map[string]string{"Accept": "*/*"},
		UseCookies:        true,
		Workers:           1,
		RedirectPrefix:    "/booster/link",
		RedirectCacheSize: 1024,
		LocaleAliases:     []string{"ro"},
		CanonicalLocale:   "ru",
		Layout:            DefaultLayout(),
		CheckpointFile:    "output/items.json",
		OutputFile:        "output/items.csv",
		OutputFormat:      "csv",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ListingURL == "" {
		return fmt.Errorf("listing URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.ListingURL)
	if err != nil {
		return fmt.Errorf("invalid listing URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("listing URL must include a host")
	}
	if c.PageParam == "" {
		return fmt.Errorf("page param cannot be empty")
	}

	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Backoff != BackoffFixed && c.Backoff != BackoffExponential {
		return fmt.Errorf("backoff must be fixed or exponential")
	}
	if c.BackoffMax < 0 {
		return fmt.Errorf("backoff max cannot be negative")
	}
	if c.Backoff == BackoffExponential && c.BackoffMax > 0 && c.Delay > c.BackoffMax {
		return fmt.Errorf("delay (%s) cannot exceed backoff max (%s)", c.Delay, c.BackoffMax)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ProxyURL != "" {
		proxy, err := url.Parse(c.ProxyURL)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		if proxy.Scheme == "" || proxy.Host == "" {
			return fmt.Errorf("proxy URL must include scheme and host")
		}
	}

	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.RedirectCacheSize < 0 {
		return fmt.Errorf("redirect cache size cannot be negative")
	}
	if len(c.LocaleAliases) > 0 && c.CanonicalLocale == "" {
		return fmt.Errorf("canonical locale is required when locale aliases are set")
	}
	if c.Layout.PaginatorItems == "" || c.Layout.Container == "" || c.Layout.Entry == "" || c.Layout.TitleAnchor == "" {
		return fmt.Errorf("layout selectors cannot be empty")
	}

	if c.CheckpointFile == "" {
		return fmt.Errorf("checkpoint file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case "csv", "json", "dual", "sqlite":
	default:
		return fmt.Errorf("output format must be csv, json, dual, or sqlite")
	}
	if c.OutputFile == c.CheckpointFile {
		return fmt.Errorf("output file and checkpoint file must differ")
	}

	return nil
}

// RetryPolicy returns a snapshot of the request policy. Later changes to c do
// not leak into the returned value.
func (c *Config) RetryPolicy() RetryPolicy {
	headers := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		headers[k] = v
	}
	if _, ok := headers["User-Agent"]; !ok && c.UserAgent != "" {
		headers["User-Agent"] = c.UserAgent
	}

	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Timeout:     c.Timeout,
		Delay:       c.Delay,
		Backoff:     strings.ToLower(c.Backoff),
		BackoffMax:  c.BackoffMax,
		Headers:     headers,
		ProxyURL:    c.ProxyURL,
	}
}
