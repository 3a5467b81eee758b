package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
	"github.com/aluiziolira/go-scrape-listings/scraper"
)

func main() {
	defaults := config.DefaultConfig()

	configFile := flag.String("config", "", "YAML configuration file")
	listingURL := flag.String("url", defaults.ListingURL, "Listing URL to crawl")
	maxAttempts := flag.Int("attempts", defaults.MaxAttempts, "Attempts per request")
	timeout := flag.Duration("timeout", defaults.Timeout, "Per-attempt request timeout")
	delay := flag.Duration("delay", defaults.Delay, "Pause after every request attempt")
	backoff := flag.String("backoff", defaults.Backoff, "Delay strategy: fixed or exponential")
	backoffMax := flag.Duration("retry-backoff-max", defaults.BackoffMax, "Upper bound of the exponential delay")
	rps := flag.Float64("rps", defaults.RequestsPerSecond, "Maximum requests per second (0 = unlimited)")
	proxy := flag.String("proxy", defaults.ProxyURL, "Outbound proxy URL")
	noCookies := flag.Bool("no-cookies", !defaults.UseCookies, "Do not keep cookies between requests")
	workers := flag.Int("workers", defaults.Workers, "Concurrent detail-page fetches per listing page")
	checkpoint := flag.String("checkpoint", defaults.CheckpointFile, "Checkpoint file")
	skipPages := flag.Bool("skip-completed-pages", defaults.SkipCompletedPages, "Resume after the last checkpointed page")
	outputFile := flag.String("output", defaults.OutputFile, "Export file path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Export format: csv, json, dual, or sqlite")
	imagesDir := flag.String("images-dir", defaults.ImagesDir, "Download each item's main image into this directory")
	restart := flag.Bool("restart", false, "Discard the existing checkpoint before starting")
	preflight := flag.Bool("preflight", defaults.Preflight, "Check the listing URL is reachable before crawling")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "url":
			cfg.ListingURL = *listingURL
		case "attempts":
			cfg.MaxAttempts = *maxAttempts
		case "timeout":
			cfg.Timeout = *timeout
		case "delay":
			cfg.Delay = *delay
		case "backoff":
			cfg.Backoff = strings.ToLower(*backoff)
		case "retry-backoff-max":
			cfg.BackoffMax = *backoffMax
		case "rps":
			cfg.RequestsPerSecond = *rps
		case "proxy":
			cfg.ProxyURL = *proxy
		case "no-cookies":
			cfg.UseCookies = !*noCookies
		case "workers":
			cfg.Workers = *workers
		case "checkpoint":
			cfg.CheckpointFile = *checkpoint
		case "skip-completed-pages":
			cfg.SkipCompletedPages = *skipPages
		case "output":
			cfg.OutputFile = *outputFile
		case "format":
			cfg.OutputFormat = strings.ToLower(*outputFormat)
		case "images-dir":
			cfg.ImagesDir = *imagesDir
		case "v":
			cfg.Verbose = *verbose
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "preflight":
			cfg.Preflight = *preflight
		}
	})
	cfg.Restart = *restart

	logger, level := newLogger(cfg.Verbose)
	logger = logger.With(slog.String("run_id", uuid.NewString()))
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	store := pipeline.NewCheckpointStore(cfg.CheckpointFile)
	if cfg.Restart {
		if err := store.Remove(); err != nil {
			slog.Error("removing checkpoint", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("checkpoint discarded", slog.String("path", cfg.CheckpointFile))
	}

	exporter, err := pipeline.NewExporter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		slog.Error("creating exporter", slog.Any("error", err))
		os.Exit(1)
	}

	crawler, err := scraper.NewCrawler(cfg, store, exporter, parser.NewClassifiedsExtractor())
	if err != nil {
		slog.Error("initialising crawler", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(crawler.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	if cfg.Preflight {
		if err := crawler.CheckListing(ctx); err != nil {
			slog.Error("listing URL check failed", slog.String("url", cfg.ListingURL), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("listing URL reachable", slog.String("url", cfg.ListingURL))
	}

	slog.Info("starting scraping process",
		slog.String("url", cfg.ListingURL),
		slog.String("checkpoint", cfg.CheckpointFile),
		slog.Int("workers", cfg.Workers),
	)

	result, runErr := crawler.Run(ctx)

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(result, exporter.Paths())
	if runErr != nil {
		slog.Error("scraping process failed", slog.String("state", result.State), slog.Any("error", runErr))
		os.Exit(1)
	}
	slog.Info("scraping process complete")
}

// loadConfig layers the optional YAML file and SCRAPER_* variables over the
// defaults. Flags are applied by the caller.
func loadConfig(path string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func printSummary(result *models.CrawlResult, outputs []string) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Printf("Scrape %s\n", result.State)

	duration := result.EndTime.Sub(result.StartTime)
	fmt.Printf("  Pages:         %d/%d\n", result.PagesProcessed, result.PageCount)
	fmt.Printf("  Total items:   %d\n", len(result.Items))
	fmt.Printf("  Loaded:        %d\n", result.LoadedCount)
	fmt.Printf("  Scraped:       %d\n", result.ScrapedCount)
	fmt.Printf("  Duplicates:    %d\n", result.DuplicateCount)
	fmt.Printf("  Failed items:  %d\n", len(result.FailedURLs))
	if result.InvalidCount > 0 {
		fmt.Printf("  Invalid items: %d\n", result.InvalidCount)
	}
	if result.CheckpointFailures > 0 {
		fmt.Printf("  Checkpoint failures: %d\n", result.CheckpointFailures)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	if result.Exported {
		fmt.Printf("  Output file:   %s\n", strings.Join(outputs, ", "))
	} else {
		fmt.Println("  Output file:   none")
	}
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
