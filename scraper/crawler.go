package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
)

// State is a step of a crawl run.
type State int

const (
	StateInit State = iota
	StateCountingPages
	StateProcessingPage
	StateExporting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateCountingPages:
		return "counting_pages"
	case StateProcessingPage:
		return "processing_page"
	case StateExporting:
		return "exporting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Checkpointer persists the result set between runs.
type Checkpointer interface {
	Load() ([]*models.Item, error)
	Save(items []*models.Item) error
	LoadPage() (int, error)
	SavePage(page int) error
}

// Exporter writes the final result set.
type Exporter interface {
	Export(items []*models.Item) error
}

// Crawler walks a paginated listing, fetches every new detail page and
// checkpoints the result set after each listing page.
type Crawler struct {
	cfg        *config.Config
	listingURL *url.URL
	transport  *Transport
	pages      *PageCounter
	links      *LinkCollector
	items      *ItemFetcher
	checkpoint Checkpointer
	exporter   Exporter
	Metrics    *Metrics

	mu    sync.Mutex
	state State
	page  int
}

// NewCrawler wires a crawler for cfg. Extra options are applied to the
// transport after the ones derived from cfg.
func NewCrawler(cfg *config.Config, checkpoint Checkpointer, exporter Exporter, extractor parser.FieldExtractor, opts ...Option) (*Crawler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	listingURL, err := url.Parse(cfg.ListingURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	if checkpoint == nil || exporter == nil || extractor == nil {
		return nil, errors.New("checkpoint, exporter and extractor are required")
	}

	metrics := NewMetrics()
	transportOpts := []Option{
		WithMetrics(metrics),
		WithCookies(cfg.UseCookies),
		WithRateLimit(cfg.RequestsPerSecond),
	}
	transport, err := NewTransport(cfg.RetryPolicy(), append(transportOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}
	links, err := NewLinkCollector(transport, cfg)
	if err != nil {
		return nil, err
	}

	return &Crawler{
		cfg:        cfg,
		listingURL: listingURL,
		transport:  transport,
		pages:      NewPageCounter(transport, cfg.Layout, cfg.PageParam),
		links:      links,
		items:      NewItemFetcher(transport, extractor, cfg.ImagesDir),
		checkpoint: checkpoint,
		exporter:   exporter,
		Metrics:    metrics,
	}, nil
}

// State returns the current state and, while processing, the page number.
func (c *Crawler) State() (State, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.page
}

func (c *Crawler) setState(s State, page int) {
	c.mu.Lock()
	c.state = s
	c.page = page
	c.mu.Unlock()
}

// CheckListing verifies that the listing URL is reachable and not
// redirected to another site.
func (c *Crawler) CheckListing(ctx context.Context) error {
	return c.transport.CheckURL(ctx, c.cfg.ListingURL)
}

// pageURL returns the listing URL with the page parameter set to page.
func (c *Crawler) pageURL(page int) string {
	u := *c.listingURL
	q := u.Query()
	q.Set(c.cfg.PageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// run carries the per-run bookkeeping.
type run struct {
	set      *pipeline.ResultSet
	result   *models.CrawlResult
	savedLen int

	mu sync.Mutex
}

func (r *run) addFailed(link string) {
	r.mu.Lock()
	r.result.FailedURLs = append(r.result.FailedURLs, link)
	r.mu.Unlock()
}

// Run executes one crawl. The returned result is never nil; its State is
// "done" on success and "failed" otherwise, with err naming the reason.
func (c *Crawler) Run(ctx context.Context) (*models.CrawlResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &run{
		set:    pipeline.NewResultSet(),
		result: &models.CrawlResult{StartTime: time.Now()},
	}

	c.setState(StateInit, 0)
	startPage, err := c.restore(r)
	if err != nil {
		slog.Error("loading checkpoint failed", slog.Any("error", err))
		return c.finish(r, StateFailed, err)
	}

	c.setState(StateCountingPages, 0)
	count, err := c.pages.Count(ctx, c.cfg.ListingURL)
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupt(ctx, r)
		}
		slog.Error("page count unavailable",
			slog.String("url", c.cfg.ListingURL),
			slog.String("category", errorTypeLabel(err)),
			slog.Any("error", err),
		)
		return c.finish(r, StateFailed, fmt.Errorf("%w: %w", ErrPageCountUnavailable, err))
	}
	r.result.PageCount = count
	slog.Info("total page count", slog.Int("pages", count))

	for page := startPage; page <= count; page++ {
		if ctx.Err() != nil {
			return c.interrupt(ctx, r)
		}
		c.setState(StateProcessingPage, page)
		slog.Info("processing page", slog.Int("page", page), slog.Int("pages", count))

		if err := c.processPage(ctx, r, page); err != nil {
			if ctx.Err() != nil {
				return c.interrupt(ctx, r)
			}
			slog.Error("link collection failed",
				slog.Int("page", page),
				slog.String("category", errorTypeLabel(err)),
				slog.Any("error", err),
			)
			return c.finish(r, StateFailed, &LinkCollectionError{Page: page, Err: err})
		}
		r.result.PagesProcessed++
		c.Metrics.IncPages()
		c.saveCheckpoint(r, page)
	}

	c.setState(StateExporting, 0)
	items := r.set.Items()
	if len(items) == 0 {
		slog.Warn("no items collected, nothing to export")
		return c.finish(r, StateDone, nil)
	}
	if err := c.exporter.Export(items); err != nil {
		slog.Error("export failed", slog.Any("error", err))
		return c.finish(r, StateFailed, fmt.Errorf("%w: %w", ErrExportFailed, err))
	}
	r.result.Exported = true
	slog.Info("export complete", slog.Int("items", len(items)), slog.String("output", c.cfg.OutputFile))
	return c.finish(r, StateDone, nil)
}

// restore loads the checkpoint into r and returns the first page to process.
func (c *Crawler) restore(r *run) (int, error) {
	loaded, err := c.checkpoint.Load()
	if err != nil {
		return 0, err
	}
	for _, item := range loaded {
		if err := r.set.Add(item); err != nil {
			link := ""
			if item != nil {
				link = item.Link
			}
			slog.Warn("dropping checkpoint entry", slog.String("url", link), slog.Any("error", err))
		}
	}
	r.result.LoadedCount = r.set.Len()
	r.savedLen = len(loaded)
	if r.result.LoadedCount > 0 {
		slog.Info("loaded previous result", slog.Int("items", r.result.LoadedCount))
	}

	if !c.cfg.SkipCompletedPages || r.result.LoadedCount == 0 {
		return 1, nil
	}
	last, err := c.checkpoint.LoadPage()
	if err != nil {
		slog.Warn("ignoring page marker", slog.Any("error", err))
		return 1, nil
	}
	if last > 0 {
		slog.Info("skipping completed pages", slog.Int("last_page", last))
	}
	return last + 1, nil
}

// processPage collects the links of page and fetches every link not yet in
// the result set. Fetched items are appended in link order even when
// fetched concurrently. Only link collection errors are returned.
func (c *Crawler) processPage(ctx context.Context, r *run, page int) error {
	links, err := c.links.Collect(ctx, c.pageURL(page))
	if err != nil {
		return err
	}

	todo := make([]string, 0, len(links))
	for _, link := range links {
		if r.set.Contains(link) {
			r.result.DuplicateCount++
			c.Metrics.IncDuplicates()
			slog.Info("item already scraped, skipping", slog.String("url", link))
			continue
		}
		todo = append(todo, link)
	}

	fetched := make([]*models.Item, len(todo))
	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for i, link := range todo {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slog.Info("scraping item", slog.String("url", link))
			item, err := c.items.Fetch(ctx, link)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.addFailed(link)
				c.Metrics.IncItemFailures()
				slog.Error("item fetch failed",
					slog.String("url", link),
					slog.Int("page", page),
					slog.String("category", errorTypeLabel(err)),
					slog.Any("error", err),
				)
				return nil
			}
			fetched[i] = item
			return nil
		})
	}
	g.Wait()

	for _, item := range fetched {
		if item == nil {
			continue
		}
		if err := r.set.Add(item); err != nil {
			if errors.Is(err, pipeline.ErrDuplicate) {
				r.result.DuplicateCount++
				c.Metrics.IncDuplicates()
			}
			slog.Warn("item not stored", slog.String("url", item.Link), slog.Any("error", err))
			continue
		}
		r.result.ScrapedCount++
		c.Metrics.IncItems()
	}
	return ctx.Err()
}

// saveCheckpoint writes the full result set. Failures are counted and
// logged; the in-memory set is kept and written again after the next page.
func (c *Crawler) saveCheckpoint(r *run, page int) {
	items := r.set.Items()
	if err := c.checkpoint.Save(items); err != nil {
		r.result.CheckpointFailures++
		c.Metrics.IncCheckpoint("failure")
		slog.Error("saving intermediate results failed",
			slog.Int("page", page),
			slog.Any("error", err),
		)
		return
	}
	r.savedLen = len(items)
	c.Metrics.IncCheckpoint("ok")
	slog.Info("saved intermediate results", slog.Int("page", page), slog.Int("items", len(items)))

	if err := c.checkpoint.SavePage(page); err != nil {
		slog.Warn("saving page marker failed", slog.Int("page", page), slog.Any("error", err))
	}
}

// interrupt saves whatever was collected since the last checkpoint and
// fails the run.
func (c *Crawler) interrupt(ctx context.Context, r *run) (*models.CrawlResult, error) {
	slog.Warn("crawl interrupted", slog.Any("error", ctx.Err()))
	if r.set.Len() != r.savedLen {
		if err := c.checkpoint.Save(r.set.Items()); err != nil {
			r.result.CheckpointFailures++
			c.Metrics.IncCheckpoint("failure")
			slog.Error("saving checkpoint on interrupt failed", slog.Any("error", err))
		} else {
			c.Metrics.IncCheckpoint("ok")
			slog.Info("checkpoint saved on interrupt", slog.Int("items", r.set.Len()))
		}
	}
	return c.finish(r, StateFailed, fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err()))
}

func (c *Crawler) finish(r *run, state State, err error) (*models.CrawlResult, error) {
	c.setState(state, 0)
	r.result.State = state.String()
	r.result.Items = r.set.Items()
	r.result.InvalidCount = r.set.GetMetrics().Rejected["invalid_record"]
	r.result.EndTime = time.Now()
	return r.result, err
}
