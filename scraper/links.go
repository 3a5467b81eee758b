package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

// LinkCollector extracts the canonical detail-page links of one listing page.
type LinkCollector struct {
	transport      *Transport
	layout         config.Layout
	redirectPrefix string
	aliases        map[string]struct{}
	canonical      string

	// resolved memoises redirect-wrapper URL -> destination. Nil when disabled.
	resolved *lru.Cache[string, string]
}

// NewLinkCollector builds a collector from the layout, redirect and locale
// settings of cfg.
func NewLinkCollector(transport *Transport, cfg *config.Config) (*LinkCollector, error) {
	lc := &LinkCollector{
		transport:      transport,
		layout:         cfg.Layout,
		redirectPrefix: cfg.RedirectPrefix,
		aliases:        make(map[string]struct{}, len(cfg.LocaleAliases)),
		canonical:      cfg.CanonicalLocale,
	}
	for _, alias := range cfg.LocaleAliases {
		if alias != "" && alias != cfg.CanonicalLocale {
			lc.aliases[alias] = struct{}{}
		}
	}
	if cfg.RedirectCacheSize > 0 {
		cache, err := lru.New[string, string](cfg.RedirectCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create redirect cache: %w", err)
		}
		lc.resolved = cache
	}
	return lc, nil
}

// Collect returns the detail links of pageURL in document order. Advertising
// entries are skipped, redirect wrappers are resolved and locale variants
// are rewritten to the canonical locale. A wrapper that cannot be resolved
// fails the whole page. Repeated links keep their first position.
func (lc *LinkCollector) Collect(ctx context.Context, pageURL string) ([]string, error) {
	doc, err := lc.transport.FetchDocument(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	entries, err := parser.ParseListing(doc, lc.layout)
	if err != nil {
		return nil, &ParseError{URL: pageURL, Err: err}
	}

	base := doc.Url
	if base == nil {
		if base, err = url.Parse(pageURL); err != nil {
			return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
		}
	}

	links := make([]string, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	skipped := 0
	for _, entry := range entries {
		if entry.Advertising {
			skipped++
			continue
		}

		ref, err := url.Parse(entry.Href)
		if err != nil {
			return nil, &ParseError{URL: pageURL, Err: fmt.Errorf("entry link %q: %w", entry.Href, err)}
		}
		target := base.ResolveReference(ref)

		if lc.isRedirect(base, target) {
			target, err = lc.resolve(ctx, target.String())
			if err != nil {
				return nil, err
			}
		}

		link := lc.normalizeLocale(target).String()
		if _, dup := seen[link]; dup {
			slog.Debug("duplicate link on listing page", slog.String("page_url", pageURL), slog.String("url", link))
			continue
		}
		seen[link] = struct{}{}
		links = append(links, link)
	}

	slog.Debug("collected links",
		slog.String("page_url", pageURL),
		slog.Int("links", len(links)),
		slog.Int("advertising", skipped),
	)
	return links, nil
}

func (lc *LinkCollector) isRedirect(base, target *url.URL) bool {
	if lc.redirectPrefix == "" {
		return false
	}
	return strings.EqualFold(target.Host, base.Host) && strings.HasPrefix(target.Path, lc.redirectPrefix)
}

func (lc *LinkCollector) resolve(ctx context.Context, wrapper string) (*url.URL, error) {
	if lc.resolved != nil {
		if dest, ok := lc.resolved.Get(wrapper); ok {
			return url.Parse(dest)
		}
	}

	dest, err := lc.transport.FetchAndFollowRedirect(ctx, wrapper)
	if err != nil {
		slog.Error("redirect resolution failed", slog.String("url", wrapper), slog.Any("error", err))
		return nil, fmt.Errorf("resolve redirect %s: %w", wrapper, err)
	}
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("resolve redirect %s: %w", wrapper, err)
	}
	if lc.resolved != nil {
		lc.resolved.Add(wrapper, dest)
	}
	return u, nil
}

// normalizeLocale rewrites a leading locale path segment listed in the
// aliases to the canonical locale.
func (lc *LinkCollector) normalizeLocale(u *url.URL) *url.URL {
	if len(lc.aliases) == 0 {
		return u
	}
	rest := strings.TrimPrefix(u.Path, "/")
	segment, tail, found := strings.Cut(rest, "/")
	if _, ok := lc.aliases[segment]; !ok {
		return u
	}

	out := *u
	out.Path = "/" + lc.canonical
	if found {
		out.Path += "/" + tail
	}
	out.RawPath = ""
	return &out
}
