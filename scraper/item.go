package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/models"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

// ItemFetcher turns a detail-page URL into an Item.
type ItemFetcher struct {
	transport *Transport
	extractor parser.FieldExtractor
	imagesDir string
}

// NewItemFetcher returns a fetcher using extractor. When imagesDir is set
// the page's og:image is downloaded there as well.
func NewItemFetcher(transport *Transport, extractor parser.FieldExtractor, imagesDir string) *ItemFetcher {
	return &ItemFetcher{transport: transport, extractor: extractor, imagesDir: imagesDir}
}

// Fetch downloads link and extracts its fields. Only a failed download
// fails the item; fields that cannot be extracted are logged and left empty.
// The item link is always link itself.
func (f *ItemFetcher) Fetch(ctx context.Context, link string) (*models.Item, error) {
	doc, err := f.transport.FetchDocument(ctx, link)
	if err != nil {
		return nil, err
	}

	values, fieldErrs := f.extractor.Extract(doc)
	for _, ferr := range fieldErrs {
		slog.Warn("field extraction failed",
			slog.String("url", link),
			slog.Any("error", ferr),
		)
	}
	item := models.NewItem(link, values)

	if f.imagesDir != "" {
		f.saveImage(ctx, doc, link)
	}
	return item, nil
}

func (f *ItemFetcher) saveImage(ctx context.Context, doc *goquery.Document, link string) {
	src, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	src = strings.TrimSpace(src)
	if !ok || src == "" {
		return
	}
	ref, err := url.Parse(src)
	if err != nil {
		slog.Warn("invalid image url", slog.String("url", link), slog.String("image", src))
		return
	}
	if doc.Url != nil {
		ref = doc.Url.ResolveReference(ref)
	}

	ext := path.Ext(ref.Path)
	if ext == "" || len(ext) > 5 {
		ext = ".jpg"
	}
	dest := filepath.Join(f.imagesDir, parser.FixFilename(itemID(link)+ext))
	if err := f.transport.SaveBinary(ctx, ref.String(), dest); err != nil {
		slog.Warn("image download failed",
			slog.String("url", link),
			slog.String("image", ref.String()),
			slog.Any("error", err),
		)
		return
	}
	slog.Debug("image saved", slog.String("url", link), slog.String("path", dest))
}

// itemID is the last path segment of link.
func itemID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return "item"
	}
	id := path.Base(strings.TrimSuffix(u.Path, "/"))
	if id == "." || id == "/" || id == "" {
		return "item"
	}
	return id
}
