package scraper

import (
	"context"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/parser"
)

// PageCounter discovers how many pages a listing has.
type PageCounter struct {
	transport *Transport
	layout    config.Layout
	pageParam string
}

func NewPageCounter(transport *Transport, layout config.Layout, pageParam string) *PageCounter {
	return &PageCounter{transport: transport, layout: layout, pageParam: pageParam}
}

// Count fetches listingURL and returns the highest page number its
// paginator links to. Parse failures are not retried.
func (pc *PageCounter) Count(ctx context.Context, listingURL string) (int, error) {
	doc, err := pc.transport.FetchDocument(ctx, listingURL)
	if err != nil {
		return 0, err
	}
	count, err := parser.ParsePageCount(doc, pc.layout, pc.pageParam)
	if err != nil {
		return 0, &ParseError{URL: listingURL, Err: err}
	}
	return count, nil
}
