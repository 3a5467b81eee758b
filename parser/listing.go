package parser

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-listings/config"
)

// ErrStructure is returned when an expected part of a page is missing or
// malformed.
var ErrStructure = errors.New("unexpected page structure")

// ListingEntry is one entry of a listing page in document order.
type ListingEntry struct {
	Href        string
	Advertising bool
}

// ParsePageCount returns the highest page number linked from the
// paginator. Links without a numeric page parameter are skipped, and a
// trailing "next" arrow cannot lower the count.
func ParsePageCount(doc *goquery.Document, layout config.Layout, pageParam string) (int, error) {
	items := doc.Find(layout.PaginatorItems)
	if items.Length() == 0 {
		return 0, fmt.Errorf("%w: paginator %q not found", ErrStructure, layout.PaginatorItems)
	}

	count, found := 0, false
	var lastErr error
	items.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		u, err := url.Parse(href)
		if err != nil {
			lastErr = fmt.Errorf("%w: paginator link %q: %v", ErrStructure, href, err)
			return
		}
		raw := u.Query().Get(pageParam)
		if raw == "" {
			lastErr = fmt.Errorf("%w: paginator link %q has no %q parameter", ErrStructure, href, pageParam)
			return
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			lastErr = fmt.Errorf("%w: page number %q is not a number", ErrStructure, raw)
			return
		}
		if !found || n > count {
			count, found = n, true
		}
	})

	if !found {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, fmt.Errorf("%w: paginator has no page links", ErrStructure)
	}
	if count < 1 {
		return 0, fmt.Errorf("%w: page count %d is not positive", ErrStructure, count)
	}
	return count, nil
}

// ParseListing returns the entries of the listing container in document
// order. Entries carrying the advertising marker are returned flagged and
// without a link; every other entry must have a title link.
func ParseListing(doc *goquery.Document, layout config.Layout) ([]ListingEntry, error) {
	container := doc.Find(layout.Container).First()
	if container.Length() == 0 {
		return nil, fmt.Errorf("%w: listing container %q not found", ErrStructure, layout.Container)
	}

	var (
		entries []ListingEntry
		err     error
	)
	container.Find(layout.Entry).EachWithBreak(func(i int, s *goquery.Selection) bool {
		if layout.AdMarker != "" && s.Find(layout.AdMarker).Length() > 0 {
			entries = append(entries, ListingEntry{Advertising: true})
			return true
		}
		href, ok := s.Find(layout.TitleAnchor).First().Attr("href")
		href = strings.TrimSpace(href)
		if !ok || href == "" {
			err = fmt.Errorf("%w: entry %d has no title link", ErrStructure, i+1)
			return false
		}
		entries = append(entries, ListingEntry{Href: href})
		return true
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
