package scraper

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/jarcoal/httpmock"
)

const testHost = "https://999.md"

// respond returns a responder that records the request on the response so
// the final URL survives redirects.
func respond(status int, body string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(status, body)
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set("Content-Type", "text/html; charset=utf-8")
		resp.Request = req
		return resp, nil
	}
}

func redirectTo(location string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusFound, "")
		if resp.Header == nil {
			resp.Header = http.Header{}
		}
		resp.Header.Set("Location", location)
		resp.Request = req
		return resp, nil
	}
}

// sequence serves responders in order and repeats the last one.
type sequence struct {
	mu         sync.Mutex
	responders []httpmock.Responder
	calls      int
}

func (s *sequence) respond(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	i := s.calls
	if i >= len(s.responders) {
		i = len(s.responders) - 1
	}
	s.calls++
	r := s.responders[i]
	s.mu.Unlock()
	return r(req)
}

func (s *sequence) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// listingHTML renders a listing page whose paginator ends at pageCount.
// An entry "ad" renders an advertising entry without a link.
func listingHTML(pageCount int, hrefs ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><nav class="paginator"><ul>`)
	b.WriteString(`<li><a href="/ru/list/processors?page=1">1</a></li>`)
	fmt.Fprintf(&b, `<li><a href="/ru/list/processors?page=%d">%d</a></li>`, pageCount, pageCount)
	b.WriteString(`</ul></nav><ul class="ads-list-photo large-photo">`)
	for _, href := range hrefs {
		if href == "ad" {
			b.WriteString(`<li class="ads-list-photo-item"><span class="advertising-label">Реклама</span>` +
				`<div class="ads-list-photo-item-title"><a href="/booster/link?token=promo">promo</a></div></li>`)
			continue
		}
		fmt.Fprintf(&b, `<li class="ads-list-photo-item"><div class="ads-list-photo-item-title"><a href="%s">item</a></div></li>`, href)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func detailHTML(title string) string {
	return `<html><head><meta property="og:image" content="/img/` + title + `.png"></head><body>` +
		`<h1 itemprop="name">` + title + `</h1>` +
		`<div class="adPage__content__footer__wrapper">` +
		`<li class="adPage__content__price-feature__prices__price">1 500 lei</li>` +
		`<a href="tel:+37360000000">call</a></div></body></html>`
}

const listingPath = "/ru/list/processors"

// site serves a fake listing through httpmock and counts hits per URL.
type site struct {
	mock *httpmock.MockTransport

	mu   sync.Mutex
	hits map[string]int
}

func newSite() *site {
	return &site{mock: httpmock.NewMockTransport(), hits: make(map[string]int)}
}

func (s *site) counted(r httpmock.Responder) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		s.mu.Lock()
		s.hits[req.URL.String()]++
		s.mu.Unlock()
		return r(req)
	}
}

func (s *site) hitsFor(rawURL string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[rawURL]
}

func pageURL(page int) string {
	return fmt.Sprintf("%s%s?page=%d", testHost, listingPath, page)
}

// listing registers the listing root (used for the page count) and one
// page per entry of pages.
func (s *site) listing(pages ...[]string) {
	s.mock.RegisterResponder(http.MethodGet, testHost+listingPath,
		s.counted(respond(http.StatusOK, listingHTML(len(pages), pages[0]...))))
	for i, hrefs := range pages {
		s.page(i+1, respond(http.StatusOK, listingHTML(len(pages), hrefs...)))
	}
}

func (s *site) page(n int, r httpmock.Responder) {
	s.mock.RegisterResponderWithQuery(http.MethodGet, testHost+listingPath, fmt.Sprintf("page=%d", n), s.counted(r))
}

// items registers a detail page for every id under /ru/.
func (s *site) items(ids ...string) {
	for _, id := range ids {
		s.mock.RegisterResponder(http.MethodGet, testHost+"/ru/"+id, s.counted(respond(http.StatusOK, detailHTML("item-"+id))))
	}
}

func (s *site) route(path string, r httpmock.Responder) {
	s.mock.RegisterResponder(http.MethodGet, testHost+path, s.counted(r))
}
