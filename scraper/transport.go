package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-listings/config"
	"github.com/aluiziolira/go-scrape-listings/pipeline"
)

const responseKey = "transport.response"

var (
	errNoResponse = errors.New("no response received")
	errShortBody  = errors.New("response body shorter than content length")
)

// Response is a successful (2xx) HTTP response. URL is the final location
// after redirects.
type Response struct {
	StatusCode int
	URL        *url.URL
	Header     http.Header
	Body       []byte
}

// Transport performs HTTP requests under a RetryPolicy. Transport-level
// failures are retried up to MaxAttempts; a non-2xx status ends the call
// at once. Every attempt is followed by the policy delay.
type Transport struct {
	policy    config.RetryPolicy
	collector *colly.Collector
	metrics   *Metrics
	limiter   *rate.Limiter

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option configures a Transport.
type Option func(*Transport) error

// WithMetrics records attempts, retries and errors on m.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) error {
		t.metrics = m
		return nil
	}
}

// WithCookies keeps cookies between requests when enabled.
func WithCookies(enabled bool) Option {
	return func(t *Transport) error {
		if !enabled {
			t.collector.DisableCookies()
			return nil
		}
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return fmt.Errorf("create cookie jar: %w", err)
		}
		t.collector.SetCookieJar(jar)
		return nil
	}
}

// WithRateLimit caps attempts at rps per second. Zero disables the cap.
func WithRateLimit(rps float64) Option {
	return func(t *Transport) error {
		if rps <= 0 {
			t.limiter = nil
			return nil
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		return nil
	}
}

// WithRoundTripper replaces the HTTP transport used by the collector.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(t *Transport) error {
		t.collector.WithTransport(rt)
		return nil
	}
}

// NewTransport builds a transport for policy.
func NewTransport(policy config.RetryPolicy, opts ...Option) (*Transport, error) {
	if policy.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}

	proxy := http.ProxyFromEnvironment
	if policy.ProxyURL != "" {
		proxyURL, err := url.Parse(policy.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		proxy = http.ProxyURL(proxyURL)
	}

	options := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	}
	if ua := policy.Headers["User-Agent"]; ua != "" {
		options = append(options, colly.UserAgent(ua))
	}
	collector := colly.NewCollector(options...)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(policy.Timeout)
	collector.WithTransport(&http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   policy.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})
	collector.OnResponse(func(r *colly.Response) {
		sink, ok := r.Ctx.GetAny(responseKey).(*Response)
		if !ok {
			return
		}
		sink.StatusCode = r.StatusCode
		sink.Body = r.Body
		sink.URL = r.Request.URL
		if r.Headers != nil {
			sink.Header = r.Headers.Clone()
		}
	})

	t := &Transport{
		policy:    policy,
		collector: collector,
		sleep:     sleepContext,
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Fetch issues method against rawURL. For GET, params are merged into the
// query string; for other methods they are sent as a form body.
func (t *Transport) Fetch(ctx context.Context, method, rawURL string, params url.Values) (*Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method = strings.ToUpper(method)

	target := rawURL
	var body []byte
	if len(params) > 0 {
		if method == http.MethodGet {
			u, err := url.Parse(rawURL)
			if err != nil {
				return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
			}
			q := u.Query()
			for k, vs := range params {
				for _, v := range vs {
					q.Add(k, v)
				}
			}
			u.RawQuery = q.Encode()
			target = u.String()
		} else {
			body = []byte(params.Encode())
		}
	}

	var lastErr error
	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &TransportError{Method: method, URL: target, Attempts: attempt - 1, Err: err}
		}
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, &TransportError{Method: method, URL: target, Attempts: attempt - 1, Err: err}
			}
		}

		start := time.Now()
		resp, err := t.attempt(method, target, body)
		t.metrics.ObserveDuration(time.Since(start))
		sleepErr := t.sleep(ctx, t.backoff(attempt))

		if err == nil {
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				statusErr := &StatusError{Method: method, URL: target, StatusCode: resp.StatusCode}
				t.metrics.IncRequest("status_error")
				t.metrics.IncError(errorTypeLabel(statusErr))
				slog.Error("non-success response",
					slog.String("url", target),
					slog.Int("status", resp.StatusCode),
				)
				return nil, statusErr
			}
			t.metrics.IncRequest("ok")
			return resp, nil
		}

		lastErr = err
		category := errorTypeLabel(err)
		t.metrics.IncRequest("transport_error")
		t.metrics.IncError(category)
		slog.Warn("request attempt failed",
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", t.policy.MaxAttempts),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if sleepErr != nil {
			return nil, &TransportError{Method: method, URL: target, Attempts: attempt, Err: sleepErr}
		}
		if attempt < t.policy.MaxAttempts {
			t.metrics.IncRetries()
		}
	}

	slog.Error("request failed, attempts exhausted",
		slog.String("url", target),
		slog.Int("attempts", t.policy.MaxAttempts),
	)
	return nil, &TransportError{Method: method, URL: target, Attempts: t.policy.MaxAttempts, Err: lastErr}
}

func (t *Transport) attempt(method, target string, body []byte) (*Response, error) {
	sink := &Response{}
	cctx := colly.NewContext()
	cctx.Put(responseKey, sink)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	hdr := make(http.Header, len(t.policy.Headers))
	for k, v := range t.policy.Headers {
		hdr.Set(k, v)
	}
	if body != nil && hdr.Get("Content-Type") == "" {
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	if err := t.collector.Request(method, target, reader, cctx, hdr); err != nil {
		return nil, err
	}
	if sink.StatusCode == 0 {
		return nil, errNoResponse
	}
	if declared, ok := declaredLength(sink.Header); ok && int64(len(sink.Body)) < declared {
		return nil, fmt.Errorf("%w: got %d of %d bytes", errShortBody, len(sink.Body), declared)
	}
	if sink.URL == nil {
		u, err := url.Parse(target)
		if err != nil {
			return nil, err
		}
		sink.URL = u
	}
	return sink, nil
}

// declaredLength returns the Content-Length of a response whose body is
// delivered as sent. Compressed or re-encoded bodies have no comparable
// length.
func declaredLength(h http.Header) (int64, bool) {
	if h == nil || h.Get("Content-Encoding") != "" {
		return 0, false
	}
	contentType := strings.ToLower(h.Get("Content-Type"))
	if strings.Contains(contentType, "charset=") && !strings.Contains(contentType, "utf-8") && !strings.Contains(contentType, "utf8") {
		return 0, false
	}
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Get fetches rawURL with optional query params.
func (t *Transport) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	return t.Fetch(ctx, http.MethodGet, rawURL, params)
}

// Post sends form as an urlencoded body.
func (t *Transport) Post(ctx context.Context, rawURL string, form url.Values) (*Response, error) {
	return t.Fetch(ctx, http.MethodPost, rawURL, form)
}

// FetchText returns the response body of a GET as text.
func (t *Transport) FetchText(ctx context.Context, rawURL string) (string, error) {
	resp, err := t.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// FetchDocument GETs rawURL and parses it as HTML. The document URL is the
// final location after redirects.
func (t *Transport) FetchDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	resp, err := t.Get(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, &ParseError{URL: rawURL, Err: err}
	}
	doc.Url = resp.URL
	return doc, nil
}

// FetchAndFollowRedirect returns the URL rawURL finally resolves to.
func (t *Transport) FetchAndFollowRedirect(ctx context.Context, rawURL string) (string, error) {
	resp, err := t.Get(ctx, rawURL, nil)
	if err != nil {
		return "", err
	}
	return resp.URL.String(), nil
}

// CheckURL reports whether rawURL is reachable and still served by the
// site it names. A redirect to another site, such as a block or consent
// page, yields ErrRedirectedAway.
func (t *Transport) CheckURL(ctx context.Context, rawURL string) error {
	final, err := t.FetchAndFollowRedirect(ctx, rawURL)
	if err != nil {
		return err
	}
	requested, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	landed, err := url.Parse(final)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", final, err)
	}

	site, _, _ := strings.Cut(strings.TrimPrefix(strings.ToLower(requested.Hostname()), "www."), ".")
	if !strings.Contains(strings.ToLower(landed.Hostname()), site) {
		return fmt.Errorf("%w: %s ended at %s", ErrRedirectedAway, rawURL, final)
	}
	return nil
}

// SaveBinary downloads rawURL to destination byte for byte.
func (t *Transport) SaveBinary(ctx context.Context, rawURL, destination string) error {
	resp, err := t.Get(ctx, rawURL, nil)
	if err != nil {
		return err
	}
	return pipeline.WriteFileAtomic(destination, resp.Body, 0o644)
}

// backoff returns the pause after the given attempt. The fixed strategy
// always waits Delay; exponential doubles it per attempt up to BackoffMax
// and picks a point in the upper half of that window.
func (t *Transport) backoff(attempt int) time.Duration {
	base := t.policy.Delay
	if base <= 0 || t.policy.Backoff != config.BackoffExponential {
		return base
	}
	if attempt < 1 {
		attempt = 1
	}

	limit := t.policy.BackoffMax
	delay := base
	for i := 1; i < attempt; i++ {
		if (limit > 0 && delay >= limit) || delay > math.MaxInt64/2 {
			break
		}
		delay *= 2
	}
	if limit > 0 && delay > limit {
		delay = limit
	}

	half := delay / 2
	return half + time.Duration(t.jitter()*float64(delay-half))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
