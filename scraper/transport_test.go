package scraper

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aluiziolira/go-scrape-listings/config"
)

func testPolicy() config.RetryPolicy {
	cfg := config.DefaultConfig()
	cfg.Delay = 0
	return cfg.RetryPolicy()
}

func newTestTransport(t *testing.T, policy config.RetryPolicy) (*Transport, *httpmock.MockTransport) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	tr, err := NewTransport(policy, WithRoundTripper(mock), WithMetrics(NewMetrics()))
	require.NoError(t, err)
	return tr, mock
}

func TestFetchRetriesTransportErrors(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	seq := &sequence{responders: []httpmock.Responder{
		httpmock.NewErrorResponder(errors.New("connection reset")),
		httpmock.NewErrorResponder(errors.New("connection reset")),
		respond(http.StatusOK, "ok"),
	}}
	mock.RegisterResponder(http.MethodGet, testHost+"/flaky", seq.respond)

	resp, err := tr.Fetch(context.Background(), http.MethodGet, testHost+"/flaky", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, 3, seq.count())
}

func TestFetchGivesUpAfterMaxAttempts(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	mock.RegisterResponder(http.MethodGet, testHost+"/down", httpmock.NewErrorResponder(errors.New("connection refused")))

	_, err := tr.Fetch(context.Background(), http.MethodGet, testHost+"/down", nil)
	require.Error(t, err)

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr), "err = %v", err)
	assert.Equal(t, 3, transportErr.Attempts)
	assert.Equal(t, 3, mock.GetTotalCallCount())
	assert.True(t, IsTransportFailure(err))
}

func TestFetchStatusIsTerminal(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	mock.RegisterResponder(http.MethodGet, testHost+"/broken", respond(http.StatusInternalServerError, "boom"))

	resp, err := tr.Fetch(context.Background(), http.MethodGet, testHost+"/broken", nil)
	assert.Nil(t, resp)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	assert.Equal(t, 1, mock.GetTotalCallCount())
	assert.True(t, IsTransportFailure(err))
}

func TestFetchSleepsAfterEveryAttempt(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 500 * time.Millisecond
	tr, mock := newTestTransport(t, policy)

	var slept []time.Duration
	tr.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	seq := &sequence{responders: []httpmock.Responder{
		httpmock.NewErrorResponder(errors.New("timeout")),
		respond(http.StatusOK, "ok"),
	}}
	mock.RegisterResponder(http.MethodGet, testHost+"/slow", seq.respond)

	_, err := tr.Fetch(context.Background(), http.MethodGet, testHost+"/slow", nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, slept)
}

func TestFetchHonoursCancelledContext(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	mock.RegisterResponder(http.MethodGet, testHost+"/", respond(http.StatusOK, "ok"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Fetch(ctx, http.MethodGet, testHost+"/", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, mock.GetTotalCallCount())
}

func TestFetchSendsPolicyHeaders(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	var got http.Header
	mock.RegisterResponder(http.MethodGet, testHost+"/headers", func(req *http.Request) (*http.Response, error) {
		got = req.Header.Clone()
		return respond(http.StatusOK, "")(req)
	})

	_, err := tr.Get(context.Background(), testHost+"/headers", nil)
	require.NoError(t, err)
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Contains(t, got.Get("User-Agent"), "Firefox")
}

func TestGetMergesParams(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	var query url.Values
	mock.RegisterResponder(http.MethodGet, testHost+"/search", func(req *http.Request) (*http.Response, error) {
		query = req.URL.Query()
		return respond(http.StatusOK, "")(req)
	})

	_, err := tr.Get(context.Background(), testHost+"/search?lang=ru", url.Values{"q": {"ryzen"}})
	require.NoError(t, err)
	assert.Equal(t, "ru", query.Get("lang"))
	assert.Equal(t, "ryzen", query.Get("q"))
}

func TestPostSendsForm(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	var form url.Values
	mock.RegisterResponder(http.MethodPost, testHost+"/submit", func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		form = req.PostForm
		return respond(http.StatusOK, "done")(req)
	})

	resp, err := tr.Post(context.Background(), testHost+"/submit", url.Values{"phone": {"+373"}})
	require.NoError(t, err)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, "+373", form.Get("phone"))
}

func TestFetchTextAndFollowRedirect(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	mock.RegisterResponder(http.MethodGet, testHost+"/booster/link", redirectTo(testHost+"/ro/555"))
	mock.RegisterResponder(http.MethodGet, testHost+"/ro/555", respond(http.StatusOK, "detail"))

	final, err := tr.FetchAndFollowRedirect(context.Background(), testHost+"/booster/link?token=abc")
	require.NoError(t, err)
	assert.Equal(t, testHost+"/ro/555", final)

	text, err := tr.FetchText(context.Background(), testHost+"/ro/555")
	require.NoError(t, err)
	assert.Equal(t, "detail", text)
}

func TestCheckURL(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	mock.RegisterResponder(http.MethodGet, testHost+"/ru/list/processors", respond(http.StatusOK, "listing"))
	mock.RegisterResponder(http.MethodGet, "https://www.999.md/ru/moved", redirectTo(testHost+"/ru/list/processors"))
	mock.RegisterResponder(http.MethodGet, testHost+"/ru/blocked", redirectTo("https://consent.example.com/wall"))
	mock.RegisterResponder(http.MethodGet, "https://consent.example.com/wall", respond(http.StatusOK, "wall"))
	mock.RegisterResponder(http.MethodGet, testHost+"/ru/gone", respond(http.StatusNotFound, ""))

	ctx := context.Background()
	assert.NoError(t, tr.CheckURL(ctx, testHost+"/ru/list/processors"))
	assert.NoError(t, tr.CheckURL(ctx, "https://www.999.md/ru/moved"))

	err := tr.CheckURL(ctx, testHost+"/ru/blocked")
	assert.True(t, errors.Is(err, ErrRedirectedAway))

	err = tr.CheckURL(ctx, testHost+"/ru/gone")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestSaveBinary(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	payload := "\x89PNG\r\n\x1a\n\x00binary"
	mock.RegisterResponder(http.MethodGet, testHost+"/img/1.png", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, payload)
		resp.Header.Set("Content-Type", "image/png")
		resp.Request = req
		return resp, nil
	})
	mock.RegisterResponder(http.MethodGet, testHost+"/img/missing.png", respond(http.StatusNotFound, ""))

	dir := t.TempDir()
	dest := filepath.Join(dir, "images", "1.png")
	require.NoError(t, tr.SaveBinary(context.Background(), testHost+"/img/1.png", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	missing := filepath.Join(dir, "images", "missing.png")
	err = tr.SaveBinary(context.Background(), testHost+"/img/missing.png", missing)
	assert.True(t, IsTransportFailure(err))
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSaveBinaryLargeBody(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	payload := bytes.Repeat([]byte{0xff, 0xd8, 0x00, 0x7f}, 3<<20)
	mock.RegisterResponder(http.MethodGet, testHost+"/img/large.jpg", func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(http.StatusOK, payload)
		resp.Header.Set("Content-Type", "image/jpeg")
		resp.Header.Set("Content-Length", strconv.Itoa(len(payload)))
		resp.Request = req
		return resp, nil
	})

	dest := filepath.Join(t.TempDir(), "large.jpg")
	require.NoError(t, tr.SaveBinary(context.Background(), testHost+"/img/large.jpg", dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Len(t, data, 12<<20)
	assert.True(t, bytes.Equal(payload, data))
}

func TestSaveBinaryShortBody(t *testing.T) {
	tr, mock := newTestTransport(t, testPolicy())
	seq := &sequence{responders: []httpmock.Responder{func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewStringResponse(http.StatusOK, "truncated!")
		resp.Header.Set("Content-Type", "image/jpeg")
		resp.Header.Set("Content-Length", "100")
		resp.Request = req
		return resp, nil
	}}}
	mock.RegisterResponder(http.MethodGet, testHost+"/img/short.jpg", seq.respond)

	dest := filepath.Join(t.TempDir(), "short.jpg")
	err := tr.SaveBinary(context.Background(), testHost+"/img/short.jpg", dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errShortBody))

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, 3, transportErr.Attempts)
	assert.Equal(t, 3, seq.count())
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDeclaredLength(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		want   int64
		ok     bool
	}{
		{"plain", http.Header{"Content-Length": {"42"}}, 42, true},
		{"utf8 text", http.Header{"Content-Length": {"7"}, "Content-Type": {"text/html; charset=utf-8"}}, 7, true},
		{"re-encoded charset", http.Header{"Content-Length": {"7"}, "Content-Type": {"text/html; charset=windows-1251"}}, 0, false},
		{"compressed", http.Header{"Content-Length": {"7"}, "Content-Encoding": {"gzip"}}, 0, false},
		{"missing", http.Header{}, 0, false},
		{"garbage", http.Header{"Content-Length": {"abc"}}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := declaredLength(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBackoff(t *testing.T) {
	policy := testPolicy()
	policy.Delay = 200 * time.Millisecond
	policy.BackoffMax = 500 * time.Millisecond

	tr, _ := newTestTransport(t, policy)
	tr.jitter = func() float64 { return 1 }

	policy.Backoff = config.BackoffFixed
	tr.policy = policy
	for attempt := 1; attempt <= 4; attempt++ {
		assert.Equal(t, 200*time.Millisecond, tr.backoff(attempt))
	}

	policy.Backoff = config.BackoffExponential
	tr.policy = policy
	assert.Equal(t, 200*time.Millisecond, tr.backoff(1))
	assert.Equal(t, 400*time.Millisecond, tr.backoff(2))
	assert.Equal(t, 500*time.Millisecond, tr.backoff(3))
	assert.Equal(t, 500*time.Millisecond, tr.backoff(40))

	tr.jitter = func() float64 { return 0 }
	assert.Equal(t, 250*time.Millisecond, tr.backoff(4))
}

func TestErrorTypeLabel(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil", err: nil, expected: "unknown"},
		{name: "context timeout", err: context.DeadlineExceeded, expected: "timeout"},
		{name: "cancelled", err: context.Canceled, expected: "canceled"},
		{name: "net timeout", err: &net.DNSError{IsTimeout: true}, expected: "timeout"},
		{name: "connection", err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, expected: "connection"},
		{name: "forbidden", err: &StatusError{StatusCode: http.StatusForbidden}, expected: "forbidden"},
		{name: "not found", err: &StatusError{StatusCode: http.StatusNotFound}, expected: "not_found"},
		{name: "rate limited", err: &StatusError{StatusCode: http.StatusTooManyRequests}, expected: "rate_limited"},
		{name: "server error", err: &StatusError{StatusCode: http.StatusBadGateway}, expected: "server_error"},
		{name: "redirect status", err: &StatusError{StatusCode: http.StatusNotModified}, expected: "status"},
		{name: "parse", err: &ParseError{URL: "u", Err: errors.New("x")}, expected: "parse"},
		{name: "wrapped transport", err: &TransportError{Err: &net.OpError{Op: "read", Err: errors.New("reset")}}, expected: "connection"},
		{name: "other", err: errors.New("some other error"), expected: "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errorTypeLabel(tt.err); got != tt.expected {
				t.Fatalf("errorTypeLabel(%v) = %q, want %q", tt.err, got, tt.expected)
			}
		})
	}
}

func TestNewTransportRejectsBadPolicy(t *testing.T) {
	policy := testPolicy()
	policy.MaxAttempts = 0
	_, err := NewTransport(policy)
	assert.Error(t, err)

	policy = testPolicy()
	policy.ProxyURL = "://bad"
	_, err = NewTransport(policy)
	assert.Error(t, err)
}
