package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrPageCountUnavailable aborts a run whose listing page count could
	// not be fetched or parsed.
	ErrPageCountUnavailable = errors.New("page count unavailable")
	// ErrExportFailed is returned when every page was crawled but the final
	// export could not be written.
	ErrExportFailed = errors.New("export failed")
	// ErrInterrupted is returned when the run context is cancelled.
	ErrInterrupted = errors.New("crawl interrupted")
	// ErrRedirectedAway is returned by CheckURL when the request ended on
	// another site.
	ErrRedirectedAway = errors.New("redirected away from requested site")
)

// TransportError reports a request that failed at the transport level on
// every attempt, or was cut short by cancellation.
type TransportError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: failed after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response. It is terminal and never retried.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// ParseError reports a fetched page whose expected structure is missing or
// malformed.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LinkCollectionError aborts a run at the listing page that could not be
// collected.
type LinkCollectionError struct {
	Page int
	Err  error
}

func (e *LinkCollectionError) Error() string {
	return fmt.Sprintf("link collection failed for page %d: %v", e.Page, e.Err)
}

func (e *LinkCollectionError) Unwrap() error {
	return e.Err
}

// IsTransportFailure reports whether err came from exhausted retries or a
// non-2xx status.
func IsTransportFailure(err error) bool {
	var transportErr *TransportError
	var statusErr *StatusError
	return errors.As(err, &transportErr) || errors.As(err, &statusErr)
}

// errorTypeLabel maps an error to the category used in logs and metrics.
func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusForbidden:
			return "forbidden"
		case statusErr.StatusCode == http.StatusNotFound:
			return "not_found"
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return "server_error"
		}
		return "status"
	}

	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return "parse"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "connection"
	}
	return "other"
}
