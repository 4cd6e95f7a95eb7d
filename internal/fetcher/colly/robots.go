package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/metrics"
)

const (
	fallbackReasonTLSHandshake = "tls-handshake-timeout"
	fallbackReasonTimeout      = "timeout"
	fallbackRobotsBody         = "User-agent: *\nAllow: /"
)

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// RobotsTransport retries transient failures of robots.txt requests and, once
// the retries are spent, answers with an allow-all body flagged by
// crawler.RobotsFallbackHeader. Other requests pass straight to the base transport.
type RobotsTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
}

// NewRobotsTransport wraps base; nil uses a pooled default transport.
func NewRobotsTransport(base http.RoundTripper) *RobotsTransport {
	if base == nil {
		base = newHTTPTransport()
	}
	return &RobotsTransport{base: base, backoff: robotsRetryBackoff}
}

// NewRobotsClient returns an http.Client for the robots enforcer using RobotsTransport.
func NewRobotsClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: NewRobotsTransport(nil),
		Timeout:   timeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *RobotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("robots transport base roundtrip: %w", err)
		}
		return resp, nil
	}
	return t.roundTripWithRetry(req)
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func (t *RobotsTransport) roundTripWithRetry(req *http.Request) (*http.Response, error) {
	maxAttempts := len(t.backoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(cloneRequest(req))
		if err == nil {
			return resp, nil
		}
		reason, transient := transientReason(err)
		if !transient {
			return nil, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			metrics.ObserveRobotsFallback()
			return syntheticRobotsAllowAllResponse(req, reason), nil
		}
		if err := crawler.Pause(req.Context(), t.backoff[attempt]); err != nil {
			return nil, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return nil, fmt.Errorf("robots roundtrip exhausted retries")
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	clone.Body = req.Body
	return clone
}

func syntheticRobotsAllowAllResponse(req *http.Request, reason string) *http.Response {
	header := make(http.Header)
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set(crawler.RobotsFallbackHeader, reason)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Body:          io.NopCloser(strings.NewReader(fallbackRobotsBody)),
		ContentLength: int64(len(fallbackRobotsBody)),
		Header:        header,
		Request:       req,
	}
}

func transientReason(err error) (string, bool) {
	if err == nil {
		return "", false
	}
	if strings.Contains(err.Error(), "tls: handshake timeout") ||
		strings.Contains(err.Error(), "TLS handshake timeout") {
		return fallbackReasonTLSHandshake, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fallbackReasonTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fallbackReasonTimeout, true
	}
	return "", false
}
