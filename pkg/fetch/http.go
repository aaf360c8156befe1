package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

const maxBodyBytes = 10 << 20 // 10MB cap on fetched content

// HTTPFetcher is the shipped Fetcher implementation: plain HTTP fetches with
// proxy routing, identity headers, per-host rate limiting and concurrency
// caps, and an optional robots.txt gate. Extraction beyond raw content is
// left to external capabilities.
type HTTPFetcher struct {
	clients     *ClientPool
	rateLimiter *RateLimiter
	hostSems    *HostSemaphorePool
	robots      *RobotsGate // Nil when robots checking is disabled
	log         *logrus.Entry
}

// NewHTTPFetcher builds an HTTPFetcher from configuration
func NewHTTPFetcher(cfg config.FetchConfig, log *logrus.Entry) *HTTPFetcher {
	clients := NewClientPool(cfg.HTTPClientSettings, log)
	f := &HTTPFetcher{
		clients:     clients,
		rateLimiter: NewRateLimiter(cfg.DefaultDelayPerHost, log),
		hostSems:    NewHostSemaphorePool(cfg.MaxRequestsPerHost, log),
		log:         log,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsGate(clients.For(nil), log)
	}
	return f
}

// Fetch performs one HTTP attempt for req and classifies any failure
func (f *HTTPFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		return nil, NewError(KindExtractionFailure, 0, fmt.Errorf("%w: invalid URL %q", utils.ErrRequestCreation, req.URL))
	}
	host := parsed.Hostname()
	reqLog := f.log.WithField("url", req.URL)

	if f.robots != nil && !f.robots.Allowed(ctx, parsed, req.Identity.UserAgent) {
		return nil, NewError(KindBlocked, 0, fmt.Errorf("%w: %s", utils.ErrRobotsDisallowed, req.URL))
	}

	if err := f.hostSems.Acquire(ctx, host); err != nil {
		return nil, classifyTransportError(fmt.Errorf("%w: %w", utils.ErrSemaphoreTimeout, err))
	}
	defer f.hostSems.Release(host)

	f.rateLimiter.ApplyDelay(host, req.PerHostDelay)

	attemptCtx := ctx
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, NewError(KindExtractionFailure, 0, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err))
	}
	for k, v := range req.Identity.Headers {
		// Setting Accept-Encoding by hand disables the transport's
		// transparent gzip handling, so let the transport negotiate it.
		if http.CanonicalHeaderKey(k) == "Accept-Encoding" {
			continue
		}
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := f.clients.For(req.Proxy).Do(httpReq)
	f.rateLimiter.UpdateLastRequestTime(host)
	latency := time.Since(start)

	if err != nil {
		reqLog.Debugf("Fetch transport error after %v: %v", latency, err)
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, NewError(KindNetworkFailure, resp.StatusCode, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err))
	}

	if fetchErr := classifyStatus(resp.StatusCode, body); fetchErr != nil {
		reqLog.Debugf("Fetch rejected with status %d", resp.StatusCode)
		return nil, fetchErr
	}

	return &Result{
		Content:    body,
		StatusCode: resp.StatusCode,
		Latency:    latency,
	}, nil
}

// RunEviction periodically drops idle per-host limiter state. Run in a
// goroutine; returns when ctx is cancelled.
func (f *HTTPFetcher) RunEviction(ctx context.Context, interval time.Duration) {
	f.hostSems.RunEviction(ctx, interval)
}

// classifyTransportError maps pre-response failures onto the error taxonomy
func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindTimeout, 0, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewError(KindTimeout, 0, err)
	}
	return NewError(KindNetworkFailure, 0, err)
}

// captchaMarkers are substrings that indicate a challenge page rather than
// real content
var captchaMarkers = []string{"captcha", "recaptcha", "hcaptcha", "cf-challenge"}

// classifyStatus maps HTTP status codes (and challenge pages) onto the error
// taxonomy. Returns nil for acceptable responses.
func classifyStatus(statusCode int, body []byte) *Error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		if looksLikeCaptcha(body) {
			return NewError(KindCaptchaRequired, statusCode, nil)
		}
		return nil
	case statusCode == http.StatusForbidden, statusCode == http.StatusTooManyRequests:
		if looksLikeCaptcha(body) {
			return NewError(KindCaptchaRequired, statusCode, nil)
		}
		return NewError(KindBlocked, statusCode, nil)
	case statusCode >= 500:
		return NewError(KindNetworkFailure, statusCode, nil)
	default:
		// Other 4xx/3xx: no point retrying a stable rejection
		return NewError(KindExtractionFailure, statusCode, nil)
	}
}

// looksLikeCaptcha is a cheap heuristic over the first part of the body
func looksLikeCaptcha(body []byte) bool {
	head := body
	if len(head) > 4096 {
		head = head[:4096]
	}
	lower := string(bytes.ToLower(head))
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
