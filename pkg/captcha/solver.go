// Package captcha integrates an external captcha solving service. Solving is
// a submit-then-poll protocol: the challenge is submitted once, then the
// service is polled until a token is ready or the solve timeout elapses.
package captcha

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/config"
	"github.com/robbine/financial-data-collection/pkg/utils"
)

// Kind identifies the challenge type presented by a page
type Kind string

const (
	KindRecaptcha Kind = "recaptcha"
	KindHCaptcha  Kind = "hcaptcha"
)

// Challenge describes a captcha encountered while fetching a page
type Challenge struct {
	Kind    Kind
	SiteKey string
	PageURL string
}

// Solver resolves a challenge into a response token
type Solver interface {
	// Solve blocks until a token is available, the solve timeout elapses,
	// or ctx is cancelled.
	Solve(ctx context.Context, ch Challenge) (string, error)
}

const notReadyMarker = "CAPCHA_NOT_READY" // Spelled exactly as the service returns it

// HTTPSolver talks to a 2captcha-compatible solving service
type HTTPSolver struct {
	endpoint     string
	apiKey       string
	pollInterval time.Duration
	solveTimeout time.Duration
	client       *http.Client
	log          *logrus.Entry
}

// NewHTTPSolver creates a solver from configuration. Returns nil when
// solving is disabled so callers can treat a nil Solver as "not configured".
func NewHTTPSolver(cfg config.CaptchaConfig, log *logrus.Entry) *HTTPSolver {
	if !cfg.Enabled {
		return nil
	}
	return &HTTPSolver{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		pollInterval: cfg.PollInterval,
		solveTimeout: cfg.SolveTimeout,
		client:       &http.Client{Timeout: 30 * time.Second},
		log:          log.WithField("component", "captcha"),
	}
}

// Solve submits the challenge and polls for the token
func (s *HTTPSolver) Solve(ctx context.Context, ch Challenge) (string, error) {
	solveCtx, cancel := context.WithTimeout(ctx, s.solveTimeout)
	defer cancel()

	id, err := s.submit(solveCtx, ch)
	if err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"id": id, "kind": ch.Kind, "page_url": ch.PageURL}).
		Debug("Captcha submitted, polling for solution")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-solveCtx.Done():
			return "", fmt.Errorf("%w: gave up after %v: %v", utils.ErrCaptchaUnsolved, s.solveTimeout, solveCtx.Err())
		case <-ticker.C:
		}

		token, ready, err := s.poll(solveCtx, id)
		if err != nil {
			return "", err
		}
		if ready {
			return token, nil
		}
	}
}

// submit registers the challenge with the service and returns its task id
func (s *HTTPSolver) submit(ctx context.Context, ch Challenge) (string, error) {
	method := "userrecaptcha"
	if ch.Kind == KindHCaptcha {
		method = "hcaptcha"
	}
	form := url.Values{
		"key":     {s.apiKey},
		"method":  {method},
		"sitekey": {ch.SiteKey},
		"pageurl": {ch.PageURL},
	}

	body, err := s.post(ctx, s.endpoint+"/in.php", form)
	if err != nil {
		return "", fmt.Errorf("%w: submit failed: %v", utils.ErrCaptchaUnsolved, err)
	}
	if !strings.HasPrefix(body, "OK|") {
		return "", fmt.Errorf("%w: submit rejected: %s", utils.ErrCaptchaUnsolved, body)
	}
	return strings.TrimPrefix(body, "OK|"), nil
}

// poll asks the service for the solution. ready is false while the service is
// still working on it.
func (s *HTTPSolver) poll(ctx context.Context, id string) (token string, ready bool, err error) {
	q := url.Values{"key": {s.apiKey}, "action": {"get"}, "id": {id}}
	body, err := s.get(ctx, s.endpoint+"/res.php?"+q.Encode())
	if err != nil {
		return "", false, fmt.Errorf("%w: poll failed: %v", utils.ErrCaptchaUnsolved, err)
	}
	switch {
	case body == notReadyMarker:
		return "", false, nil
	case strings.HasPrefix(body, "OK|"):
		return strings.TrimPrefix(body, "OK|"), true, nil
	default:
		return "", false, fmt.Errorf("%w: service error: %s", utils.ErrCaptchaUnsolved, body)
	}
}

func (s *HTTPSolver) post(ctx context.Context, endpoint string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return s.do(req)
}

func (s *HTTPSolver) get(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	return s.do(req)
}

func (s *HTTPSolver) do(req *http.Request) (string, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
