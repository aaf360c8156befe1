// Package fetch defines the fetch capability consumed by the orchestrator
// and ships an HTTP implementation with per-host politeness controls.
package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/robbine/financial-data-collection/pkg/identity"
	"github.com/robbine/financial-data-collection/pkg/models"
	"github.com/robbine/financial-data-collection/pkg/proxy"
)

// Request carries everything one fetch attempt needs
type Request struct {
	URL          string
	Config       models.ExtractionConfig // Opaque; interpreted only by the capability
	Proxy        *proxy.Info             // Nil = direct connection
	Identity     identity.Identity
	Timeout      time.Duration
	PerHostDelay time.Duration // Minimum gap between requests to the host; zero = fetcher default
}

// Result is a successful fetch outcome
type Result struct {
	Content          []byte
	StructuredFields map[string]interface{} // Extraction output, if the capability produces any
	StatusCode       int
	Latency          time.Duration
}

// Fetcher is the external fetch-and-extract capability. Implementations must
// honor ctx cancellation and the per-request timeout.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// ErrorKind classifies fetch failures for the retry policy
type ErrorKind string

const (
	KindTimeout           ErrorKind = "timeout"
	KindNetworkFailure    ErrorKind = "network_failure"
	KindBlocked           ErrorKind = "blocked"
	KindCaptchaRequired   ErrorKind = "captcha_required"
	KindExtractionFailure ErrorKind = "extraction_failure"
)

// Error is a classified fetch failure
type Error struct {
	Kind       ErrorKind
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %v", e.Kind, e.Err)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether the failure is worth retrying with backoff.
// CaptchaRequired is handled separately (retryable only with a solver) and
// ExtractionFailure is terminal: retrying won't fix a parse mismatch.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindTimeout, KindNetworkFailure, KindBlocked:
		return true
	}
	return false
}

// NewError builds a classified fetch error
func NewError(kind ErrorKind, statusCode int, err error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: err}
}
