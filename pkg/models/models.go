package models

import "time"

// ExtractionConfig is the opaque extraction payload handed through to the
// fetch capability. The engine never inspects it.
type ExtractionConfig map[string]interface{}

// CrawlTask is a single unit of crawl work tracked by the scheduler
type CrawlTask struct {
	ID         string           `json:"id"`
	URL        string           `json:"url"`
	Config     ExtractionConfig `json:"config,omitempty"`
	Priority   TaskPriority     `json:"priority"`
	State      TaskState        `json:"state"`
	RetryCount int              `json:"retry_count"`
	MaxRetries int              `json:"max_retries"`
	CreatedAt  time.Time        `json:"created_at"`
	NotBefore  time.Time        `json:"not_before,omitempty"` // Zero = eligible immediately
	LastError  string           `json:"last_error,omitempty"`
	Result     *CrawlResult     `json:"result,omitempty"`
}

// Disposition classifies a successful crawl relative to the stored fingerprint
type Disposition string

const (
	DispositionChanged   Disposition = "changed"   // Content differs from the stored fingerprint
	DispositionUnchanged Disposition = "unchanged" // Re-fetched, fingerprint identical
	DispositionSkipped   Disposition = "skipped"   // Re-crawl interval not yet elapsed, no fetch made
)

// CrawlResult is the outcome of one successful (or skipped) crawl
type CrawlResult struct {
	URL              string                 `json:"url"`
	Disposition      Disposition            `json:"disposition"`
	ContentHash      string                 `json:"content_hash,omitempty"`
	StructuredFields map[string]interface{} `json:"structured_fields,omitempty"`
	ProxyUsed        string                 `json:"proxy_used,omitempty"` // host:port, empty if unproxied
	Latency          time.Duration          `json:"latency"`
	FetchedAt        time.Time              `json:"fetched_at"`
}

// TaskStatus is the external status snapshot returned by the orchestrator
type TaskStatus struct {
	ID         string       `json:"id"`
	State      TaskState    `json:"state"`
	RetryCount int          `json:"retry_count"`
	LastError  string       `json:"last_error,omitempty"`
	Result     *CrawlResult `json:"result,omitempty"`
}
