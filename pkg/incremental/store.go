package incremental

import "time"

// Record is the stored fingerprint state for one URL
type Record struct {
	Hash      string    `json:"hash"`       // Content hash of the last successful fetch
	CrawledAt time.Time `json:"crawled_at"` // Timestamp of the last commit
}

// Store persists fingerprint records keyed by URL. Implementations must
// evict least-recently-committed records beyond their capacity.
type Store interface {
	// Get retrieves the record for a URL, with an existence flag
	Get(url string) (Record, bool, error)

	// Put stores (or refreshes) the record for a URL
	Put(url string, rec Record) error

	// Len returns the number of stored records
	Len() (int, error)

	// Close releases underlying resources
	Close() error
}
