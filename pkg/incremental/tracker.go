// Package incremental decides whether a URL needs re-fetching. A time gate
// (minimum re-crawl interval) avoids wasted fetches; the content fingerprint
// is the definitive changed/unchanged signal once content is in hand.
package incremental

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/utils"
)

// Tracker implements the incremental-crawl decision layer over a Store
type Tracker struct {
	store Store
	now   func() time.Time // Injectable clock for tests
	log   *logrus.Entry
}

// NewTracker creates a Tracker backed by the given store
func NewTracker(store Store, log *logrus.Entry) *Tracker {
	return &Tracker{
		store: store,
		now:   time.Now,
		log:   log,
	}
}

// ShouldCrawl returns true if the URL has no record or its last crawl is at
// least minInterval in the past. A pure scheduling gate; store read errors
// fail open so a broken store degrades to redundant fetches, not stalls.
func (t *Tracker) ShouldCrawl(url string, minInterval time.Duration) bool {
	rec, found, err := t.store.Get(url)
	if err != nil {
		t.log.WithField("url", url).Warnf("Fingerprint store read failed, crawling anyway: %v", err)
		return true
	}
	if !found {
		return true
	}
	return t.now().Sub(rec.CrawledAt) >= minInterval
}

// HasChanged reports whether newContent differs from the stored fingerprint.
// True when no record exists.
func (t *Tracker) HasChanged(url string, newContent []byte) bool {
	rec, found, err := t.store.Get(url)
	if err != nil {
		t.log.WithField("url", url).Warnf("Fingerprint store read failed, treating as changed: %v", err)
		return true
	}
	if !found {
		return true
	}
	return rec.Hash != utils.ContentHash(newContent)
}

// Commit stores the fingerprint of a successful fetch and refreshes the
// crawl timestamp. Idempotent: recommitting identical content only moves
// the timestamp forward.
func (t *Tracker) Commit(url string, content []byte) error {
	return t.store.Put(url, Record{
		Hash:      utils.ContentHash(content),
		CrawledAt: t.now(),
	})
}

// Close releases the underlying store
func (t *Tracker) Close() error {
	return t.store.Close()
}
