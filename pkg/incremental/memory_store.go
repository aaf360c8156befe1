package incremental

import (
	"container/list"
	"sync"

	"github.com/sirupsen/logrus"
)

// memoryEntry pairs a record with its position in the recency list
type memoryEntry struct {
	url  string
	rec  Record
	elem *list.Element
}

// MemoryStore is the default in-process fingerprint store: a map with a
// least-recently-committed eviction list, bounded at capacity records.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	recency  *list.List // Front = most recently committed
	capacity int
	log      *logrus.Entry
}

// NewMemoryStore creates a bounded in-memory store
func NewMemoryStore(capacity int, log *logrus.Entry) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		recency:  list.New(),
		capacity: capacity,
		log:      log,
	}
}

// Get retrieves the record for a URL. Reads do not affect eviction order;
// only commits do.
func (s *MemoryStore) Get(url string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[url]
	if !ok {
		return Record{}, false, nil
	}
	return e.rec, true, nil
}

// Put stores or refreshes a record, moving it to the front of the recency
// list and evicting the least-recently-committed record when over capacity.
func (s *MemoryStore) Put(url string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[url]; ok {
		e.rec = rec
		s.recency.MoveToFront(e.elem)
		return nil
	}

	e := &memoryEntry{url: url, rec: rec}
	e.elem = s.recency.PushFront(e)
	s.entries[url] = e

	if len(s.entries) > s.capacity {
		oldest := s.recency.Back()
		if oldest != nil {
			victim := oldest.Value.(*memoryEntry)
			s.recency.Remove(oldest)
			delete(s.entries, victim.url)
			s.log.WithField("url", victim.url).Debug("Evicted fingerprint record")
		}
	}
	return nil
}

// Len returns the number of stored records
func (s *MemoryStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error {
	return nil
}
