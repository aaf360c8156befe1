package incremental

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/robbine/financial-data-collection/pkg/utils"
)

const (
	fingerprintKeyPrefix = "fp:"            // Prefix for fingerprint keys in DB
	fingerprintDBDir     = "fingerprint_db" // Subdirectory within stateDir for Badger files
)

// badgerLoggerAdapter implements badger.Logger over logrus
type badgerLoggerAdapter struct {
	*logrus.Entry
}

func (l badgerLoggerAdapter) Errorf(f string, v ...interface{})   { l.Entry.Errorf(f, v...) }
func (l badgerLoggerAdapter) Warningf(f string, v ...interface{}) { l.Entry.Warningf(f, v...) }
func (l badgerLoggerAdapter) Infof(f string, v ...interface{})    { l.Entry.Infof(f, v...) }
func (l badgerLoggerAdapter) Debugf(f string, v ...interface{})   { l.Entry.Debugf(f, v...) }

// BadgerStore persists fingerprint records in BadgerDB so re-crawl decisions
// survive process restarts. Badger's own LSM size management replaces the
// in-memory store's LRU capacity bound.
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the fingerprint database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, fingerprintDBDir)
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	logger.Infof("Opening fingerprint database at: %s", dbPath)
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLoggerAdapter{logger.WithField("component", "badgerdb")}).
		WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %v", utils.ErrDatabase, dbPath, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

// Get retrieves the record for a URL
func (s *BadgerStore) Get(url string) (Record, bool, error) {
	var rec Record
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fingerprintKeyPrefix + url))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: reading fingerprint for %s: %v", utils.ErrDatabase, url, err)
	}
	return rec, found, nil
}

// Put stores or refreshes a record
func (s *BadgerStore) Put(url string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: marshalling fingerprint for %s: %v", utils.ErrDatabase, url, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(fingerprintKeyPrefix+url), data)
	})
	if err != nil {
		return fmt.Errorf("%w: writing fingerprint for %s: %v", utils.ErrDatabase, url, err)
	}
	return nil
}

// Len counts stored records with a key-only scan
func (s *BadgerStore) Len() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(fingerprintKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting fingerprints: %v", utils.ErrDatabase, err)
	}
	return count, nil
}

// Close cleanly closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
