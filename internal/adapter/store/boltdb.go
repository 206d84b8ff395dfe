package store

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketIndexes  = []byte("indexes")
	bucketSessions = []byte("sessions")

	// Nested buckets inside each index bucket.
	bucketVectors = []byte("vectors")
	bucketDocs    = []byte("docs")
	bucketMeta    = []byte("meta")
)

// openTimeout bounds the wait for the file lock held by another process.
const openTimeout = 2 * time.Second

// ErrIndexNotFound is returned when opening an index that does not exist
// and creation was not requested.
var ErrIndexNotFound = errors.New("index not found")

// ErrLocked is returned when another process holds the database open.
var ErrLocked = errors.New("index database is locked by another process")

// BoltStore owns the bbolt database holding vector indexes and sessions.
// Index handles are cached so every caller shares one in-memory view.
type BoltStore struct {
	db *bbolt.DB

	mu      sync.Mutex
	indexes map[string]*BoltIndex
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	return openBoltStore(path, openTimeout)
}

func openBoltStore(path string, timeout time.Duration) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: timeout})
	if errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketIndexes, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{
		db:      db,
		indexes: make(map[string]*BoltIndex),
	}, nil
}

// Index returns the handle for the named index, creating it if needed.
func (s *BoltStore) Index(name string) (*BoltIndex, error) {
	return s.openIndex(name, true)
}

// ExistingIndex returns the handle for the named index, or ErrIndexNotFound.
func (s *BoltStore) ExistingIndex(name string) (*BoltIndex, error) {
	return s.openIndex(name, false)
}

func (s *BoltStore) openIndex(name string, create bool) (*BoltIndex, error) {
	if name == "" {
		return nil, fmt.Errorf("index name must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.indexes[name]; ok {
		return idx, nil
	}

	if !create {
		var exists bool
		if err := s.db.View(func(tx *bbolt.Tx) error {
			exists = tx.Bucket(bucketIndexes).Bucket([]byte(name)) != nil
			return nil
		}); err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, name)
		}
	}

	idx, err := newBoltIndex(s.db, name)
	if err != nil {
		return nil, err
	}
	s.indexes[name] = idx
	return idx, nil
}

// ListIndexes returns the names of all indexes.
func (s *BoltStore) ListIndexes() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketIndexes).ForEach(func(k, v []byte) error {
			if v == nil { // nested bucket
				names = append(names, string(k))
			}
			return nil
		})
	})
	return names, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
