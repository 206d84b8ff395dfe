package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.etcd.io/bbolt"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// ErrDimensionMismatch is returned when a vector does not match the
// dimension fixed by the first write to an index.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

var keyDimension = []byte("dimension")

var _ port.VectorIndex = (*BoltIndex)(nil)

// BoltIndex is a named vector index persisted in BoltDB.
// Uses brute-force cosine search over an in-memory copy of the vectors.
type BoltIndex struct {
	db   *bbolt.DB
	name []byte

	mu        sync.RWMutex
	dimension int
	vectors   map[string]vectorEntry
}

type vectorEntry struct {
	vector   []float32
	metadata map[string]string
}

type storedVector struct {
	Vector   []float32         `json:"v"`
	Metadata map[string]string `json:"m,omitempty"`
}

func newBoltIndex(db *bbolt.DB, name string) (*BoltIndex, error) {
	idx := &BoltIndex{
		db:      db,
		name:    []byte(name),
		vectors: make(map[string]vectorEntry),
	}

	err := db.Update(func(tx *bbolt.Tx) error {
		root, err := tx.Bucket(bucketIndexes).CreateBucketIfNotExists(idx.name)
		if err != nil {
			return err
		}
		for _, b := range [][]byte{bucketVectors, bucketDocs, bucketMeta} {
			if _, err := root.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create index %s: %w", name, err)
	}

	if err := idx.load(); err != nil {
		return nil, fmt.Errorf("failed to load index %s: %w", name, err)
	}
	return idx, nil
}

// Name returns the index name.
func (s *BoltIndex) Name() string {
	return string(s.name)
}

func (s *BoltIndex) bucket(tx *bbolt.Tx, name []byte) *bbolt.Bucket {
	root := tx.Bucket(bucketIndexes).Bucket(s.name)
	if root == nil {
		return nil
	}
	return root.Bucket(name)
}

// load reads all vectors from BoltDB into memory.
func (s *BoltIndex) load() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if meta := s.bucket(tx, bucketMeta); meta != nil {
			if data := meta.Get(keyDimension); data != nil {
				if err := json.Unmarshal(data, &s.dimension); err != nil {
					return err
				}
			}
		}

		b := s.bucket(tx, bucketVectors)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var stored storedVector
			if err := json.Unmarshal(v, &stored); err != nil {
				return nil // Skip corrupted entries
			}
			s.vectors[string(k)] = vectorEntry{
				vector:   stored.Vector,
				metadata: stored.Metadata,
			}
			return nil
		})
	})
}

// Upsert adds or replaces records. The first write fixes the index dimension.
func (s *BoltIndex) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dimension := s.dimension
	if dimension == 0 {
		dimension = len(records[0].Values)
	}
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("vector record id must not be empty")
		}
		if len(r.Values) == 0 || len(r.Values) != dimension {
			return fmt.Errorf("%w: expected %d, got %d for %s", ErrDimensionMismatch, dimension, len(r.Values), r.ID)
		}
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := s.bucket(tx, bucketVectors)
		if b == nil {
			return fmt.Errorf("vectors bucket not found")
		}

		if s.dimension == 0 {
			data, err := json.Marshal(dimension)
			if err != nil {
				return err
			}
			if err := s.bucket(tx, bucketMeta).Put(keyDimension, data); err != nil {
				return err
			}
		}

		for _, r := range records {
			data, err := json.Marshal(storedVector{Vector: r.Values, Metadata: r.Metadata})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(r.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Update in-memory cache only after the transaction committed
	s.dimension = dimension
	for _, r := range records {
		s.vectors[r.ID] = vectorEntry{
			vector:   append([]float32(nil), r.Values...),
			metadata: copyMetadata(r.Metadata),
		}
	}
	return nil
}

// Query finds the TopK nearest vectors using cosine similarity. Ties are
// broken by ID so repeated queries against an unchanged index are stable.
func (s *BoltIndex) Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.TopK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", req.TopK)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return &domain.QueryResponse{Matches: []domain.Match{}}, nil
	}
	if len(req.Vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(req.Vector), s.dimension)
	}

	type scored struct {
		id    string
		score float64
	}

	scores := make([]scored, 0, len(s.vectors))
	for id, entry := range s.vectors {
		scores = append(scores, scored{id: id, score: CosineSimilarity(req.Vector, entry.vector)})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].score != scores[j].score {
			return scores[i].score > scores[j].score
		}
		return scores[i].id < scores[j].id
	})

	k := req.TopK
	if k > len(scores) {
		k = len(scores)
	}

	matches := make([]domain.Match, k)
	for i := 0; i < k; i++ {
		entry := s.vectors[scores[i].id]
		m := domain.Match{ID: scores[i].id, Score: scores[i].score}
		if req.IncludeMetadata {
			m.Metadata = copyMetadata(entry.metadata)
		}
		if req.IncludeValues {
			m.Values = append([]float32(nil), entry.vector...)
		}
		matches[i] = m
	}

	return &domain.QueryResponse{Matches: matches}, nil
}

// Delete removes vectors by their IDs.
func (s *BoltIndex) Delete(ctx context.Context, ids []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := s.bucket(tx, bucketVectors)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, id := range ids {
		delete(s.vectors, id)
	}
	return nil
}

// Stats reports the number of stored vectors and their dimension.
func (s *BoltIndex) Stats(ctx context.Context) (domain.IndexStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.IndexStats{
		Name:      string(s.name),
		Vectors:   len(s.vectors),
		Dimension: s.dimension,
	}, nil
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CosineSimilarity calculates the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
