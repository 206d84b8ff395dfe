package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// CurrentSchemaVersion is the current index schema version.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 2

var (
	keySchemaVersion  = []byte("schema_version")
	keyEmbeddingModel = []byte("embedding_model")
)

// SchemaInfo stores schema version and the embedding model that produced
// the stored vectors.
type SchemaInfo struct {
	Version        int    `json:"version"`
	EmbeddingModel string `json:"embedding_model"`
	Dimension      int    `json:"dimension"`
}

// MigrationResult describes the result of a migration check.
type MigrationResult struct {
	NeedsMigration bool
	NeedsRebuild   bool
	OldVersion     int
	NewVersion     int
	Reason         string
}

// SchemaInfo retrieves the schema info of the index.
func (s *BoltIndex) SchemaInfo() (*SchemaInfo, error) {
	info := &SchemaInfo{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := s.bucket(tx, bucketMeta)
		if b == nil {
			return nil
		}
		if data := b.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				info.Version = 1
			}
		}
		if data := b.Get(keyEmbeddingModel); data != nil {
			info.EmbeddingModel = string(data)
		}
		return nil
	})

	s.mu.RLock()
	info.Dimension = s.dimension
	s.mu.RUnlock()

	return info, err
}

// CheckMigration checks whether the index must be migrated or rebuilt
// before vectors from the given embedding model can be written.
func (s *BoltIndex) CheckMigration(model string, dimension int) (*MigrationResult, error) {
	info, err := s.SchemaInfo()
	if err != nil {
		return nil, fmt.Errorf("failed to get schema info: %w", err)
	}

	result := &MigrationResult{
		OldVersion: info.Version,
		NewVersion: CurrentSchemaVersion,
	}

	switch {
	case info.Version == 0:
		result.NeedsMigration = true
		result.Reason = "initializing schema version"
	case info.Version < CurrentSchemaVersion:
		result.NeedsMigration = true
		result.Reason = fmt.Sprintf("schema upgrade from v%d to v%d", info.Version, CurrentSchemaVersion)
	case info.Version > CurrentSchemaVersion:
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("index created by newer version (v%d > v%d)", info.Version, CurrentSchemaVersion)
		return result, nil
	}

	if info.EmbeddingModel != "" && info.EmbeddingModel != model {
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("embedding model changed (%s -> %s)", info.EmbeddingModel, model)
	} else if info.Dimension != 0 && dimension != 0 && info.Dimension != dimension {
		result.NeedsRebuild = true
		result.Reason = fmt.Sprintf("embedding dimension changed (%d -> %d)", info.Dimension, dimension)
	}

	return result, nil
}

// Migrate runs pending migrations and records the embedding model.
func (s *BoltIndex) Migrate(model string) error {
	info, err := s.SchemaInfo()
	if err != nil {
		return err
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := s.bucket(tx, bucketMeta)
		data, err := json.Marshal(CurrentSchemaVersion)
		if err != nil {
			return err
		}
		if err := b.Put(keySchemaVersion, data); err != nil {
			return err
		}
		return b.Put(keyEmbeddingModel, []byte(model))
	})
}

func (s *BoltIndex) runMigration(from, to int) error {
	switch {
	case from == 1 && to == 2:
		// v2 added per-document tracking.
		return s.db.Update(func(tx *bbolt.Tx) error {
			_, err := tx.Bucket(bucketIndexes).Bucket(s.name).CreateBucketIfNotExists(bucketDocs)
			return err
		})
	default:
		return nil
	}
}

// Clear removes all vectors and document records and resets the dimension.
func (s *BoltIndex) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(bucketIndexes).Bucket(s.name)
		for _, name := range [][]byte{bucketVectors, bucketDocs} {
			if err := root.DeleteBucket(name); err != nil && err != bbolt.ErrBucketNotFound {
				return err
			}
			if _, err := root.CreateBucket(name); err != nil {
				return err
			}
		}
		return root.Bucket(bucketMeta).Delete(keyDimension)
	})
	if err != nil {
		return err
	}

	s.vectors = make(map[string]vectorEntry)
	s.dimension = 0
	return nil
}
