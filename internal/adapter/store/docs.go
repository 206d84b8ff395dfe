package store

import (
	"context"
	"encoding/json"

	"go.etcd.io/bbolt"
)

// DocRecord tracks which vectors were produced from a source document, so
// re-ingesting can skip unchanged files and drop vectors of removed ones.
type DocRecord struct {
	Path     string   `json:"-"`
	ModTime  int64    `json:"mod_time"`
	ChunkIDs []string `json:"chunk_ids"`
}

// PutDoc stores the record for a document.
func (s *BoltIndex) PutDoc(ctx context.Context, rec DocRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.bucket(tx, bucketDocs).Put([]byte(rec.Path), data)
	})
}

// ListDocs returns all document records keyed by path.
func (s *BoltIndex) ListDocs(ctx context.Context) (map[string]DocRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make(map[string]DocRecord)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return s.bucket(tx, bucketDocs).ForEach(func(k, v []byte) error {
			var rec DocRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			rec.Path = string(k)
			docs[rec.Path] = rec
			return nil
		})
	})
	return docs, err
}

// DeleteDoc removes a document record together with its vectors.
func (s *BoltIndex) DeleteDoc(ctx context.Context, path string) error {
	docs, err := s.ListDocs(ctx)
	if err != nil {
		return err
	}
	rec, ok := docs[path]
	if !ok {
		return nil
	}
	if err := s.Delete(ctx, rec.ChunkIDs); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return s.bucket(tx, bucketDocs).Delete([]byte(path))
	})
}
