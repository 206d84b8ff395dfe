package port

import (
	"context"

	"ragchat/internal/domain"
)

// VectorIndex is a named handle on a vector index.
type VectorIndex interface {
	// Upsert adds or replaces records by ID.
	Upsert(ctx context.Context, records []domain.VectorRecord) error

	// Query returns up to TopK matches ordered by descending score.
	Query(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)

	// Stats reports the number of stored vectors and their dimension.
	Stats(ctx context.Context) (domain.IndexStats, error)
}
