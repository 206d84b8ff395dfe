package usecase

import (
	"context"
	"fmt"
	"strconv"

	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// QueryTopK is the number of matches returned by QueryEmbeddings.
const QueryTopK = 5

// VectorService writes and reads raw embeddings on a vector index.
type VectorService struct {
	index port.VectorIndex
}

func NewVectorService(index port.VectorIndex) *VectorService {
	return &VectorService{index: index}
}

// UpsertEmbeddings stores vectors[i] under id "text-<i>" with metadata
// {text: texts[i]}. Writing the same position again replaces the record.
func (s *VectorService) UpsertEmbeddings(ctx context.Context, texts []string, vectors [][]float32) error {
	if len(texts) != len(vectors) {
		return fmt.Errorf("texts and vectors must have the same length: %d != %d", len(texts), len(vectors))
	}
	if len(texts) == 0 {
		return nil
	}

	records := make([]domain.VectorRecord, len(texts))
	for i, text := range texts {
		records[i] = domain.VectorRecord{
			ID:       fmt.Sprintf("text-%d", i),
			Values:   vectors[i],
			Metadata: map[string]string{domain.MetaText: text},
		}
	}

	if err := s.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to upsert embeddings: %w", err)
	}
	return nil
}

// QueryEmbeddings returns the QueryTopK nearest records with metadata.
func (s *VectorService) QueryEmbeddings(ctx context.Context, vector []float32) ([]domain.Match, error) {
	resp, err := s.index.Query(ctx, domain.QueryRequest{
		Vector:          vector,
		TopK:            QueryTopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	return resp.Matches, nil
}

// UpsertChunks stores one record per chunk, keyed by chunk ID, with the
// chunk text and location as metadata.
func (s *VectorService) UpsertChunks(ctx context.Context, chunks []domain.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunks and vectors must have the same length: %d != %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	records := make([]domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.VectorRecord{
			ID:     c.ID,
			Values: vectors[i],
			Metadata: map[string]string{
				domain.MetaText:      c.Text,
				domain.MetaSource:    c.Source,
				domain.MetaStartLine: strconv.Itoa(c.StartLine),
				domain.MetaEndLine:   strconv.Itoa(c.EndLine),
			},
		}
	}

	if err := s.index.Upsert(ctx, records); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}
