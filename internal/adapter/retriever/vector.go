package retriever

import (
	"context"
	"fmt"
	"strconv"

	"ragchat/config"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

var _ port.Retriever = (*VectorRetriever)(nil)

// Options configures a VectorRetriever.
type Options struct {
	SearchType string  // config.SearchTypeMMR or config.SearchTypeSimilarity
	K          int     // number of chunks returned
	FetchK     int     // candidates fetched before MMR selection
	Lambda     float64 // MMR diversity weight
}

// OptionsFromConfig maps retrieve configuration to retriever options.
func OptionsFromConfig(cfg config.RetrieveConfig) Options {
	return Options{
		SearchType: cfg.SearchType,
		K:          cfg.K,
		FetchK:     cfg.FetchK,
		Lambda:     cfg.Lambda,
	}
}

// VectorRetriever embeds the query and searches a vector index.
type VectorRetriever struct {
	index    port.VectorIndex
	embedder port.Embedder
	opts     Options
	mmr      *MMRReranker
}

func NewVectorRetriever(index port.VectorIndex, embedder port.Embedder, opts Options) (*VectorRetriever, error) {
	if index == nil || embedder == nil {
		return nil, fmt.Errorf("vector retriever requires an index and an embedder")
	}
	switch opts.SearchType {
	case config.SearchTypeMMR:
		if opts.FetchK < opts.K {
			return nil, fmt.Errorf("fetchK (%d) must be >= k (%d)", opts.FetchK, opts.K)
		}
	case config.SearchTypeSimilarity:
	default:
		return nil, fmt.Errorf("unsupported search type: %q", opts.SearchType)
	}
	if opts.K <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", opts.K)
	}

	return &VectorRetriever{
		index:    index,
		embedder: embedder,
		opts:     opts,
		mmr:      NewMMRReranker(opts.Lambda),
	}, nil
}

// Options returns the search parameters of the retriever.
func (r *VectorRetriever) Options() Options {
	return r.opts
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string) ([]domain.ScoredChunk, error) {
	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedding returned empty result")
	}
	vector := embeddings[0]

	if r.opts.SearchType == config.SearchTypeSimilarity {
		resp, err := r.index.Query(ctx, domain.QueryRequest{
			Vector:          vector,
			TopK:            r.opts.K,
			IncludeMetadata: true,
		})
		if err != nil {
			return nil, fmt.Errorf("vector search failed: %w", err)
		}
		chunks := make([]domain.ScoredChunk, len(resp.Matches))
		for i, m := range resp.Matches {
			chunks[i] = scoredChunkFromMatch(m)
		}
		return chunks, nil
	}

	resp, err := r.index.Query(ctx, domain.QueryRequest{
		Vector:          vector,
		TopK:            r.opts.FetchK,
		IncludeMetadata: true,
		IncludeValues:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	candidates := make([]Candidate, len(resp.Matches))
	for i, m := range resp.Matches {
		candidates[i] = Candidate{Chunk: scoredChunkFromMatch(m), Vector: m.Values}
	}
	return r.mmr.Rerank(vector, candidates, r.opts.K), nil
}

func scoredChunkFromMatch(m domain.Match) domain.ScoredChunk {
	start, _ := strconv.Atoi(m.Metadata[domain.MetaStartLine])
	end, _ := strconv.Atoi(m.Metadata[domain.MetaEndLine])
	return domain.ScoredChunk{
		Chunk: domain.Chunk{
			ID:        m.ID,
			DocID:     m.Metadata[domain.MetaSource],
			Source:    m.Metadata[domain.MetaSource],
			StartLine: start,
			EndLine:   end,
			Text:      m.Metadata[domain.MetaText],
		},
		Score: m.Score,
	}
}
