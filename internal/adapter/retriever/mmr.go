package retriever

import (
	"math"

	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
)

// Candidate is a fetched chunk together with its stored embedding.
type Candidate struct {
	Chunk  domain.ScoredChunk
	Vector []float32
}

// MMRReranker implements Maximal Marginal Relevance over embeddings.
type MMRReranker struct {
	lambda float64
}

// NewMMRReranker creates a new MMR reranker. lambda=1 ranks purely by
// relevance, lambda=0 purely by diversity.
func NewMMRReranker(lambda float64) *MMRReranker {
	return &MMRReranker{lambda: lambda}
}

// Rerank selects up to k candidates. The candidate closest to the query is
// always picked first; each next pick maximizes
//
//	MMR(c) = λ * sim(query, c) - (1-λ) * max sim(c, selected)
//
// Returned chunks keep their similarity to the query as score.
func (r *MMRReranker) Rerank(query []float32, candidates []Candidate, k int) []domain.ScoredChunk {
	if k > len(candidates) {
		k = len(candidates)
	}
	if k <= 0 {
		return nil
	}

	relevance := make([]float64, len(candidates))
	best := 0
	for i, c := range candidates {
		relevance[i] = store.CosineSimilarity(query, c.Vector)
		if relevance[i] > relevance[best] {
			best = i
		}
	}

	picked := make([]bool, len(candidates))
	selected := make([]int, 0, k)
	selected = append(selected, best)
	picked[best] = true

	for len(selected) < k {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, c := range candidates {
			if picked[i] {
				continue
			}

			maxSim := math.Inf(-1)
			for _, j := range selected {
				if sim := store.CosineSimilarity(c.Vector, candidates[j].Vector); sim > maxSim {
					maxSim = sim
				}
			}

			score := r.lambda*relevance[i] - (1-r.lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, bestIdx)
		picked[bestIdx] = true
	}

	results := make([]domain.ScoredChunk, len(selected))
	for i, idx := range selected {
		results[i] = candidates[idx].Chunk
		results[i].Score = relevance[idx]
	}
	return results
}
