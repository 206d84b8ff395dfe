package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ragchat/config"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/retriever"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

func main() {
	indexPath := flag.String("index", ".", "Path to the directory holding the index")
	query := flag.String("q", "", "Query to test")
	runs := flag.Int("n", 20, "Number of timed runs per search type")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -index ./docs -q \"query\"")
		fmt.Println("\nCompares similarity and MMR retrieval on the configured index:")
		fmt.Println("  1. Relevance (similarity of results to the query)")
		fmt.Println("  2. Diversity (similarity of results to each other)")
		fmt.Println("  3. Latency")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*indexPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(cfg.IndexDBPath(*indexPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	index, err := st.ExistingIndex(cfg.Index.Name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index %s: %v\n", cfg.Index.Name, err)
		os.Exit(1)
	}

	embedder, err := setupEmbedder(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedder not available: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	stats, _ := index.Stats(ctx)

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Index: %s (%d vectors, dimension %d)\n", stats.Name, stats.Vectors, stats.Dimension)
	fmt.Printf("Model: %s (%s)\n", embedder.ModelName(), cfg.Embedding.Provider)
	fmt.Printf("Query: \"%s\"\n", *query)
	fmt.Println()

	// Embedding once keeps provider latency out of the comparison.
	queryVec, err := embedder.Embed(ctx, []string{*query})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding error: %v\n", err)
		os.Exit(1)
	}
	fixed := &fixedEmbedder{vec: queryVec[0], model: embedder.ModelName()}

	for _, searchType := range []string{config.SearchTypeSimilarity, config.SearchTypeMMR} {
		opts := retriever.OptionsFromConfig(cfg.Retrieve)
		opts.SearchType = searchType

		r, err := retriever.NewVectorRetriever(index, fixed, opts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Retriever error: %v\n", err)
			os.Exit(1)
		}

		var results []domain.ScoredChunk
		start := time.Now()
		for i := 0; i < *runs; i++ {
			results, err = r.Retrieve(ctx, *query)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
				os.Exit(1)
			}
		}
		elapsed := time.Since(start)

		fmt.Printf("%s (k=%d, fetch_k=%d, lambda=%.2f)\n", strings.ToUpper(searchType), opts.K, opts.FetchK, opts.Lambda)
		fmt.Println(strings.Repeat("-", 70))
		for i, c := range results {
			preview := strings.ReplaceAll(c.Chunk.Text, "\n", " ")
			if len(preview) > 100 {
				preview = preview[:100] + "..."
			}
			fmt.Printf("%d. [%.3f] %s:L%d-%d\n   %s\n", i+1, c.Score, shortPath(c.Chunk.Source), c.Chunk.StartLine, c.Chunk.EndLine, preview)
		}

		relevance, redundancy := quality(ctx, embedder, results)
		fmt.Printf("\n  Average relevance:  %.3f\n", relevance)
		fmt.Printf("  Average redundancy: %.3f\n", redundancy)
		if *runs > 0 {
			fmt.Printf("  Latency:            %s per query\n\n", elapsed/time.Duration(*runs))
		}
	}
}

// quality returns the mean query similarity of results and the mean
// pairwise similarity between them.
func quality(ctx context.Context, embedder port.Embedder, results []domain.ScoredChunk) (float64, float64) {
	if len(results) == 0 {
		return 0, 0
	}

	texts := make([]string, len(results))
	relevance := 0.0
	for i, c := range results {
		texts[i] = c.Chunk.Text
		relevance += c.Score
	}
	relevance /= float64(len(results))

	if len(results) < 2 {
		return relevance, 0
	}
	vecs, err := embedder.Embed(ctx, texts)
	if err != nil {
		return relevance, 0
	}

	pairs, total := 0, 0.0
	for i := range vecs {
		for j := i + 1; j < len(vecs); j++ {
			total += store.CosineSimilarity(vecs[i], vecs[j])
			pairs++
		}
	}
	return relevance, total / float64(pairs)
}

type fixedEmbedder struct {
	vec   []float32
	model string
}

func (e *fixedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vec
	}
	return out, nil
}

func (e *fixedEmbedder) Dimension() int    { return len(e.vec) }
func (e *fixedEmbedder) ModelName() string { return e.model }

func shortPath(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}

func setupEmbedder(cfg *config.Config) (port.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "ollama":
		return embedding.NewOllamaEmbedder(cfg.Embedding.Model, cfg.Embedding.BaseURL), nil
	case "openai":
		return embedding.NewOpenAIEmbedder(cfg.Embedding.APIKeyEnv, cfg.Embedding.Model, cfg.Embedding.BaseURL)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Embedding.Provider)
	}
}
