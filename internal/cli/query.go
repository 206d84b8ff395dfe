package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"ragchat/internal/adapter/retriever"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/usecase"
)

var (
	queryText      string
	queryJSON      bool
	queryRetriever bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search the vector index",
	Long: `Embed the query text and print the nearest stored records.

By default the top 5 matches are printed with their metadata. With
--retriever the configured chat retriever (MMR by default) is used instead,
showing exactly the context the chat endpoint would see.

Examples:
  ragchat query -q "how are sessions stored"
  ragchat query -q "deployment" --json
  ragchat query -q "deployment" --retriever`,
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().StringVarP(&queryText, "query", "q", "", "search query (required)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output as JSON")
	queryCmd.Flags().BoolVar(&queryRetriever, "retriever", false, "use the configured chat retriever")
	queryCmd.MarkFlagRequired("query")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := GetConfig()

	st, err := openStore(true)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := st.ExistingIndex(cfg.Index.Name)
	if errors.Is(err, store.ErrIndexNotFound) {
		return fmt.Errorf("index %s does not exist. Run 'ragchat ingest' first", cfg.Index.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to open index: %w", err)
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}

	var matches []domain.Match
	if queryRetriever {
		r, err := retriever.NewVectorRetriever(index, embedder, retriever.OptionsFromConfig(cfg.Retrieve))
		if err != nil {
			return err
		}
		chunks, err := r.Retrieve(ctx, queryText)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		for _, c := range chunks {
			matches = append(matches, domain.Match{
				ID:    c.Chunk.ID,
				Score: c.Score,
				Metadata: map[string]string{
					domain.MetaText:   c.Chunk.Text,
					domain.MetaSource: c.Chunk.Source,
				},
			})
		}
	} else {
		vectors, err := embedder.Embed(ctx, []string{queryText})
		if err != nil {
			return fmt.Errorf("failed to embed query: %w", err)
		}
		matches, err = usecase.NewVectorService(index).QueryEmbeddings(ctx, vectors[0])
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
	}

	if queryJSON {
		output, _ := json.MarshalIndent(matches, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(matches) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s\n\n", len(matches), queryText)
	for i, m := range matches {
		header := m.ID
		if src := m.Metadata[domain.MetaSource]; src != "" {
			header = fmt.Sprintf("%s (%s)", m.ID, src)
		}
		fmt.Printf("--- [%d] %s (score: %.3f) ---\n", i+1, header, m.Score)
		text := m.Metadata[domain.MetaText]
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Println(text)
		fmt.Println()
	}
	return nil
}
