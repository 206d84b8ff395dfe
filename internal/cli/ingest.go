package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"ragchat/internal/adapter/chunker"
	"ragchat/internal/adapter/fs"
	"ragchat/internal/adapter/store"
	"ragchat/internal/port"
	"ragchat/internal/usecase"
)

var ingestTextsFile string

var ingestCmd = &cobra.Command{
	Use:     "ingest [path]",
	Aliases: []string{"index"},
	Short:   "Embed documents into the vector index",
	Long: `Chunk and embed the files under path and store them in the configured
vector index. Unchanged files are skipped on later runs.

With --texts-file, every non-empty line of the file is embedded and stored
with a positional id (text-0, text-1, ...).

Examples:
  ragchat ingest .                     # Ingest current directory
  ragchat ingest /path/to/docs         # Ingest specific directory
  ragchat ingest --texts-file faq.txt  # Ingest one text per line`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestTextsFile, "texts-file", "", "newline-delimited texts to upsert instead of walking a directory")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	if ingestTextsFile == "" {
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("path does not exist: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("path is not a directory: %s", path)
		}
	}

	cfg := GetConfig()

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}

	st, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := st.Index(cfg.Index.Name)
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", cfg.Index.Name, err)
	}

	if err := prepareIndex(ctx, index, embedder); err != nil {
		return err
	}

	ingestUC := usecase.NewIngestUseCase(
		index,
		fs.NewWalker(cfg.Index.Includes, cfg.Index.Excludes),
		chunker.NewLineChunker(cfg.Index.ChunkTokens, cfg.Index.ChunkOverlap),
		embedder,
		cfg.Embedding.BatchSize,
	)

	if ingestTextsFile != "" {
		texts, err := readTexts(ingestTextsFile)
		if err != nil {
			return err
		}
		fmt.Printf("Embedding %d texts with %s...\n", len(texts), embedder.ModelName())
		if err := ingestUC.IngestTexts(ctx, texts); err != nil {
			return fmt.Errorf("ingest failed: %w", err)
		}
		fmt.Printf("Stored %d texts in index %s\n", len(texts), cfg.Index.Name)
		return nil
	}

	fmt.Printf("Scanning %s...\n", path)

	var bar *progressbar.ProgressBar
	var barMu sync.Mutex
	var startTime time.Time

	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(done)

		if done > 0 {
			rate := float64(done) / time.Since(startTime).Seconds()
			if rate > 0 {
				eta := time.Duration(float64(total-done)/rate) * time.Second
				bar.Describe(fmt.Sprintf("[cyan]Embedding[reset] ETA: %s", formatDuration(eta)))
			}
		}
	}

	result, err := ingestUC.Ingest(ctx, path, progress)
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	stats, _ := index.Stats(ctx)

	fmt.Printf("\nIngest complete:\n")
	fmt.Printf("  Files indexed:  %d\n", result.FilesIndexed)
	fmt.Printf("  Files skipped:  %d (unchanged)\n", result.FilesSkipped)
	fmt.Printf("  Files deleted:  %d (removed)\n", result.FilesDeleted)
	fmt.Printf("  Chunks created: %d\n", result.ChunksCreated)
	fmt.Printf("  Vectors stored: %d (dimension %d)\n", stats.Vectors, stats.Dimension)

	if len(result.Errors) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}

	fmt.Printf("\nIndex %s stored at: %s\n", cfg.Index.Name, cfg.IndexDBPath(rootDir))
	return nil
}

// prepareIndex migrates the index schema, or clears the index when its
// vectors came from a different embedding model.
func prepareIndex(ctx context.Context, index *store.BoltIndex, embedder port.Embedder) error {
	res, err := index.CheckMigration(embedder.ModelName(), embedder.Dimension())
	if err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}

	if res.NeedsRebuild {
		fmt.Printf("Index rebuild required: %s\n", res.Reason)
		fmt.Println("Clearing existing index...")
		if err := index.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
	} else if res.NeedsMigration {
		fmt.Printf("Running schema migration: %s\n", res.Reason)
	}

	if err := index.Migrate(embedder.ModelName()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func readTexts(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open texts file: %w", err)
	}
	defer f.Close()

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read texts file: %w", err)
	}
	return texts, nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
