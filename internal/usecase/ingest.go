package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"ragchat/internal/adapter/fs"
	"ragchat/internal/adapter/store"
	"ragchat/internal/domain"
	"ragchat/internal/port"
)

// IngestUseCase embeds source files into a vector index.
type IngestUseCase struct {
	index     *store.BoltIndex
	walker    port.FileWalker
	chunker   port.Chunker
	embedder  port.Embedder
	vectors   *VectorService
	batchSize int
}

// NewIngestUseCase creates a new ingest use case.
func NewIngestUseCase(
	index *store.BoltIndex,
	walker port.FileWalker,
	chunker port.Chunker,
	embedder port.Embedder,
	batchSize int,
) *IngestUseCase {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &IngestUseCase{
		index:     index,
		walker:    walker,
		chunker:   chunker,
		embedder:  embedder,
		vectors:   NewVectorService(index),
		batchSize: batchSize,
	}
}

// IngestResult contains the results of an ingest run.
type IngestResult struct {
	FilesIndexed  int
	FilesSkipped  int
	FilesDeleted  int
	ChunksCreated int
	Errors        []string
}

// ProgressFunc is called after each file with the number of files handled
// so far and the total.
type ProgressFunc func(done, total int)

// Ingest indexes files under root. Files whose modification time did not
// change since the last run are skipped; records of removed files are
// deleted.
func (u *IngestUseCase) Ingest(ctx context.Context, root string, progress ProgressFunc) (*IngestResult, error) {
	result := &IngestResult{}

	files, err := u.walker.Walk(root)
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	existing, err := u.index.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing docs: %w", err)
	}

	seenPaths := make(map[string]bool)

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		seenPaths[file.Path] = true

		if rec, ok := existing[file.Path]; ok {
			if rec.ModTime >= file.ModTime {
				result.FilesSkipped++
				if progress != nil {
					progress(i+1, len(files))
				}
				continue
			}
			if err := u.index.DeleteDoc(ctx, file.Path); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("failed to delete old data for %s: %v", file.Path, err))
			}
		}

		n, err := u.ingestFile(ctx, file)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to index %s: %v", file.Path, err))
		} else {
			result.FilesIndexed++
			result.ChunksCreated += n
		}
		if progress != nil {
			progress(i+1, len(files))
		}
	}

	for path := range existing {
		if seenPaths[path] {
			continue
		}
		if err := u.index.DeleteDoc(ctx, path); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to delete %s: %v", path, err))
		} else {
			result.FilesDeleted++
		}
	}

	return result, nil
}

// IngestTexts embeds texts and stores them with positional ids.
func (u *IngestUseCase) IngestTexts(ctx context.Context, texts []string) error {
	vectors, err := u.embed(ctx, texts)
	if err != nil {
		return err
	}
	return u.vectors.UpsertEmbeddings(ctx, texts, vectors)
}

func (u *IngestUseCase) ingestFile(ctx context.Context, file port.FileInfo) (int, error) {
	content, err := fs.ReadFile(file.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to read file: %w", err)
	}

	doc := domain.Document{
		ID:      generateDocID(file.Path),
		Path:    file.Path,
		ModTime: time.Unix(file.ModTime, 0),
	}

	chunks, err := u.chunker.Chunk(doc, content)
	if err != nil {
		return 0, fmt.Errorf("failed to chunk content: %w", err)
	}

	texts := make([]string, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
		ids[i] = c.ID
	}

	vectors, err := u.embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if err := u.vectors.UpsertChunks(ctx, chunks, vectors); err != nil {
		return 0, err
	}

	rec := store.DocRecord{
		Path:     file.Path,
		ModTime:  file.ModTime,
		ChunkIDs: ids,
	}
	if err := u.index.PutDoc(ctx, rec); err != nil {
		return 0, fmt.Errorf("failed to store document: %w", err)
	}
	return len(chunks), nil
}

func (u *IngestUseCase) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += u.batchSize {
		end := start + u.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := u.embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch: %w", err)
		}
		if len(batch) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), end-start)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

// generateDocID creates a unique ID for a document based on its path.
func generateDocID(path string) string {
	hash := sha256.Sum256([]byte(path))
	return hex.EncodeToString(hash[:8])
}
