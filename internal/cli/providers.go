package cli

import (
	"errors"
	"fmt"
	"os"

	"ragchat/config"
	"ragchat/internal/adapter/embedding"
	"ragchat/internal/adapter/llm"
	"ragchat/internal/adapter/store"
	"ragchat/internal/port"
)

func newEmbedder(c config.EmbeddingConfig) (port.Embedder, error) {
	switch c.Provider {
	case "openai":
		e, err := embedding.NewOpenAIEmbedder(c.APIKeyEnv, c.Model, c.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedder: %w", err)
		}
		return e, nil
	case "ollama":
		return embedding.NewOllamaEmbedder(c.Model, c.BaseURL), nil
	case "mock":
		return embedding.NewMockEmbedder(c.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", c.Provider)
	}
}

func newChatModel(c config.LLMConfig) (port.ChatModel, error) {
	opts := llm.Options{
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Temperature: c.Temperature,
		Streaming:   c.Streaming,
		Timeout:     c.Timeout,
	}

	switch c.Provider {
	case "openai":
		m, err := llm.NewOpenAIChatModel(c.APIKeyEnv, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to create chat model: %w", err)
		}
		return m, nil
	case "ollama":
		if opts.BaseURL == "" {
			opts.BaseURL = "http://localhost:11434/v1"
		}
		return llm.New(opts), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", c.Provider)
	}
}

// openStore opens the index database of the root dir. With mustExist the
// database file must already be there.
func openStore(mustExist bool) (*store.BoltStore, error) {
	dbPath := cfg.IndexDBPath(rootDir)
	if mustExist {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("no index found at %s. Run 'ragchat ingest' first", dbPath)
		}
	} else if err := cfg.EnsureIndexDir(rootDir); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	st, err := store.NewBoltStore(dbPath)
	if errors.Is(err, store.ErrLocked) {
		return nil, fmt.Errorf("index %s is in use by another ragchat process (stop serve first)", dbPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}
	return st, nil
}
