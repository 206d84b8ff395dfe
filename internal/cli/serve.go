package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"ragchat/config"
	"ragchat/internal/adapter/cache"
	"ragchat/internal/adapter/memstore"
	"ragchat/internal/adapter/retriever"
	"ragchat/internal/port"
	"ragchat/internal/server"
	"ragchat/internal/usecase"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the streaming chat endpoint",
	Long: `Serve POST /api/chat. The request body is {"messages":[{"role","content"}]}
with an optional "sessionId"; the answer to the last message is streamed
back as plain text. DELETE /api/chat/sessions/{id} forgets a session.

serve holds the index database open for its lifetime. Other ragchat
commands on the same index (ingest, query) fail until it stops, and vectors
ingested afterwards are only served after a restart.

Examples:
  ragchat serve
  ragchat serve --addr :8080`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(false)
	if err != nil {
		return err
	}
	defer st.Close()

	index, err := st.Index(cfg.Index.Name)
	if err != nil {
		return fmt.Errorf("failed to open index %s: %w", cfg.Index.Name, err)
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return err
	}
	model, err := newChatModel(cfg.LLM)
	if err != nil {
		return err
	}

	if res, err := index.CheckMigration(embedder.ModelName(), embedder.Dimension()); err == nil && res.NeedsRebuild {
		logger.Warn("index was built with a different embedding setup; re-run ingest", "reason", res.Reason)
	}

	var r port.Retriever
	r, err = retriever.NewVectorRetriever(index, embedder, retriever.OptionsFromConfig(cfg.Retrieve))
	if err != nil {
		return err
	}
	if cfg.Retrieve.CacheSize > 0 {
		r = cache.NewCachedRetriever(r, cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL))
	}

	chainOpts, err := promptOptions(cfg)
	if err != nil {
		return err
	}
	chainOpts = append(chainOpts, usecase.WithLogger(logger))
	chain, err := usecase.NewConversationalRetrievalChain(model, r, chainOpts...)
	if err != nil {
		return err
	}

	var sessions port.SessionStore = st
	if !cfg.Memory.Persist {
		sessions = memstore.NewMemoryStore()
	}

	srv, err := server.New(server.Deps{
		Config:   cfg,
		Index:    index,
		Chain:    chain,
		Sessions: sessions,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	httpServer := srv.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", httpServer.Addr,
			"chat_path", cfg.Server.ChatPath,
			"index", cfg.Index.Name,
			"model", model.ModelName(),
			"embedding_model", embedder.ModelName(),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// promptOptions loads the prompt templates configured to replace the
// built-in ones.
func promptOptions(cfg *config.Config) ([]usecase.ChainOption, error) {
	var opts []usecase.ChainOption
	if path := config.ResolvePath(rootDir, cfg.Prompts.CondenseFile); path != "" {
		p, err := usecase.LoadPromptFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, usecase.WithCondensePrompt(p))
	}
	if path := config.ResolvePath(rootDir, cfg.Prompts.QAFile); path != "" {
		p, err := usecase.LoadPromptFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, usecase.WithQAPrompt(p))
	}
	return opts, nil
}
