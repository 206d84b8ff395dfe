package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Retrieve.SearchType != SearchTypeMMR {
		t.Errorf("expected SearchType=mmr, got %s", cfg.Retrieve.SearchType)
	}
	if cfg.Retrieve.FetchK != 10 {
		t.Errorf("expected FetchK=10, got %d", cfg.Retrieve.FetchK)
	}
	if cfg.Retrieve.Lambda != 0.25 {
		t.Errorf("expected Lambda=0.25, got %f", cfg.Retrieve.Lambda)
	}
	if cfg.Retrieve.K != 5 {
		t.Errorf("expected K=5, got %d", cfg.Retrieve.K)
	}
	if cfg.LLM.Temperature != 0.8 {
		t.Errorf("expected Temperature=0.8, got %f", cfg.LLM.Temperature)
	}
	if !cfg.LLM.Streaming {
		t.Error("expected Streaming=true")
	}
	if cfg.Memory.Key != "chat_history" {
		t.Errorf("expected memory key chat_history, got %s", cfg.Memory.Key)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad_NonExistent(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Errorf("expected no error for non-existent file, got %v", err)
	}
	if cfg == nil {
		t.Error("expected default config, got nil")
	}
}

func TestLoad_ValidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "ragchat.yaml")

	content := `
index:
  name: docs
retrieve:
  k: 3
  cache_ttl: 30s
llm:
  model: gpt-4o-mini
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Index.Name != "docs" {
		t.Errorf("expected index name docs, got %s", cfg.Index.Name)
	}
	if cfg.Retrieve.K != 3 {
		t.Errorf("expected K=3, got %d", cfg.Retrieve.K)
	}
	if cfg.Retrieve.CacheTTL != 30*time.Second {
		t.Errorf("expected CacheTTL=30s, got %s", cfg.Retrieve.CacheTTL)
	}
	// Untouched fields keep their defaults.
	if cfg.Retrieve.FetchK != 10 {
		t.Errorf("expected FetchK=10, got %d", cfg.Retrieve.FetchK)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("expected model gpt-4o-mini, got %s", cfg.LLM.Model)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "ragchat.yaml")
	if err := os.WriteFile(configPath, []byte("retrieve: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromDir(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, ".rag"), 0755); err != nil {
		t.Fatal(err)
	}

	content := `
memory:
  max_turns: 4
`
	if err := os.WriteFile(filepath.Join(tmpDir, ".rag", "config.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromDir(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Memory.MaxTurns != 4 {
		t.Errorf("expected MaxTurns=4, got %d", cfg.Memory.MaxTurns)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("RAGCHAT_INDEX_NAME", "from-env")
	t.Setenv("RAGCHAT_ADDR", ":9999")

	cfg, err := LoadFromDir(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Index.Name != "from-env" {
		t.Errorf("expected index name from-env, got %s", cfg.Index.Name)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("expected addr :9999, got %s", cfg.Server.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty index name", func(c *Config) { c.Index.Name = "" }},
		{"unknown search type", func(c *Config) { c.Retrieve.SearchType = "bm25" }},
		{"zero k", func(c *Config) { c.Retrieve.K = 0 }},
		{"fetch_k below k", func(c *Config) { c.Retrieve.FetchK = 2 }},
		{"lambda above one", func(c *Config) { c.Retrieve.Lambda = 1.5 }},
		{"empty memory key", func(c *Config) { c.Memory.Key = "" }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestIndexDBPath(t *testing.T) {
	cfg := DefaultConfig()
	path := cfg.IndexDBPath("/home/user/project")
	expected := filepath.Join("/home/user/project", ".rag", "index.db")
	if path != expected {
		t.Errorf("expected %s, got %s", expected, path)
	}

	cfg.Index.Path = "/var/lib/ragchat/index.db"
	if got := cfg.IndexDBPath("/ignored"); got != "/var/lib/ragchat/index.db" {
		t.Errorf("expected absolute path to win, got %s", got)
	}
}

func TestResolvePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"", ""},
		{"prompts/qa.txt", filepath.Join("/root", "prompts", "qa.txt")},
		{"/etc/ragchat/qa.txt", "/etc/ragchat/qa.txt"},
	}
	for _, tc := range tests {
		if got := ResolvePath("/root", tc.path); got != tc.want {
			t.Errorf("ResolvePath(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestValidateAcceptsCustomMemoryKey(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Memory.Key = "history"
	if err := cfg.Validate(); err != nil {
		t.Errorf("memory key is a label and should validate, got %v", err)
	}
}
