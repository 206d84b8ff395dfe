package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Search types understood by the retriever.
const (
	SearchTypeMMR        = "mmr"
	SearchTypeSimilarity = "similarity"
)

// Config holds all configuration for the chat service and CLI.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Memory    MemoryConfig    `yaml:"memory"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ChatPath          string        `yaml:"chat_path"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// IndexConfig holds vector index and ingest configuration.
type IndexConfig struct {
	Name         string   `yaml:"name"`
	Path         string   `yaml:"path"` // relative paths resolve against the root dir
	Includes     []string `yaml:"includes"`
	Excludes     []string `yaml:"excludes"`
	ChunkTokens  int      `yaml:"chunk_tokens"`
	ChunkOverlap int      `yaml:"chunk_overlap"`
}

// RetrieveConfig holds retrieval configuration.
type RetrieveConfig struct {
	SearchType string        `yaml:"search_type"` // "mmr" or "similarity"
	K          int           `yaml:"k"`
	FetchK     int           `yaml:"fetch_k"`
	Lambda     float64       `yaml:"lambda"`
	CacheSize  int           `yaml:"cache_size"` // 0 disables the query cache
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", "mock"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	Dimension int    `yaml:"dimension"`
	BatchSize int    `yaml:"batch_size"`
}

// LLMConfig holds chat model configuration.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	Streaming   bool          `yaml:"streaming"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MemoryConfig holds conversation memory configuration.
type MemoryConfig struct {
	Key      string `yaml:"key"` // labels the buffer in logs
	Persist  bool   `yaml:"persist"`
	MaxTurns int    `yaml:"max_turns"`
}

// PromptsConfig points at prompt templates that replace the built-in ones.
// The condense prompt receives {{.chat_history}} and {{.question}}; the QA
// prompt receives {{.context}} and {{.question}}.
type PromptsConfig struct {
	CondenseFile string `yaml:"condense_file"`
	QAFile       string `yaml:"qa_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":3000",
			ChatPath:          "/api/chat",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   10 * time.Second,
		},
		Index: IndexConfig{
			Name:         "your-index-name",
			Path:         filepath.Join(".rag", "index.db"),
			Includes:     []string{"**/*.md", "**/*.txt"},
			Excludes:     []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.rag/**"},
			ChunkTokens:  512,
			ChunkOverlap: 50,
		},
		Retrieve: RetrieveConfig{
			SearchType: SearchTypeMMR,
			K:          5,
			FetchK:     10,
			Lambda:     0.25,
			CacheSize:  0,
			CacheTTL:   5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "text-embedding-ada-002",
			APIKeyEnv: "OPENAI_API_KEY",
			Dimension: 1536,
			BatchSize: 100,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-3.5-turbo",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.8,
			Streaming:   true,
			Timeout:     2 * time.Minute,
		},
		Memory: MemoryConfig{
			Key:      "chat_history",
			Persist:  true,
			MaxTurns: 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for ragchat.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "ragchat.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".rag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	cfg := DefaultConfig()
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("RAGCHAT_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RAGCHAT_INDEX_NAME"); v != "" {
		c.Index.Name = v
	}
	if v := os.Getenv("RAGCHAT_INDEX_PATH"); v != "" {
		c.Index.Path = v
	}
}

// Validate reports configuration that cannot produce a working retriever.
func (c *Config) Validate() error {
	if c.Index.Name == "" {
		return fmt.Errorf("index.name must not be empty")
	}
	r := c.Retrieve
	if r.SearchType != SearchTypeMMR && r.SearchType != SearchTypeSimilarity {
		return fmt.Errorf("retrieve.search_type %q is not supported", r.SearchType)
	}
	if r.K <= 0 {
		return fmt.Errorf("retrieve.k must be positive, got %d", r.K)
	}
	if r.FetchK < r.K {
		return fmt.Errorf("retrieve.fetch_k (%d) must be >= retrieve.k (%d)", r.FetchK, r.K)
	}
	if r.Lambda < 0 || r.Lambda > 1 {
		return fmt.Errorf("retrieve.lambda must be within [0,1], got %f", r.Lambda)
	}
	if c.Memory.Key == "" {
		return fmt.Errorf("memory.key must not be empty")
	}
	return nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// IndexDBPath returns the path to the index database for the given root dir.
func (c *Config) IndexDBPath(dir string) string {
	if filepath.IsAbs(c.Index.Path) {
		return c.Index.Path
	}
	return filepath.Join(dir, c.Index.Path)
}

// ResolvePath resolves a configured path against the root dir. Empty stays
// empty.
func ResolvePath(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// EnsureIndexDir ensures the directory holding the index database exists.
func (c *Config) EnsureIndexDir(dir string) error {
	return os.MkdirAll(filepath.Dir(c.IndexDBPath(dir)), 0755)
}
