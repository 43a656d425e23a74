// Package config provides configuration loading and structs for the SchemaPilot server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Configuration errors. Both are fatal at startup: the service cannot answer
// questions without a reachable LLM backend.
var (
	ErrMissingAPIKey = errors.New("missing API key")
	ErrMissingAPIURL = errors.New("missing API URL")
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	LLM       LLMConfig       `yaml:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the vector collection store settings.
type StorageConfig struct {
	Driver     string `yaml:"driver"`     // bolt, sqlite, or memory
	Path       string `yaml:"path"`       // store file path
	Collection string `yaml:"collection"` // collection name within the store
	Watch      bool   `yaml:"watch"`      // reload the index when the store file changes
}

// EmbeddingConfig holds embedder settings. Provider selects the implementation:
// "openai" (remote HTTP API), "onnx" (local model, requires CGO), or "mock".
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`    // openai provider
	APIKeyEnv  string `yaml:"api_key_env"` // openai provider; env var holding the key
	Model      string `yaml:"model"`       // openai provider
	ModelPath  string `yaml:"model_path"`  // onnx provider
	MaxTokens  int    `yaml:"max_tokens"`  // onnx provider; tokenizer sequence length
	CacheSize  int    `yaml:"cache_size"`
}

// RetrievalConfig holds similarity-search settings.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// LLMConfig holds chat-completion backend settings. The URL and key are read
// from the named environment variables, never from the config file itself.
type LLMConfig struct {
	APIURLEnv         string   `yaml:"api_url_env"`
	APIKeyEnv         string   `yaml:"api_key_env"`
	MaxTokens         int      `yaml:"max_tokens"`
	Temperature       *float64 `yaml:"temperature"`
	MaxRetries        int      `yaml:"max_retries"`
	SystemInstruction string   `yaml:"system_instruction"`
}

// TemperatureOrDefault returns the configured temperature; defaults to 0.5 when unset.
// A pointer is used so an explicit 0 is distinguishable from absent.
func (l *LLMConfig) TemperatureOrDefault() float64 {
	if l.Temperature != nil {
		return *l.Temperature
	}
	return 0.5
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.Path = expandPath(cfg.Storage.Path, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)

	return &cfg, nil
}

// Validate checks settings that must hold before the service starts serving.
// The LLM URL and key must be resolvable from the environment; a pipeline
// without them would fail every request.
func (c *Config) Validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if os.Getenv(c.LLM.APIURLEnv) == "" {
		return fmt.Errorf("%s not set: %w", c.LLM.APIURLEnv, ErrMissingAPIURL)
	}
	if os.Getenv(c.LLM.APIKeyEnv) == "" {
		return fmt.Errorf("%s not set: %w", c.LLM.APIKeyEnv, ErrMissingAPIKey)
	}
	if c.Embedding.Provider == "openai" && os.Getenv(c.Embedding.APIKeyEnv) == "" {
		return fmt.Errorf("%s not set: %w", c.Embedding.APIKeyEnv, ErrMissingAPIKey)
	}
	return nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
