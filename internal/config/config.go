// Package config provides configuration loading and structs for the shiori server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/shiori/internal/vector"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Language  LanguageConfig  `yaml:"language"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// APIKey, when set, is required in the X-API-Key header of every API request.
	APIKey           string        `yaml:"api_key"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
	AllowedExtension string        `yaml:"allowed_extension"`
}

// StorageConfig selects the persistence backend and its location.
type StorageConfig struct {
	Backend      string `yaml:"backend"`
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"`
	IndexCodec   string `yaml:"index_codec"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string              `yaml:"provider"`
	Dimensions int                 `yaml:"dimensions"`
	ModelPath  string              `yaml:"model_path"`
	MaxTokens  int                 `yaml:"max_tokens"`
	CacheSize  int                 `yaml:"cache_size"`
	HTTP       HTTPEmbeddingConfig `yaml:"http"`
}

// HTTPEmbeddingConfig configures an OpenAI-compatible embeddings endpoint.
type HTTPEmbeddingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	MaxRetries        int           `yaml:"max_retries"`
}

// APIKey reads the key from the configured environment variable.
func (h HTTPEmbeddingConfig) APIKey() string {
	if h.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(h.APIKeyEnv)
}

// LanguageConfig configures language detection.
type LanguageConfig struct {
	Default     string  `yaml:"default"`
	Threshold   float64 `yaml:"threshold"`
	SampleChars int     `yaml:"sample_chars"`
}

// RetrievalConfig holds retrieval limits.
type RetrievalConfig struct {
	DefaultK      int `yaml:"default_k"`
	MaxK          int `yaml:"max_k"`
	SnippetLength int `yaml:"snippet_length"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Directories []string `yaml:"directories"`
	Extensions  []string `yaml:"extensions"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Load reads and parses the config file at path, applies SHIORI_* environment overrides,
// fills defaults and expands paths. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := resolve(&cfg, filepath.Dir(path)); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults with environment
// overrides, and paths resolved against the working directory.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return cfg, err
	}
	cfg = &Config{}
	if err := resolve(cfg, "."); err != nil {
		return nil, err
	}
	return cfg, nil
}

func resolve(cfg *Config, configDir string) error {
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return err
	}
	ApplyDefaults(cfg)

	cfg.Storage.DataDir = expandPath(cfg.Storage.DataDir, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}
	return cfg.Validate()
}

// LoadDotEnv loads variables from the given .env files (default ".env") into the process
// environment without overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Validate reports settings no component could start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Storage.Backend {
	case BackendFile, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend: %s (supported: file, sqlite)", c.Storage.Backend))
	}
	if _, err := vector.ParseCodec(c.Storage.IndexCodec); err != nil {
		errs = append(errs, fmt.Errorf("storage.index_codec: %w", err))
	}
	switch c.Embedding.Provider {
	case ProviderHash, ProviderONNX, ProviderHTTP:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding.provider: %s (supported: hash, onnx, http)", c.Embedding.Provider))
	}
	if c.Embedding.Provider == ProviderONNX && c.Embedding.ModelPath == "" {
		errs = append(errs, errors.New("embedding.model_path is required for the onnx provider"))
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, fmt.Errorf("embedding.dimensions must be positive: %d", c.Embedding.Dimensions))
	}
	if c.Retrieval.DefaultK > c.Retrieval.MaxK {
		errs = append(errs, fmt.Errorf("retrieval.default_k (%d) exceeds retrieval.max_k (%d)", c.Retrieval.DefaultK, c.Retrieval.MaxK))
	}
	if c.Language.Threshold < 0 || c.Language.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("language.threshold must be in [0, 1): %v", c.Language.Threshold))
	}
	return errors.Join(errs...)
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
	if path == "" || filepath.IsAbs(path) {
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
