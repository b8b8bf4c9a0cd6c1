package config

import "time"

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Embedding providers.
const (
	ProviderHash = "hash"
	ProviderONNX = "onnx"
	ProviderHTTP = "http"
)

// DefaultAllowedExtension is the only file extension accepted by multipart ingestion.
const DefaultAllowedExtension = ".txt"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 10 << 20
	}
	if cfg.Server.AllowedExtension == "" {
		cfg.Server.AllowedExtension = DefaultAllowedExtension
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendFile
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/shiori.db"
	}
	if cfg.Storage.IndexCodec == "" {
		cfg.Storage.IndexCodec = "none"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = ProviderHash
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.HTTP.BaseURL == "" {
		cfg.Embedding.HTTP.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedding.HTTP.Model == "" {
		cfg.Embedding.HTTP.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.HTTP.APIKeyEnv == "" {
		cfg.Embedding.HTTP.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.HTTP.Timeout == 0 {
		cfg.Embedding.HTTP.Timeout = 30 * time.Second
	}
	if cfg.Embedding.HTTP.RequestsPerSecond == 0 {
		cfg.Embedding.HTTP.RequestsPerSecond = 5
	}
	if cfg.Embedding.HTTP.Burst == 0 {
		cfg.Embedding.HTTP.Burst = 1
	}
	if cfg.Embedding.HTTP.MaxRetries == 0 {
		cfg.Embedding.HTTP.MaxRetries = 3
	}
	if cfg.Language.Default == "" {
		cfg.Language.Default = "unknown"
	}
	if cfg.Language.Threshold == 0 {
		cfg.Language.Threshold = 0.1
	}
	if cfg.Language.SampleChars == 0 {
		cfg.Language.SampleChars = 200
	}
	if cfg.Retrieval.DefaultK == 0 {
		cfg.Retrieval.DefaultK = 3
	}
	if cfg.Retrieval.MaxK == 0 {
		cfg.Retrieval.MaxK = 100
	}
	if cfg.Retrieval.SnippetLength == 0 {
		cfg.Retrieval.SnippetLength = 160
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{DefaultAllowedExtension}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
