package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/embedding"
	"github.com/hyperjump/shiori/internal/language"
	"github.com/hyperjump/shiori/internal/persistence"
	"github.com/hyperjump/shiori/internal/vector"
)

// newProvider builds the configured embedding provider behind the LRU cache.
func newProvider(cfg *config.Config, logger *zap.Logger) (embedding.Provider, error) {
	var p embedding.Provider
	switch cfg.Embedding.Provider {
	case config.ProviderONNX:
		onnx, err := embedding.NewONNXProvider(cfg.Embedding.ModelPath, cfg.Embedding.Dimensions, cfg.Embedding.MaxTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize onnx provider: %w", err)
		}
		p = onnx
	case config.ProviderHTTP:
		h := cfg.Embedding.HTTP
		hp, err := embedding.NewHTTPProvider(embedding.HTTPConfig{
			BaseURL:           h.BaseURL,
			Model:             h.Model,
			APIKey:            h.APIKey(),
			Dimensions:        cfg.Embedding.Dimensions,
			Timeout:           h.Timeout,
			RequestsPerSecond: h.RequestsPerSecond,
			Burst:             h.Burst,
			MaxRetries:        h.MaxRetries,
		}, embedding.WithHTTPLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize http provider: %w", err)
		}
		p = hp
	case config.ProviderHash:
		p = embedding.NewHashEmbedder(cfg.Embedding.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}
	logger.Info("embedding provider initialized",
		zap.String("provider", cfg.Embedding.Provider),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
		zap.Int("cache_size", cfg.Embedding.CacheSize))
	return embedding.NewCachedProvider(p, cfg.Embedding.CacheSize), nil
}

// newBackend builds the configured persistence backend.
func newBackend(cfg *config.Config, logger *zap.Logger) (persistence.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		b, err := persistence.NewSQLiteBackend(cfg.Storage.DatabasePath, persistence.WithSQLiteLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return b, nil
	case config.BackendFile:
		codec, err := vector.ParseCodec(cfg.Storage.IndexCodec)
		if err != nil {
			return nil, err
		}
		b, err := persistence.NewFileBackend(cfg.Storage.DataDir,
			persistence.WithCodec(codec),
			persistence.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// openStore wires provider, detector and backend into a loaded document store.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*docstore.Store, error) {
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg, logger)
	if err != nil {
		_ = provider.Close()
		return nil, err
	}
	detector := language.NewScriptDetector(cfg.Language.Threshold, cfg.Language.SampleChars)
	store, err := docstore.Open(ctx, cfg.Embedding.Dimensions, provider, detector, backend,
		docstore.WithLogger(logger),
		docstore.WithDefaultK(cfg.Retrieval.DefaultK),
		docstore.WithMaxK(cfg.Retrieval.MaxK),
		docstore.WithSnippetLength(cfg.Retrieval.SnippetLength),
		docstore.WithDefaultLanguage(cfg.Language.Default),
	)
	if err != nil {
		return nil, errors.Join(err, backend.Close(), provider.Close())
	}
	return store, nil
}
