package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SHIORI_"

type envBinding struct {
	name  string
	apply func(cfg *Config, value string) error
}

func stringVar(set func(*Config, string)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		set(cfg, v)
		return nil
	}
}

func intVar(set func(*Config, int)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(cfg, n)
		return nil
	}
}

func durationVar(set func(*Config, time.Duration)) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(cfg, d)
		return nil
	}
}

var envBindings = []envBinding{
	{"DEBUG", func(cfg *Config, v string) error {
		b, err := strconv.ParseBool(v)
		cfg.Debug = b
		return err
	}},
	{"HOST", stringVar(func(c *Config, v string) { c.Server.Host = v })},
	{"PORT", intVar(func(c *Config, v int) { c.Server.Port = v })},
	{"API_KEY", stringVar(func(c *Config, v string) { c.Server.APIKey = v })},
	{"REQUEST_TIMEOUT", durationVar(func(c *Config, v time.Duration) { c.Server.RequestTimeout = v })},
	{"MAX_UPLOAD_BYTES", func(c *Config, v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		c.Server.MaxUploadBytes = n
		return err
	}},
	{"STORAGE_BACKEND", stringVar(func(c *Config, v string) { c.Storage.Backend = v })},
	{"DATA_DIR", stringVar(func(c *Config, v string) { c.Storage.DataDir = v })},
	{"DATABASE_PATH", stringVar(func(c *Config, v string) { c.Storage.DatabasePath = v })},
	{"INDEX_CODEC", stringVar(func(c *Config, v string) { c.Storage.IndexCodec = v })},
	{"EMBEDDING_PROVIDER", stringVar(func(c *Config, v string) { c.Embedding.Provider = v })},
	{"EMBEDDING_DIMENSIONS", intVar(func(c *Config, v int) { c.Embedding.Dimensions = v })},
	{"MODEL_PATH", stringVar(func(c *Config, v string) { c.Embedding.ModelPath = v })},
	{"EMBEDDING_BASE_URL", stringVar(func(c *Config, v string) { c.Embedding.HTTP.BaseURL = v })},
	{"EMBEDDING_MODEL", stringVar(func(c *Config, v string) { c.Embedding.HTTP.Model = v })},
	{"DEFAULT_LANGUAGE", stringVar(func(c *Config, v string) { c.Language.Default = v })},
	{"DEFAULT_K", intVar(func(c *Config, v int) { c.Retrieval.DefaultK = v })},
	{"MAX_K", intVar(func(c *Config, v int) { c.Retrieval.MaxK = v })},
	{"WATCH_DIRS", stringVar(func(c *Config, v string) {
		c.Watch.Directories = nil
		for _, d := range strings.Split(v, ",") {
			if d = strings.TrimSpace(d); d != "" {
				c.Watch.Directories = append(c.Watch.Directories, d)
			}
		}
	})},
}

// ApplyEnv overrides cfg with SHIORI_* variables found through lookup (os.LookupEnv in
// production). Malformed values are reported together.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok {
			continue
		}
		if err := b.apply(cfg, strings.TrimSpace(v)); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s%s: %w", EnvPrefix, b.name, err))
		}
	}
	return errors.Join(errs...)
}
