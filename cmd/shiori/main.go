// Package main is the shiori CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/docstore"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/server"
	"github.com/hyperjump/shiori/internal/watcher"
	"github.com/hyperjump/shiori/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/shiori/config.yaml"
	defaultServerURL  = "http://localhost:8080"
	shutdownTimeout   = 10 * time.Second
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists. A missing file yields defaults plus environment overrides.
// Returns the config and the path of the file actually read ("" when none was).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(path); err != nil {
		return cfg, "", nil
	}
	return cfg, path, nil
}

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load .env: %v\n", err)
		os.Exit(1)
	}
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	args := os.Args[2:]
	var err error
	switch command := os.Args[1]; command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args)
	case "retrieve":
		err = runRetrieve(args)
	case "get":
		err = runGet(args)
	case "status":
		err = runStatus(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("shiori version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// clientFlags are shared by commands that work either against a server or on the data
// directory directly.
type clientFlags struct {
	configPath *string
	serverURL  *string
	apiKey     *string
	output     *string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	return &clientFlags{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		serverURL:  fs.String("server", "", "server URL (empty = open the store directly; the server must not be running)"),
		apiKey:     fs.String("api-key", "", "X-API-Key for --server (default: server.api_key from config)"),
		output:     fs.String("output", "text", "output format: text or json"),
	}
}

// session is either a server client or an open store.
type session struct {
	cfg    *config.Config
	logger *zap.Logger
	client *cli.Client
	store  *docstore.Store
	format cli.OutputFormat
}

func (f *clientFlags) open(ctx context.Context) (*session, error) {
	format, err := cli.ParseOutputFormat(*f.output)
	if err != nil {
		return nil, err
	}
	cfg, _, err := loadConfig(*f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	s := &session{cfg: cfg, logger: logger, format: format}
	if *f.serverURL != "" {
		key := *f.apiKey
		if key == "" {
			key = cfg.Server.APIKey
		}
		s.client = cli.NewClient(*f.serverURL, key, cfg.Server.RequestTimeout)
		return s, nil
	}
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	s.store = store
	return s, nil
}

func (s *session) Close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("close store failed", zap.Error(err))
		}
	}
	_ = s.logger.Sync()
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("provider", cfg.Embedding.Provider))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close store failed", zap.Error(err))
		}
	}()

	watchSvc := watcher.NewWatcher(store,
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		cfg.Watch.RecursiveOrDefault(),
		watcher.WithLogger(logger),
		watcher.WithMaxFileBytes(cfg.Server.MaxUploadBytes))
	srv := server.NewServer(store, &cfg.Server, logger,
		server.WithWatch(watchSvc, cfg, resolvedConfigPath))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error { return watchSvc.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	})
	return g.Wait()
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addClientFlags(fs)
	lang := fs.String("language", "", "language tag for every file (default: detect)")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		return errors.New("usage: shiori ingest [flags] <file-or-directory>...")
	}

	ctx := context.Background()
	s, err := cf.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	files, err := collectFiles(fs.Args(), s.cfg.Watch.Extensions)
	if err != nil {
		return err
	}
	results := make([]*models.IngestResult, 0, len(files))
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var res *models.IngestResult
		if s.client != nil {
			res, err = s.client.Ingest(ctx, content, path, *lang)
		} else {
			res, err = s.store.Ingest(ctx, models.IngestInput{
				Content:      content,
				LanguageHint: *lang,
				Filename:     filepath.Base(path),
			})
		}
		if err != nil {
			_ = cli.WriteIngestResults(os.Stdout, results, s.format)
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		results = append(results, res)
	}
	return cli.WriteIngestResults(os.Stdout, results, s.format)
}

// collectFiles expands directories into the files under them matching extensions.
// Files named explicitly are always included.
func collectFiles(paths []string, extensions []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != p && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if hasExtension(path, extensions) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func hasExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func printRetrieveUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: shiori retrieve [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Results are ordered by squared Euclidean distance: lower is more similar.

Examples:
  shiori retrieve software development
  shiori retrieve -k 5 "software development"
  shiori retrieve --language ja 検索
  shiori retrieve --server http://localhost:8080 --output json your query
`)
}

// buildQuery joins all positional args with spaces so multi-word queries work the same
// with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// reorderArgs moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse sees them. The flag package stops at the
// first non-flag argument.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runRetrieve(args []string) error {
	fs := flag.NewFlagSet("retrieve", flag.ExitOnError)
	cf := addClientFlags(fs)
	k := fs.Int("k", models.DefaultK, "number of results")
	lang := fs.String("language", "", "only return documents with this language tag")
	fs.Usage = func() { printRetrieveUsage(fs) }
	_ = fs.Parse(reorderArgs(args))

	queryStr := buildQuery(fs.Args())
	if queryStr == "" {
		printRetrieveUsage(fs)
		return errors.New("query is required")
	}
	query := models.RetrieveQuery{Query: queryStr, Language: *lang}
	if flagSet(fs, "k") {
		query = query.WithK(*k)
	}

	ctx := context.Background()
	s, err := cf.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var response *models.RetrieveResponse
	if s.client != nil {
		response, err = s.client.Retrieve(ctx, query)
	} else {
		start := time.Now()
		var results []*models.RetrieveResult
		results, err = s.store.Retrieve(ctx, query)
		response = &models.RetrieveResponse{
			Results:   results,
			Query:     queryStr,
			QueryTime: time.Since(start).Milliseconds(),
		}
	}
	if err != nil {
		return fmt.Errorf("retrieve failed: %w", err)
	}
	return cli.WriteRetrieveResults(os.Stdout, response, s.format)
}

func flagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func runGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() != 1 {
		return errors.New("usage: shiori get [flags] <doc_id>")
	}

	ctx := context.Background()
	s, err := cf.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var doc *models.DocumentRecord
	if s.client != nil {
		doc, err = s.client.Document(ctx, fs.Arg(0))
	} else {
		doc, err = s.store.Get(fs.Arg(0))
	}
	if err != nil {
		return err
	}
	return cli.WriteDocument(os.Stdout, doc, s.format)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(args)

	ctx := context.Background()
	s, err := cf.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	var stats *models.StoreStats
	if s.client != nil {
		if stats, err = s.client.Status(ctx); err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
	} else {
		stats = s.store.Stats()
	}
	return cli.WriteStatus(os.Stdout, stats, s.format)
}

func runWatch(args []string) error {
	if len(args) < 1 {
		return errors.New("usage: shiori watch <add|remove|list> [--server url] [path]")
	}
	sub := args[0]
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	apiKey := fs.String("api-key", os.Getenv(config.EnvPrefix+"API_KEY"), "X-API-Key")
	_ = fs.Parse(reorderArgs(args[1:]))

	c := cli.NewClient(*serverURL, *apiKey, 0)
	ctx := context.Background()
	switch sub {
	case "add", "remove":
		if fs.NArg() < 1 {
			return fmt.Errorf("usage: shiori watch %s <path>", sub)
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		if sub == "add" {
			err = c.WatchAdd(ctx, path)
		} else {
			err = c.WatchRemove(ctx, path)
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", map[string]string{"add": "Added", "remove": "Removed"}[sub], path)
		return nil
	case "list":
		dirs, err := c.WatchList(ctx)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	default:
		return fmt.Errorf("unknown watch subcommand: %s", sub)
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `shiori - local document store with semantic retrieval

Usage:
  shiori server [flags]                   Start the HTTP server and inbox watcher
  shiori ingest [flags] <file|dir>...     Ingest text files
  shiori retrieve [flags] <query>         Retrieve the most similar documents
  shiori get [flags] <doc_id>             Show a stored document
  shiori status [flags]                   Show store status
  shiori watch <add|remove|list> [path]   Manage inbox directories of a running server
  shiori version                          Show version
  shiori help                             Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/shiori/config.yaml, or ./config.yaml)
  --debug            Enable debug logging

Ingest / Retrieve / Get / Status Flags:
  --config string    Config file path
  --server string    Server URL. Empty (default) opens the data directory directly.
  --api-key string   X-API-Key sent with --server (default: server.api_key)
  --output string    Output format: text or json (default: text)
  --language string  ingest: language tag for all files; retrieve: language filter
  -k int             retrieve: number of results (default 3, max 100)

Environment:
  SHIORI_* variables override the config file; a .env file in the working directory is loaded first.

Examples:
  shiori server
  shiori ingest ./notes
  shiori retrieve -k 5 software development
  shiori retrieve --server http://localhost:8080 --output json "software development"
  shiori status --output json
  shiori watch add /path/to/inbox`)
}
