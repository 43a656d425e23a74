// Package main is the SchemaPilot CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/schemapilot/schemapilot/internal/cli"
	"github.com/schemapilot/schemapilot/internal/config"
	"github.com/schemapilot/schemapilot/internal/embedding"
	"github.com/schemapilot/schemapilot/internal/index"
	"github.com/schemapilot/schemapilot/internal/llm"
	"github.com/schemapilot/schemapilot/internal/pipeline"
	"github.com/schemapilot/schemapilot/internal/prompt"
	"github.com/schemapilot/schemapilot/internal/server"
	"github.com/schemapilot/schemapilot/internal/vecstore"
	"github.com/schemapilot/schemapilot/internal/watcher"
	"github.com/schemapilot/schemapilot/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/schemapilot/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used,
// so that "schemapilot server" from the project dir uses the project's config.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	// API credentials come from the environment; a .env in the working
	// directory is a convenience for development.
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "ask":
		runAsk()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("schemapilot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (pipeline stages, index reloads, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	var watchSvc *watcher.Watcher
	if cfg.Storage.Watch && cfg.Storage.Driver != "memory" {
		handle := components.Handle
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc = watcher.NewWatcher(cfg.Storage.Path, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := handle.Reload(ctx); err != nil {
				logger.Warn("index reload failed", zap.Error(err))
				return
			}
			logger.Info("index reloaded", zap.Int("rows", handle.Size()))
		}, watchOpts...)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
	}

	srv := server.NewServer(components.Pipeline, components.Handle, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printAskUsage prints ask subcommand usage.
func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: schemapilot ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "Question is all remaining arguments joined by spaces. Multi-word questions work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
The question is embedded, matched against the indexed table descriptions, and
answered by the configured LLM with the matching tables as context.

Examples:
  schemapilot ask which table stores user accounts
  schemapilot ask "which table stores user accounts"          # same as above
  schemapilot ask --output json "count orders per customer"
  schemapilot ask --server "" "what is in the orders table"   # local mode, no server needed
`)
}

// buildQuestion joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildQuestion(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// askArgsReorder moves any flags (and their values) that appear after the question
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument, so "schemapilot ask \"question\" -output json"
// would otherwise leave -output unparsed.
func askArgsReorder(args []string) []string {
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

func runAsk() {
	askArgs := askArgsReorder(os.Args[2:])

	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for local mode)")
	serverURL := fs.String("server", "http://localhost:3000", "server URL (empty = answer locally without a running server)")
	outputFormat := fs.String("output", "text", "output format: text (human-readable) or json (parseable)")
	timeout := fs.Duration("timeout", 2*time.Minute, "time to wait for an answer")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(askArgs)

	if fs.NArg() < 1 {
		printAskUsage(fs)
		os.Exit(1)
	}
	question := buildQuestion(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	if *serverURL != "" {
		answer, err := askViaHTTP(*serverURL, question, *timeout)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
			os.Exit(1)
		}
		if err := cli.WriteAnswer(os.Stdout, answer, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Local mode: run the full pipeline in-process (requires LLM credentials in env).
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	answer, err := components.Pipeline.Answer(ctx, question)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ask failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteAnswer(os.Stdout, answer, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func askViaHTTP(serverURL, question string, timeout time.Duration) (string, error) {
	client := &http.Client{Timeout: timeout}
	resp, err := client.Post(serverURL+"/generate", "text/plain", strings.NewReader(question))
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, cli.Truncate(strings.TrimSpace(string(body)), 500))
	}
	return string(body), nil
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct storage mode)")
	serverURL := fs.String("server", "http://localhost:3000", "server URL (empty = read the store directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Printf("%v\n", err)
		os.Exit(1)
	}

	var status *cli.Status
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		// Direct storage access (when server is not running). Only the store
		// is opened; LLM credentials are not needed to inspect the index.
		cfg, _, err := loadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
		store, err := vecstore.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.Collection, cfg.Embedding.Dimensions)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer store.Close()
		count, err := store.Count(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Count rows failed: %v\n", err)
			os.Exit(1)
		}
		col := store.Collection()
		status = &cli.Status{
			Collection: col.Name,
			Rows:       count,
			Dimension:  col.Dimension,
			Config: &cli.StatusConfig{
				StorageDriver:     cfg.Storage.Driver,
				EmbeddingProvider: cfg.Embedding.Provider,
				TopK:              cfg.Retrieval.TopK,
				LLMMaxTokens:      cfg.LLM.MaxTokens,
				LLMTemperature:    cfg.LLM.TemperatureOrDefault(),
			},
		}
		if cfg.Storage.Driver != "memory" {
			if n, diskErr := vecstore.DiskUsageBytes(vecstore.StoreFiles(cfg.Storage.Path)...); diskErr == nil {
				status.DiskUsageBytes = &n
			}
		}
	}

	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusViaHTTP(serverURL string) (*cli.Status, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s cli.Status
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

// Components holds initialized services.
type Components struct {
	Store    vecstore.Store
	Handle   *index.Handle
	Embedder embedding.Embedder
	LLM      *llm.Client
	Pipeline *pipeline.Pipeline
}

func (c *Components) Close() {
	if c.Handle != nil {
		_ = c.Handle.Close()
	} else if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.LLM != nil {
		_ = c.LLM.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := vecstore.Open(cfg.Storage.Driver, cfg.Storage.Path, cfg.Storage.Collection, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	handle, err := index.Open(context.Background(), store)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}
	logger.Info("index loaded",
		zap.String("collection", cfg.Storage.Collection),
		zap.Int("rows", handle.Size()),
	)

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	llmClient, err := llm.NewClient(llm.ClientConfig{
		APIURL:     os.Getenv(cfg.LLM.APIURLEnv),
		APIKey:     os.Getenv(cfg.LLM.APIKeyEnv),
		MaxRetries: cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	builder := prompt.NewBuilder(cfg.LLM.SystemInstruction)
	pipe := pipeline.New(embedder, handle, builder, llmClient, pipeline.Config{
		TopK:        cfg.Retrieval.TopK,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	}, logger)

	return &Components{
		Store:    store,
		Handle:   handle,
		Embedder: embedder,
		LLM:      llmClient,
		Pipeline: pipe,
	}, nil
}

// newEmbedder builds the embedder selected by cfg.Embedding.Provider.
func newEmbedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "onnx":
		return embedding.NewONNXEmbedder(
			cfg.Embedding.ModelPath,
			cfg.Embedding.Dimensions,
			cfg.Embedding.MaxTokens,
			cfg.Embedding.CacheSize,
		)
	case "mock":
		return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
	case "openai", "":
		embedder, err := embedding.NewHTTPEmbedder(embedding.HTTPEmbedderConfig{
			BaseURL:    cfg.Embedding.BaseURL,
			APIKey:     os.Getenv(cfg.Embedding.APIKeyEnv),
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			MaxRetries: 2,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Embedding.CacheSize > 0 {
			return embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheSize), nil
		}
		return embedder, nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q; use openai, onnx, or mock", cfg.Embedding.Provider)
	}
}

func printUsage() {
	fmt.Println(`schemapilot - Schema-aware question answering over your database tables

Usage:
  schemapilot server [flags]          Start the HTTP server
  schemapilot ask [flags] <question>  Ask a question about the schema
  schemapilot status [flags]          Show store and pipeline status
  schemapilot version                 Show version
  schemapilot help                    Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/schemapilot/config.yaml)
  --debug            Enable debug logging (pipeline stages, index reloads, etc.)

Ask Flags:
  --config string     Config file path (for local mode)
  --server string     Server URL (default: http://localhost:3000). Use empty (--server "") to answer locally without a running server.
  --output string     Output format: text or json (default: text)
  --timeout duration  Time to wait for an answer (default: 2m)

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:3000). Use empty (--server "") to read the store directly.
  --output string    Output format: text or json (default: text)

Examples:
  schemapilot server
  schemapilot ask which table stores user accounts
  schemapilot ask "give me a query that counts orders per customer"
  schemapilot ask --output json "what columns does the orders table have"
  schemapilot status
  schemapilot status --output json`)
}
