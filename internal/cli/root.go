// Package cli provides the command-line interface for docindex.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/docindex/internal/config"
	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/raphaelgruber/docindex/internal/llm"
	"github.com/raphaelgruber/docindex/internal/metrics"
	"github.com/raphaelgruber/docindex/internal/queue"
	"github.com/raphaelgruber/docindex/internal/tasks"
	"github.com/raphaelgruber/docindex/internal/vectordb"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	verbose bool

	cfg        config.Config
	log        *slog.Logger
	logCleanup func() error
	dbClient   *db.Client
	stats      *metrics.Collector

	// Lazy-initialized components
	embedder *llm.Embedder
	model    *llm.Model
	store    vectordb.Store
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "docindex",
	Short: "Project-scoped document knowledge base with semantic search",
	Long: `Docindex ingests documents into per-project knowledge bases, splits them
into chunks, embeds the chunks and indexes them in a vector store for
semantic search and retrieval-augmented answers.

Ingestion runs as a chain of background tasks deduplicated by an execution
ledger, so repeated submissions and broker redeliveries are safe.`,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip DB connection for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		cfg = config.Load()
		if verbose {
			cfg.LogLevel = slog.LevelDebug
		}
		log, logCleanup = config.SetupLogger(cfg.LogFile, cfg.LogLevel)
		stats = metrics.NewCollector()

		ctx := context.Background()
		var err error
		dbClient, err = db.NewClient(ctx, db.Config{
			URL:       cfg.SurrealDBURL,
			Namespace: cfg.SurrealDBNamespace,
			Database:  cfg.SurrealDBDatabase,
			Username:  cfg.SurrealDBUser,
			Password:  cfg.SurrealDBPass,
			AuthLevel: cfg.SurrealDBAuthLevel,
		}, log)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}

		if err := dbClient.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if store != nil {
			if err := store.Disconnect(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to disconnect vector store: %v\n", err)
			}
		}
		if dbClient != nil {
			if err := dbClient.Close(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close database: %v\n", err)
			}
		}
		if logCleanup != nil {
			_ = logCleanup()
		}
	},
}

// getStore returns the configured vector store backend, connecting on first
// use.
func getStore(ctx context.Context) (vectordb.Store, error) {
	if store != nil {
		return store, nil
	}

	metric := vectordb.DistanceCosine
	if cfg.DistanceMetric == "dot" {
		metric = vectordb.DistanceDot
	}

	switch cfg.VectorBackend {
	case config.BackendPGVector:
		store = vectordb.NewPGVectorStore(cfg.PostgresURL, metric, log,
			vectordb.WithPGIndexThreshold(int64(cfg.IndexThreshold)))
	case config.BackendSurreal:
		store = vectordb.NewSurrealStore(dbClient, metric, log)
	default:
		return nil, fmt.Errorf("unknown vector backend: %s", cfg.VectorBackend)
	}

	if err := store.Connect(ctx); err != nil {
		store = nil
		return nil, err
	}
	return store, nil
}

// getEmbedder initializes the embedder on first use.
func getEmbedder() (*llm.Embedder, error) {
	if embedder != nil {
		return embedder, nil
	}
	var err error
	embedder, err = llm.NewEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}
	return embedder, nil
}

// getModel initializes the generation model on first use.
func getModel() (*llm.Model, error) {
	if model != nil {
		return model, nil
	}
	var err error
	model, err = llm.NewModel(cfg)
	if err != nil {
		return nil, fmt.Errorf("init model: %w", err)
	}
	return model, nil
}

// getWorkflow builds the task submission side.
func getWorkflow() *tasks.Workflow {
	dispatcher := queue.NewDispatcher(dbClient, log, cfg.TaskMaxAttempts)
	return tasks.NewWorkflow(dispatcher, log)
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
