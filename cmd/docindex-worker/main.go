// Package main provides the standalone background worker daemon.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raphaelgruber/docindex/internal/config"
	"github.com/raphaelgruber/docindex/internal/db"
	"github.com/raphaelgruber/docindex/internal/indexer"
	"github.com/raphaelgruber/docindex/internal/ledger"
	"github.com/raphaelgruber/docindex/internal/llm"
	"github.com/raphaelgruber/docindex/internal/metrics"
	"github.com/raphaelgruber/docindex/internal/parser"
	"github.com/raphaelgruber/docindex/internal/queue"
	"github.com/raphaelgruber/docindex/internal/tasks"
	"github.com/raphaelgruber/docindex/internal/vectordb"
)

func main() {
	// Parse flags
	concurrency := flag.Int("concurrency", 0, "concurrent task slots (default: from config)")
	wipeDB := flag.Bool("wipe", false, "wipe all data from database on startup (testing only)")
	flag.Parse()

	cfg := config.Load()
	log, logCleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer logCleanup()

	log.Info("starting docindex-worker", "backend", cfg.VectorBackend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	dbClient, err := db.NewClient(connectCtx, db.Config{
		URL:       cfg.SurrealDBURL,
		Namespace: cfg.SurrealDBNamespace,
		Database:  cfg.SurrealDBDatabase,
		Username:  cfg.SurrealDBUser,
		Password:  cfg.SurrealDBPass,
		AuthLevel: cfg.SurrealDBAuthLevel,
	}, log)
	cancel()
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close(context.Background())

	if err := dbClient.InitSchema(ctx); err != nil {
		log.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	if *wipeDB {
		if err := dbClient.WipeData(ctx); err != nil {
			log.Error("failed to wipe database", "error", err)
			os.Exit(1)
		}
	}

	metric := vectordb.DistanceCosine
	if cfg.DistanceMetric == "dot" {
		metric = vectordb.DistanceDot
	}
	var store vectordb.Store
	switch cfg.VectorBackend {
	case config.BackendPGVector:
		store = vectordb.NewPGVectorStore(cfg.PostgresURL, metric, log,
			vectordb.WithPGIndexThreshold(int64(cfg.IndexThreshold)))
	default:
		store = vectordb.NewSurrealStore(dbClient, metric, log)
	}
	if err := store.Connect(ctx); err != nil {
		log.Error("failed to connect vector store", "error", err)
		os.Exit(1)
	}
	defer store.Disconnect(context.Background())

	embedder, err := llm.NewEmbedder(cfg)
	if err != nil {
		log.Error("failed to initialize embedder", "error", err)
		os.Exit(1)
	}

	stats := metrics.NewCollector()

	ldg := ledger.New(dbClient, log,
		ledger.WithTimeLimit(cfg.TaskTimeLimit),
		ledger.WithGracePeriod(cfg.TaskGracePeriod),
		ledger.WithRetention(cfg.TaskRetention))

	orch := indexer.New(dbClient, embedder, store, log,
		indexer.WithBatchSize(cfg.IndexBatchSize),
		indexer.WithPageSize(cfg.ChunkPageSize),
		indexer.WithMetrics(stats))

	dispatcher := queue.NewDispatcher(dbClient, log, cfg.TaskMaxAttempts)
	splitter := parser.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
	pipeline := tasks.NewPipeline(dbClient, ldg, dispatcher, splitter, orch, log)

	slots := *concurrency
	if slots <= 0 {
		slots = cfg.WorkerConcurrency
	}
	worker := queue.NewWorker(dbClient, log,
		queue.WithConcurrency(slots),
		queue.WithRetryBackoff(cfg.TaskRetryBackoff),
		queue.WithTaskTimeout(cfg.TaskTimeLimit),
		queue.WithStaleAfter(cfg.TaskTimeLimit+cfg.TaskGracePeriod))
	pipeline.Register(worker)

	log.Info("worker running", "concurrency", slots)
	if err := worker.Run(ctx); err != nil {
		log.Error("worker stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped")
}
