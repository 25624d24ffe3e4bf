package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/raphaelgruber/docindex/internal/indexer"
	"github.com/raphaelgruber/docindex/internal/ledger"
	"github.com/raphaelgruber/docindex/internal/metrics"
	"github.com/raphaelgruber/docindex/internal/parser"
	"github.com/raphaelgruber/docindex/internal/queue"
	"github.com/raphaelgruber/docindex/internal/tasks"
	"github.com/spf13/cobra"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background task worker",
	Long: `Worker claims queued tasks and runs the ingestion pipeline: parsing,
chunking, embedding and vector indexing. Every pipeline stage is deduplicated
through the execution ledger, so running multiple workers is safe.

Stops cleanly on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		vstore, err := getStore(ctx)
		if err != nil {
			return err
		}
		emb, err := getEmbedder()
		if err != nil {
			return err
		}

		ldg := ledger.New(dbClient, log,
			ledger.WithTimeLimit(cfg.TaskTimeLimit),
			ledger.WithGracePeriod(cfg.TaskGracePeriod),
			ledger.WithRetention(cfg.TaskRetention))

		orch := indexer.New(dbClient, emb, vstore, log,
			indexer.WithBatchSize(cfg.IndexBatchSize),
			indexer.WithPageSize(cfg.ChunkPageSize),
			indexer.WithMetrics(stats))

		dispatcher := queue.NewDispatcher(dbClient, log, cfg.TaskMaxAttempts)
		splitter := parser.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap)
		pipeline := tasks.NewPipeline(dbClient, ldg, dispatcher, splitter, orch, log)

		if workerConcurrency <= 0 {
			workerConcurrency = cfg.WorkerConcurrency
		}
		worker := queue.NewWorker(dbClient, log,
			queue.WithConcurrency(workerConcurrency),
			queue.WithRetryBackoff(cfg.TaskRetryBackoff),
			queue.WithTaskTimeout(cfg.TaskTimeLimit),
			queue.WithStaleAfter(cfg.TaskTimeLimit+cfg.TaskGracePeriod))
		pipeline.Register(worker)

		fmt.Printf("Worker running with %d slots (backend %s). Ctrl+C to stop.\n",
			workerConcurrency, cfg.VectorBackend)

		err = worker.Run(ctx)

		snap := stats.Snapshot()
		for op, s := range map[string]*metrics.OperationSnapshot{
			metrics.OpEmbedding:    snap.Embedding,
			metrics.OpVectorUpsert: snap.VectorUpsert,
			metrics.OpLLMGenerate:  snap.LLMGenerate,
		} {
			if s == nil {
				continue
			}
			log.Info("operation totals", "op", op,
				"count", s.Count, "total_ms", s.TotalTimeMs, "items", s.TotalItems)
		}
		return err
	},
}

func init() {
	workerCmd.Flags().IntVarP(&workerConcurrency, "concurrency", "c", 0, "concurrent task slots (default: from config)")
	rootCmd.AddCommand(workerCmd)
}
