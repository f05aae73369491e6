package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwaverider/mediasync/internal/core/config"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
	"github.com/aiwaverider/mediasync/internal/pipeline"
	"github.com/aiwaverider/mediasync/internal/queue"
)

var addPriority int

var addCmd = &cobra.Command{
	Use:   "add [url]",
	Short: "Enqueue the processing pipeline for a video URL",
	Args:  cobra.ExactArgs(1),
	Run:   runAdd,
}

func init() {
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "task priority (higher runs first)")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := sqlite.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	q := queue.New(cfg.Queue, sqlite.NewTaskRepo(db), slog.Default())
	enq, err := pipeline.New(q, slog.Default()).EnqueueVideo(ctx, args[0], addPriority)
	if err != nil {
		slog.Error("Failed to enqueue pipeline", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Enqueued pipeline for %s (download task %d)\n", args[0], enq.DownloadID)
}
