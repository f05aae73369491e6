package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwaverider/mediasync/internal/core/config"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
)

var requeueFailedCmd = &cobra.Command{
	Use:   "requeue-failed",
	Short: "Move FAILED tasks back to PENDING so workers pick them up again",
	Run:   runRequeueFailed,
}

func init() {
	rootCmd.AddCommand(requeueFailedCmd)
}

func runRequeueFailed(cmd *cobra.Command, args []string) {
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

	// Retry counts are zeroed so the task gets a full budget again.
	res, err := db.ExecContext(ctx, `
		UPDATE tasks SET status = 'PENDING', retry_count = 0, last_error = '', updated_at = CURRENT_TIMESTAMP
		WHERE status = 'FAILED'
	`)
	if err != nil {
		slog.Error("Failed to requeue tasks", "error", err)
		os.Exit(1)
	}

	n, _ := res.RowsAffected()
	fmt.Printf("Requeued %d failed tasks\n", n)
}
