package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aiwaverider/mediasync/internal/core/config"
	"github.com/aiwaverider/mediasync/internal/infra/storage/sqlite"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show task queue and upload ledger counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	taskCounts, err := sqlite.NewTaskRepo(db).CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count tasks", "error", err)
		os.Exit(1)
	}
	_, _ = fmt.Fprintln(w, "TASK STATUS\tCOUNT")
	for status, n := range taskCounts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, n)
	}
	_ = w.Flush()

	uploadCounts, err := sqlite.NewLedgerRepo(db).CountByStatus(ctx)
	if err != nil {
		slog.Error("Failed to count ledger entries", "error", err)
		os.Exit(1)
	}
	fmt.Println()
	_, _ = fmt.Fprintln(w, "UPLOAD STATUS\tCOUNT")
	for status, n := range uploadCounts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, n)
	}
	_ = w.Flush()
}
