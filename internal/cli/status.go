package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/offlinesync/internal/control"
	"github.com/vietddude/offlinesync/internal/core/config"
	"github.com/vietddude/offlinesync/internal/queue"
)

var showItems bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the persisted queue",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&showItems, "items", false, "list every queued item")
	rootCmd.AddCommand(statusCmd)
}

// openQueue loads the persisted queue straight from storage. Changes made
// through it are written back immediately.
func openQueue(ctx context.Context, cfg *config.AppConfig) (*queue.Queue, *control.Store) {
	if cfg.Storage.Driver == config.DriverMemory {
		slog.Error("The memory storage driver keeps nothing between runs; use the admin API instead")
		os.Exit(1)
	}

	store, err := control.OpenStore(ctx, cfg.Storage)
	if err != nil {
		slog.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	backoff, err := cfg.Queue.Backoff.Strategy()
	if err != nil {
		slog.Error("Invalid queue backoff", "error", err)
		os.Exit(1)
	}
	q := queue.New(queue.Config{UrgentThreshold: cfg.Queue.UrgentThreshold, Backoff: backoff}, store, nil, nil)
	if err := q.Load(ctx); err != nil {
		_ = store.Close()
		slog.Error("Failed to load queue", "error", err)
		os.Exit(1)
	}
	return q, store
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	q, store := openQueue(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	stats := q.Stats()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TOTAL\tPENDING\tPROCESSING\tFAILED\tOLDEST")
	_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\n",
		stats.Total, stats.Pending, stats.Processing, stats.Failed, stats.OldestAge.Round(time.Second))
	_ = w.Flush()

	if !showItems || stats.Total == 0 {
		return
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tPRIORITY\tSTATUS\tATTEMPTS\tLAST ERROR")
	for _, item := range q.GetAll() {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%d\t%s\n",
			item.ID, item.Action.Kind(), item.Priority(), item.Status(), item.Attempts, item.LastError)
	}
	_ = w.Flush()
}
