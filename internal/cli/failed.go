package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Reset failed queue items so they are delivered again",
	Long: `Reset the attempt counter of every failed item in the persisted queue.
Run it while syncd is stopped, or use POST /queue/retry-failed on a running instance.`,
	Args: cobra.NoArgs,
	Run:  runRetryFailed,
}

var clearFailedCmd = &cobra.Command{
	Use:   "clear-failed",
	Short: "Delete failed queue items",
	Long: `Remove every failed item from the persisted queue.
Run it while syncd is stopped, or use POST /queue/clear-failed on a running instance.`,
	Args: cobra.NoArgs,
	Run:  runClearFailed,
}

func init() {
	rootCmd.AddCommand(retryFailedCmd)
	rootCmd.AddCommand(clearFailedCmd)
}

func runRetryFailed(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	q, store := openQueue(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	n := q.RetryFailed(ctx)
	fmt.Printf("Reset %d failed item(s)\n", n)
}

func runClearFailed(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	q, store := openQueue(ctx, cfg)
	defer func() {
		_ = store.Close()
	}()

	n := q.ClearFailed(ctx)
	fmt.Printf("Removed %d failed item(s)\n", n)
}
