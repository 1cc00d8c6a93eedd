package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"dcwatch/internal/queue"

	"github.com/spf13/cobra"
)

var statusFilter string

// queueCmd inspects the task queue file
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect or repair the author queue (offline)",
}

var queueStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Count tasks by status",
	Args:  cobra.NoArgs,
	RunE:  queueStats,
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued tasks",
	Args:  cobra.NoArgs,
	RunE:  queueList,
}

var queueRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Move permanently failed tasks back to pending",
	Args:  cobra.NoArgs,
	RunE:  queueRetry,
}

// openQueue opens the configured queue without a runner. Processing never
// starts, so the file can be read and edited while dcwatch is not running.
func openQueue() (*queue.Queue, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return queue.New(queue.Options{
		Store:      queue.NewFileStore(cfg.Queue.Path),
		MaxRetries: cfg.Queue.MaxRetries,
	})
}

func queueStats(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	st := q.Stats()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pending:    %d\n", st.Pending)
	fmt.Fprintf(out, "processing: %d\n", st.Processing)
	fmt.Fprintf(out, "done:       %d\n", st.Done)
	fmt.Fprintf(out, "failed:     %d\n", st.Failed)
	fmt.Fprintf(out, "total:      %d\n", st.Total)
	return nil
}

func queueList(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tAUTHOR\tRETRIES\tADDED\tERROR")
	for _, t := range q.Tasks() {
		if statusFilter != "" && string(t.Status) != statusFilter {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			t.Status, t.AuthorName, t.RetryCount, t.AddedAt.Format("2006-01-02 15:04:05"), t.Error)
	}
	return tw.Flush()
}

func queueRetry(cmd *cobra.Command, args []string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	n := q.RequeueFailed()
	if err := q.Close(context.Background()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed task(s)\n", n)
	return nil
}
