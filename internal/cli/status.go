package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/lingo/internal/core/domain"
)

var (
	serverURL   string
	watchStatus bool
	pollEvery   time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show progress of a job on a running server",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the lingo server")
	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Poll until the job finishes")
	statusCmd.Flags().DurationVar(&pollEvery, "interval", 2*time.Second, "Poll interval with --watch")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	setupLogging("info")
	ctx, stop := signalContext()
	defer stop()

	client := newAPIClient(serverURL, "")
	if err := showStatus(ctx, client, os.Stdout, args[0], watchStatus, pollEvery); err != nil {
		slog.Error("Failed to get job status", "job_id", args[0], "error", err)
		os.Exit(1)
	}
}

// showStatus prints progress, optionally polling until the job is
// terminal, then prints the result summary.
func showStatus(ctx context.Context, c *apiClient, w io.Writer, id string, watch bool, interval time.Duration) error {
	for {
		var p domain.Progress
		if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id, nil, &p); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s  %s  %d/%d done (%d ok, %d failed, %d in flight, %d retrying)\n",
			p.JobID, p.Status, p.Completed, p.Total, p.Succeeded, p.Failed, p.InFlight, p.Retrying)

		if p.Status.Terminal() {
			var res domain.Result
			err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+id+"/result", nil, &res)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
				return nil
			}
			if err != nil {
				return err
			}
			reportResult(w, &res)
			return nil
		}
		if !watch {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}
