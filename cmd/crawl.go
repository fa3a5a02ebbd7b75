package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nalpari/jppc/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var sources []string
	cmd := &cobra.Command{
		Use:   "crawl [source...]",
		Short: "Run one crawl job in the foreground",
		Long: `Crawls the given sources (all enabled sources when none are named),
waits for the job to finish and prints the job record as JSON.
Interrupting the command cancels the job.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, append(args, sources...))
		},
	}
	cmd.Flags().StringSliceVarP(&sources, "source", "s", nil, "source code to crawl (repeatable)")
	return cmd
}

func runCrawl(cmd *cobra.Command, sources []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	job, err := a.Orchestrator.Start(ctx, sources, crawler.TriggerManual)
	if err != nil {
		return fmt.Errorf("start crawl: %w", err)
	}
	a.Logger.Info("crawl started", zap.String("job_id", job.ID), zap.Strings("sources", job.Sources))

	job, err = a.Orchestrator.Wait(ctx, job.ID)
	if err != nil {
		if _, cerr := a.Orchestrator.Cancel(job.ID); cerr != nil {
			a.Logger.Warn("cancel crawl", zap.Error(cerr))
		}
		return fmt.Errorf("wait for crawl: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if job.Status == crawler.JobStatusFailed {
		return fmt.Errorf("crawl %s failed: %s", job.ID, job.Error)
	}
	return nil
}
