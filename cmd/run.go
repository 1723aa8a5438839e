package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bloodyteeths/nabavkidata-sub002/internal/pipeline"
	"github.com/bloodyteeths/nabavkidata-sub002/internal/tender"
)

func newRunCmd() *cobra.Command {
	var req pipeline.Request
	var mode string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one full or incremental scrape of a category",
		Long: `Paginates the category's canonical listing route, resolves each tender,
stores new and changed records, and extracts and embeds their documents.
Incremental runs stop once recent pages stop producing changes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, ok := tender.ParseMode(mode)
			if !ok || parsed == tender.ModeDiscover {
				return fmt.Errorf("--mode must be full or incremental, got %q", mode)
			}
			req.Mode = parsed
			return runPipeline(cmd.Context(), req)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(tender.ModeIncremental), "scrape mode: full or incremental")
	cmd.Flags().StringVar(&req.Category, "category", "", "category to scrape (required)")
	cmd.Flags().IntVar(&req.MaxPages, "max-pages", 0, "page cap overriding the configured default")
	_ = cmd.MarkFlagRequired("category")
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Probe candidate routes and write a discovery report",
		Long: `Probes each candidate navigation token and writes a report recommending a
canonical route per category. The route file is never modified; promote a
reviewed report with "routes promote".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPipeline(cmd.Context(), pipeline.Request{Mode: tender.ModeDiscover, Category: category})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "probe one category; defaults to every category without a canonical route")
	return cmd
}

func runPipeline(ctx context.Context, req pipeline.Request) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return withApp(ctx, func(app App, rt *cliEnv) error {
		summary, runErr := app.RunOnce(ctx, req)
		if summary.Run.ID != "" {
			enc := json.NewEncoder(rt.out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return fmt.Errorf("write summary: %w", err)
			}
		}
		if runErr != nil {
			return fmt.Errorf("run %s: %w", req.Mode, runErr)
		}
		return nil
	})
}
