package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"niche-backend/internal/analysisruns"
	"niche-backend/internal/bootstrap"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Start and inspect analysis runs",
}

var runStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Queue an analysis run for a niche",
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		nicheID, _ := f.GetString("niche")
		userID, _ := f.GetString("user")
		priority, _ := f.GetString("priority")
		maxProducts, _ := f.GetInt("max-products")
		webhook, _ := f.GetString("webhook")
		reviews, _ := f.GetBool("reviews")
		competitors, _ := f.GetBool("competitors")

		cfg := analysisruns.Config{
			NicheID:              nicheID,
			UserID:               userID,
			MaxProductsToAnalyze: maxProducts,
			Priority:             priority,
			WebhookURL:           webhook,
		}
		if f.Changed("reviews") {
			cfg.IncludeReviews = &reviews
		}
		if f.Changed("competitors") {
			cfg.IncludeCompetitors = &competitors
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			runID, err := app.Orchestrator.StartAnalysis(ctx, cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		})
	},
}

var runStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetBool("events")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if events {
				list, err := app.Orchestrator.Events(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, list)
			}
			view, err := app.Orchestrator.GetAnalysisStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		})
	},
}

var runResumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Requeue a failed or partially completed run from its last completed step",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			return app.Orchestrator.ResumeAnalysis(ctx, args[0])
		})
	},
}

var runCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a queued or processing run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			return app.Orchestrator.CancelAnalysis(ctx, args[0])
		})
	},
}

var runStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue and run counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			st, err := app.Orchestrator.QueueStats(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		})
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete finished runs older than the retention period",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			if days <= 0 {
				days = app.Orchestrator.Tunables.RetentionDays
			}
			n, err := app.Orchestrator.CleanupOldRuns(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d runs older than %d days\n", n, days)
			return nil
		})
	},
}

func init() {
	f := runStartCmd.Flags()
	f.String("niche", "", "niche id")
	f.String("user", "", "user id (uuid)")
	f.String("priority", "normal", "high, normal or low")
	f.Int("max-products", 0, "products to analyze (default 50)")
	f.String("webhook", "", "URL notified on completion")
	f.Bool("reviews", true, "include review analysis")
	f.Bool("competitors", true, "include competitor analysis")
	_ = runStartCmd.MarkFlagRequired("niche")
	_ = runStartCmd.MarkFlagRequired("user")

	runStatusCmd.Flags().Bool("events", false, "print the event log instead")
	cleanupCmd.Flags().Int("days", 0, "retention in days (default from pipeline config)")

	runsCmd.AddCommand(runStartCmd, runStatusCmd, runResumeCmd, runCancelCmd, runStatsCmd)
}
