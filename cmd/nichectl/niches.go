package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/niches"
)

var nichesCmd = &cobra.Command{
	Use:   "niches",
	Short: "Create and process niches",
}

var nicheCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a pending niche",
	Long: `Create a pending niche owned by --user.

Example:
  nichectl niches create --user 3f1c... --name "Standing desks" --asins B0ABC12345,B0DEF67890`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		name, _ := cmd.Flags().GetString("name")
		category, _ := cmd.Flags().GetString("category")
		asins, _ := cmd.Flags().GetStringSlice("asins")
		marketplace, _ := cmd.Flags().GetString("marketplace")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			n, err := app.NichesService.Create(ctx, userID, niches.CreateInput{
				Name:        name,
				Category:    category,
				ASINs:       asins,
				Marketplace: marketplace,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, n)
		})
	},
}

var nicheProcessCmd = &cobra.Command{
	Use:   "process <niche-id>",
	Short: "Run the niche processor in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retry, _ := cmd.Flags().GetBool("retry-failed")
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			var (
				job niches.Job
				err error
			)
			if retry {
				job, err = app.NicheProcessor.RetryFailed(ctx, args[0])
			} else {
				n, gerr := app.NichesRepo.Get(ctx, args[0])
				if gerr != nil {
					return gerr
				}
				job, err = app.NicheProcessor.Process(ctx, niches.ProcessRequest{
					NicheID:     n.ID,
					Name:        n.Name,
					ASINs:       n.ASINs,
					Marketplace: n.Marketplace,
				})
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		})
	},
}

var nicheDueCmd = &cobra.Command{
	Use:   "process-due",
	Short: "Process every pending niche whose scheduled date has passed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			n, err := app.NicheProcessor.ProcessDue(ctx, app.Orchestrator.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "processed %d niches\n", n)
			return nil
		})
	},
}

var nicheProgressCmd = &cobra.Command{
	Use:   "progress <niche-id>",
	Short: "Show processing progress of a niche",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			view, err := app.NicheProcessor.GetProgress(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		})
	},
}

func init() {
	f := nicheCreateCmd.Flags()
	f.String("user", "", "owner user id (uuid)")
	f.String("name", "", "niche name")
	f.String("category", "", "category")
	f.StringSlice("asins", nil, "comma separated ASINs")
	f.String("marketplace", "US", "marketplace code")
	for _, name := range []string{"user", "name", "asins"} {
		_ = nicheCreateCmd.MarkFlagRequired(name)
	}
	nicheProcessCmd.Flags().Bool("retry-failed", false, "only retry the ASINs that failed last time")

	nichesCmd.AddCommand(nicheCreateCmd, nicheProcessCmd, nicheDueCmd, nicheProgressCmd)
}

