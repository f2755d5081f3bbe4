// Command nichectl operates the niche pipeline from a shell: niches, analysis
// runs, users and tokens, migrations and prompt checks.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/shared/config"
)

var rootCmd = &cobra.Command{
	Use:           "nichectl",
	Short:         "Operate the niche research pipeline",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(nichesCmd, runsCmd, usersCmd, tokenCmd, cleanupCmd, migrateCmd, promptCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// withApp builds the application for one command and closes it afterwards.
// With the local queue driver the API must not be running, since Badger
// allows a single process.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	return withConfig(cmd, config.Load(), fn)
}

func withConfig(cmd *cobra.Command, cfg config.Config, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleCLI)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
