package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/shared/auth"
	"niche-backend/internal/users"
)

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage users and subscription tiers",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create or update a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		email, _ := cmd.Flags().GetString("email")
		tier, _ := cmd.Flags().GetString("tier")
		if id == "" {
			id = uuid.NewString()
		}
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			user, err := app.UsersService.Register(ctx, users.User{ID: id, Email: email, SubscriptionTier: tier})
			if err != nil {
				return err
			}
			return printJSON(cmd, user)
		})
	},
}

var userUsageCmd = &cobra.Command{
	Use:   "usage <user-id>",
	Short: "Show this month's run allowance of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			u, err := app.Orchestrator.Usage(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, u)
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign an API bearer token with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		sub, _ := cmd.Flags().GetString("user")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if sub == "" {
			return fmt.Errorf("--user is required")
		}
		now := time.Now().UTC()
		token, err := auth.SignJWT(auth.Claims{
			Sub:   sub,
			Email: email,
			Iat:   now.Unix(),
			Exp:   now.Add(ttl).Unix(),
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	f := userCreateCmd.Flags()
	f.String("id", "", "user id (uuid, generated when empty)")
	f.String("email", "", "email address")
	f.String("tier", users.TierFree, "free, pro or enterprise")

	tf := tokenCmd.Flags()
	tf.String("user", "", "user id to embed as sub")
	tf.String("email", "", "email claim")
	tf.Duration("ttl", 24*time.Hour, "token lifetime")

	usersCmd.AddCommand(userCreateCmd, userUsageCmd)
}
