package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"niche-backend/internal/bootstrap"
	"niche-backend/internal/llm"
	"niche-backend/internal/shared/config"
)

var promptCmd = &cobra.Command{
	Use:   "prompt",
	Short: "Send one analysis prompt to the configured LLM and print the JSON reply",
	Long: `Send one analysis prompt to the configured LLM and print the JSON reply.

Example:
  nichectl prompt --kind niche --payload ./testdata/niche.json --provider anthropic`,
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		payloadPath, _ := cmd.Flags().GetString("payload")
		outPath, _ := cmd.Flags().GetString("out")
		provider, _ := cmd.Flags().GetString("provider")
		model, _ := cmd.Flags().GetString("model")

		raw, err := os.ReadFile(payloadPath)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return fmt.Errorf("payload is not JSON: %w", err)
		}

		cfg := config.Load()
		if provider != "" {
			cfg.LLMProvider = strings.ToLower(provider)
		}
		if model != "" {
			cfg.LLMModel = model
		}
		cfg.QueueDriver = "memory"
		cfg.DatabaseURL = ""
		cfg.Env = "dev"

		return withConfig(cmd, cfg, func(ctx context.Context, app *bootstrap.App) error {
			req, err := llm.Prompt(kind, payload)
			if err != nil {
				return err
			}
			resp, err := app.LLM.Complete(ctx, req)
			if err != nil {
				return fmt.Errorf("llm %s: %w", cfg.LLMProvider, err)
			}
			body := llm.ExtractJSON(resp.Text)
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("reply is not valid JSON:\n%s", resp.Text)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "model=%s input_tokens=%d output_tokens=%d cost=$%.4f\n",
				resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, llm.EstimateCost(resp))
			if outPath != "" {
				return os.WriteFile(outPath, []byte(body), 0o644)
			}
			fmt.Fprintln(cmd.OutOrStdout(), body)
			return nil
		})
	},
}

func init() {
	f := promptCmd.Flags()
	f.String("kind", llm.KindNiche, "prompt kind (niche, deep, keyword, ppc, inventory, demand, competitor, financial)")
	f.String("payload", "", "path to a JSON payload")
	f.String("out", "", "write the reply here instead of stdout")
	f.String("provider", "", "override LLM_PROVIDER")
	f.String("model", "", "override LLM_MODEL")
	_ = promptCmd.MarkFlagRequired("payload")
}
