package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gnemet/PoemWeaver/internal/ai"
	"github.com/gnemet/PoemWeaver/internal/poem"
	"github.com/spf13/cobra"
)

var checkTheme string

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Send one poem prompt to the configured provider and print the answer",
	RunE:  runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkTheme, "theme", "t", "", "theme for the test poem")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	active := cfg.AI.Active()
	fmt.Fprintf(out, "Active Provider: %s (Driver: %s)\n", cfg.AI.ActiveProvider, active.Driver)
	fmt.Fprintf(out, "Model: %s\n", active.Model)
	if active.Key != "" {
		fmt.Fprintf(out, "API Key detected: %s\n", active.MaskedKey())
	}

	client, err := ai.NewClient(cmd.Context(), cfg.AI)
	if err != nil {
		return err
	}
	defer client.Close()

	timeout := cfg.AI.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	prompt := poem.BuildPrompt(checkTheme)
	fmt.Fprintf(out, "\nSending prompt: %q\n", prompt)

	start := time.Now()
	text, err := client.Generate(ctx, prompt)
	if err != nil {
		return fmt.Errorf("AI error: %w", err)
	}
	fmt.Fprintf(out, "\nResponse (%v):\n%s\n", time.Since(start).Round(time.Millisecond), text)
	return nil
}
