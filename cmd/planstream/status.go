package main

import (
	"context"
	"fmt"
	"io"
	"time"

	planstream "github.com/planstream/planstream-go"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().String("plan", "", "Plan id to subscribe to while probing the stream")
	statusCmd.Flags().Duration("timeout", 10*time.Second, "How long to wait for the stream to open")
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and stream reachability",
	Long:  "Display the current configuration and, when --plan is given, open the stream once to check that it is reachable.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		printConfigSummary(out, cfg)

		plan, _ := cmd.Flags().GetString("plan")
		if plan == "" {
			return nil
		}
		timeout, _ := cmd.Flags().GetDuration("timeout")

		fmt.Fprintln(out)
		fmt.Fprintln(out, "Live status:")

		client, err := newStreamClient(cfg, clientOverrides{})
		if err != nil {
			fmt.Fprintf(out, "  Error: %v\n", err)
			return nil
		}
		defer client.Disconnect()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		result := probeStream(ctx, client, plan)
		fmt.Fprintf(out, "  Stream:      %s\n", result)
		return nil
	},
}

func printConfigSummary(w io.Writer, cfg *Config) {
	fmt.Fprintln(w, "Configuration:")
	fmt.Fprintf(w, "  Base URL:    %s\n", valueOrDefault(cfg.Default.BaseURL, "(not set)"))
	fmt.Fprintf(w, "  Stream path: %s\n", valueOrDefault(cfg.Default.StreamPath, planstream.DefaultStreamPath))
	fmt.Fprintf(w, "  Transport:   %s\n", valueOrDefault(cfg.Default.Transport, "http"))
	if cfg.Default.Types != "" {
		fmt.Fprintf(w, "  Types:       %s\n", cfg.Default.Types)
	}
	if cfg.Default.DevMode {
		fmt.Fprintln(w, "  Dev mode:    on")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Auth:")
	switch tok := effectiveToken(cfg); {
	case tok == "":
		fmt.Fprintln(w, "  Token:       (not set)")
	case tok != cfg.Auth.Token:
		fmt.Fprintf(w, "  Token:       %s (from %s)\n", maskKey(tok), tokenEnv)
	default:
		fmt.Fprintf(w, "  Token:       %s\n", maskKey(tok))
	}
}

// probeStream subscribes to plan and reports whether the stream opened before
// ctx expired.
func probeStream(ctx context.Context, client *planstream.Client, plan string) string {
	opened := make(chan struct{}, 1)
	failed := make(chan error, 1)
	client.OnOpened(func() {
		select {
		case opened <- struct{}{}:
		default:
		}
	})
	client.OnError(func(err error) {
		select {
		case failed <- err:
		default:
		}
	})

	if _, err := client.Subscribe(plan, func(planstream.Event) {}); err != nil {
		return fmt.Sprintf("error: %v", err)
	}

	select {
	case <-opened:
		return "reachable"
	case err := <-failed:
		return fmt.Sprintf("unreachable: %v", err)
	case <-ctx.Done():
		return "no data before timeout"
	}
}
