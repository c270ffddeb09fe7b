package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	planstream "github.com/planstream/planstream-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("types", "", "Comma-separated event types to accept (default: client defaults)")
	watchCmd.Flags().String("cursor-file", "", "Persist per-plan cursors to this TOML file and resume from it")
	watchCmd.Flags().String("transport", "", "Stream transport: http or ws (overrides config)")
	watchCmd.Flags().Bool("dev", false, "Allow sending the token as a query parameter on header-less transports")
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

// watchLine is one line of watch output.
type watchLine struct {
	Plan     string          `json:"plan"`
	Type     string          `json:"type"`
	Sequence *int64          `json:"seq,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

var watchCmd = &cobra.Command{
	Use:   "watch <plan-id>...",
	Short: "Stream live events for one or more plans",
	Long:  "Subscribe to the given plans over a single shared connection and print each event as a JSON line.\nStatus changes are written to stderr. Press Ctrl-C to stop.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		o := clientOverrides{}
		o.Types, _ = cmd.Flags().GetString("types")
		o.CursorFile, _ = cmd.Flags().GetString("cursor-file")
		o.Transport, _ = cmd.Flags().GetString("transport")
		o.DevMode, _ = cmd.Flags().GetBool("dev")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		var srv *http.Server
		if metricsAddr != "" {
			reg := prometheus.NewRegistry()
			o.Metrics = planstream.NewMetrics(reg)
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			srv = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
				}
			}()
			defer srv.Close()
		}

		client, err := newStreamClient(cfg, o)
		if err != nil {
			return err
		}
		defer client.Disconnect()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return watchPlans(ctx, client, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
	},
}

// watchPlans subscribes to every plan and prints events until ctx is done or
// the client gives up reconnecting.
func watchPlans(ctx context.Context, client *planstream.Client, plans []string, stdout, stderr io.Writer) error {
	fatal := make(chan error, 1)
	client.OnOpened(func() {
		fmt.Fprintln(stderr, "[live]")
	})
	client.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Fprintf(stderr, "[reconnecting] attempt %d in %s\n", attempt, delay.Round(time.Millisecond))
	})
	client.OnError(func(err error) {
		fmt.Fprintf(stderr, "[error] %v\n", err)
		if errors.Is(err, planstream.ErrReconnectExhausted) {
			select {
			case fatal <- err:
			default:
			}
		}
	})

	var mu sync.Mutex
	enc := json.NewEncoder(stdout)
	emit := func(ev planstream.Event) {
		line := watchLine{Plan: ev.ChannelID, Type: ev.Type, Payload: ev.Payload}
		if ev.HasSequence {
			seq := ev.Sequence
			line.Sequence = &seq
		}
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(line); err != nil {
			fmt.Fprintf(stderr, "[error] write event: %v\n", err)
		}
	}

	for _, plan := range plans {
		if _, err := client.Subscribe(plan, emit); err != nil {
			return fmt.Errorf("subscribe %s: %w", plan, err)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-fatal:
		return err
	}
}
