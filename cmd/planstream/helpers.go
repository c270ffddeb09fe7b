package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	planstream "github.com/planstream/planstream-go"
)

// clientOverrides carries per-command flags that take precedence over the
// config file.
type clientOverrides struct {
	Transport  string
	Types      string
	CursorFile string
	DevMode    bool
	Metrics    *planstream.Metrics
}

// newStreamClient builds a planstream client from the stored config.
func newStreamClient(cfg *Config, o clientOverrides) (*planstream.Client, error) {
	if cfg.Default.BaseURL == "" {
		return nil, fmt.Errorf("no base URL configured; run 'planstream init <base-url>' first")
	}

	opts := []planstream.Option{planstream.WithLogger(newLogger(os.Stderr))}
	if tok := effectiveToken(cfg); tok != "" {
		opts = append(opts, planstream.WithToken(tok))
	}
	if cfg.Default.StreamPath != "" {
		opts = append(opts, planstream.WithStreamPath(cfg.Default.StreamPath))
	}
	if cfg.Default.ChannelField != "" {
		opts = append(opts, planstream.WithChannelField(cfg.Default.ChannelField))
	}
	if cfg.Default.DevMode || o.DevMode {
		opts = append(opts, planstream.WithDevMode(true))
	}

	transport := valueOrDefault(o.Transport, cfg.Default.Transport)
	switch transport {
	case "", "http":
	case "ws":
		opts = append(opts, planstream.WithTransport(planstream.NewWebSocketTransport(nil)))
	default:
		return nil, fmt.Errorf("unknown transport %q (valid: http, ws)", transport)
	}

	if types := splitList(valueOrDefault(o.Types, cfg.Default.Types)); len(types) > 0 {
		opts = append(opts, planstream.WithAllowedTypes(types...))
	}

	if o.CursorFile != "" {
		store, err := planstream.OpenFileCursorStore(o.CursorFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, planstream.WithCursorStore(store))
	}
	if o.Metrics != nil {
		opts = append(opts, planstream.WithMetrics(o.Metrics))
	}

	return planstream.NewClient(cfg.Default.BaseURL, opts...)
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// splitList parses a comma-separated flag value, ignoring blanks.
func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// maskKey shows the first 12 and last 4 characters of a token.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	if len(key) <= 16 {
		return key[:4] + "..." + key[len(key)-4:]
	}
	return key[:12] + "..." + key[len(key)-4:]
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}
