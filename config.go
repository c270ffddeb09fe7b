package planstream

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
)

const (
	DefaultStreamPath = "/stream"
	DefaultYieldEvery = 16
)

// TokenSource returns the bearer token for the next connection attempt.
// An empty token means the request is sent without Authorization.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

// Config holds everything a Client is built from. Use the With* options
// rather than filling it in directly.
type Config struct {
	BaseURL    string
	StreamPath string
	Token      TokenSource
	Transport  Transport
	HTTPClient *http.Client

	AllowedTypes []string
	ChannelField string
	// SoleChannelFallback routes events without a channel field to the only
	// subscribed channel. Off by default: such events are dropped.
	SoleChannelFallback bool

	Reconnect ReconnectConfig
	// DevMode permits sending the token as a query parameter when the
	// transport cannot carry headers. Never enable it against production.
	DevMode bool

	YieldEvery   int
	MaxLineBytes int

	Logger      *slog.Logger
	Metrics     *Metrics
	CursorStore CursorStore
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.StreamPath == "" {
		c.StreamPath = DefaultStreamPath
	}
	if !strings.HasPrefix(c.StreamPath, "/") {
		c.StreamPath = "/" + c.StreamPath
	}
	if c.HTTPClient == nil {
		// No client timeout: it would cut long-lived streams.
		c.HTTPClient = &http.Client{}
	}
	if c.Transport == nil {
		c.Transport = NewHTTPTransport(c.HTTPClient)
	}
	if len(c.AllowedTypes) == 0 {
		c.AllowedTypes = append([]string(nil), DefaultAllowedTypes...)
	}
	if c.ChannelField == "" {
		c.ChannelField = DefaultChannelField
	}
	c.Reconnect.defaults()
	if c.YieldEvery <= 0 {
		c.YieldEvery = DefaultYieldEvery
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Option configures a Client.
type Option func(*Config)

func WithToken(token string) Option {
	return func(c *Config) { c.Token = StaticToken(token) }
}

func WithTokenSource(src TokenSource) Option {
	return func(c *Config) { c.Token = src }
}

func WithStreamPath(path string) Option {
	return func(c *Config) { c.StreamPath = path }
}

func WithTransport(t Transport) Option {
	return func(c *Config) { c.Transport = t }
}

// WithHTTPClient sets the client used by the default HTTP transport.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

func WithAllowedTypes(types ...string) Option {
	return func(c *Config) { c.AllowedTypes = append([]string(nil), types...) }
}

func WithChannelField(field string) Option {
	return func(c *Config) { c.ChannelField = field }
}

// WithSoleChannelFallback enables routing of events that lack a channel
// field to the single subscribed channel.
func WithSoleChannelFallback() Option {
	return func(c *Config) { c.SoleChannelFallback = true }
}

func WithReconnect(rc ReconnectConfig) Option {
	return func(c *Config) { c.Reconnect = rc }
}

func WithDevMode(dev bool) Option {
	return func(c *Config) { c.DevMode = dev }
}

// WithYieldEvery sets how many chunks are processed before the read loop
// yields the processor.
func WithYieldEvery(n int) Option {
	return func(c *Config) { c.YieldEvery = n }
}

func WithMaxLineBytes(n int) Option {
	return func(c *Config) { c.MaxLineBytes = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithCursorStore seeds and persists per-channel resume cursors.
func WithCursorStore(s CursorStore) Option {
	return func(c *Config) { c.CursorStore = s }
}
