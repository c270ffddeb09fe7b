// Package planstream is a resilient client for a plan event stream served
// as text/event-stream.
//
// Any number of plans can be watched at once; they share a single physical
// connection. The client reconnects with jittered exponential backoff and
// resumes from the lowest sequence seen across all subscribed plans, so
// delivery is at-least-once per plan.
//
// Example:
//
//	client, err := planstream.NewClient("https://api.example.com",
//		planstream.WithToken(token))
//	if err != nil {
//		return err
//	}
//	defer client.Disconnect()
//
//	client.OnOpened(func() { status.Set("live") })
//	client.OnError(func(err error) { status.Set("reconnecting") })
//
//	sub, _ := client.Subscribe("plan-123", func(ev planstream.Event) {
//		fmt.Println(ev.Type, string(ev.Payload))
//	})
//	defer sub.Unsubscribe()
package planstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/planstream/planstream-go/internal/sse"
)

// ============================================================================
// Client
// ============================================================================

// Client multiplexes channel subscriptions over one stream connection.
type Client struct {
	cfg     Config
	baseURL *url.URL
	logger  *slog.Logger
	metrics *Metrics
	recon   *reconnector
	notify  notifier

	mu       sync.Mutex
	reg      *registry
	state    State
	session  *session
	lastDone <-chan struct{}
	conn     *connection
	closed   bool
}

// session spans from the first subscription to the last unsubscribe and
// owns the reconnect loop. At most one session runs at a time.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewClient creates a client for the stream served under baseURL. No
// connection is made until the first Subscribe.
//
// NewClient fails with ErrInsecureTransport when a token is configured, the
// transport cannot send headers, and dev mode is off.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	cfg := Config{BaseURL: baseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg.defaults()

	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Token != nil && !cfg.Transport.SupportsHeaders() && !cfg.DevMode {
		return nil, ErrInsecureTransport
	}

	c := &Client{
		cfg:     cfg,
		baseURL: u,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		recon:   newReconnector(cfg.Reconnect),
		reg:     newRegistry(cfg.ChannelField, cfg.SoleChannelFallback),
		state:   StateIdle,
	}
	c.metrics.setState(StateIdle)
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ResumeCursor returns the sequence the next connection will resume from:
// the minimum known sequence across subscribed channels.
func (c *Client) ResumeCursor() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.resumeCursor()
}

// OnOpened registers a handler called when a connection receives its first
// bytes.
func (c *Client) OnOpened(h func()) {
	c.notify.mu.Lock()
	c.notify.onOpened = append(c.notify.onOpened, h)
	c.notify.mu.Unlock()
}

// OnError registers a handler for connection failures. The client recovers
// from these on its own; the handler is informational.
func (c *Client) OnError(h func(error)) {
	c.notify.mu.Lock()
	c.notify.onError = append(c.notify.onError, h)
	c.notify.mu.Unlock()
}

// OnReconnecting registers a handler called before each backoff wait.
func (c *Client) OnReconnecting(h func(attempt int, delay time.Duration)) {
	c.notify.mu.Lock()
	c.notify.onReconnecting = append(c.notify.onReconnecting, h)
	c.notify.mu.Unlock()
}

// Subscribe registers h for events of channelID and opens the connection if
// none is running. Subscribing another handler to a channel that is already
// watched reuses the connection.
func (c *Client) Subscribe(channelID string, h Handler) (*Subscription, error) {
	if channelID == "" {
		return nil, ErrEmptyChannelID
	}
	if h == nil {
		return nil, ErrNilHandler
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}

	sub := &Subscription{
		id:        uuid.NewString(),
		channelID: channelID,
		handler:   h,
		client:    c,
	}
	sub.active.Store(true)

	ch, created := c.reg.add(sub)
	if created && c.cfg.CursorStore != nil {
		if seq, ok := c.cfg.CursorStore.Load(channelID); ok {
			c.reg.seed(ch, seq)
		}
	}
	c.logger.Debug("Subscribed", slog.String("channel", channelID), slog.String("subscription", sub.id))

	if c.session == nil {
		c.startSessionLocked()
	}
	return sub, nil
}

// Disconnect drops every subscription and closes the connection. The client
// cannot be used afterwards.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.reg.channels {
		for _, s := range ch.subs {
			s.active.Store(false)
		}
	}
	c.reg.clear()
	c.stopSessionLocked()
	c.setStateLocked(StateClosed)
	c.logger.Info("Stream client disconnected")
}

func (c *Client) unsubscribe(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub.active.Store(false)
	removed, destroyed := c.reg.remove(sub)
	if !removed {
		return
	}
	if destroyed {
		c.logger.Debug("Channel released", slog.String("channel", sub.channelID))
	}
	if c.reg.len() == 0 && !c.closed {
		c.stopSessionLocked()
		c.setStateLocked(StateIdle)
	}
}

func (c *Client) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.metrics.setState(s)
}

func (c *Client) startSessionLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	prev := c.lastDone
	c.session = s
	c.lastDone = s.done
	c.recon.reset()
	c.setStateLocked(StateConnecting)
	go c.run(s, prev)
}

func (c *Client) stopSessionLocked() {
	if c.session == nil {
		return
	}
	c.session.cancel()
	c.session = nil
	if c.conn != nil {
		c.conn.close()
		c.conn = nil
	}
}

// ============================================================================
// Reconnect loop
// ============================================================================

func (c *Client) run(s *session, prev <-chan struct{}) {
	defer close(s.done)

	// Let a torn-down session finish first so two connections never overlap.
	if prev != nil {
		select {
		case <-prev:
		case <-s.ctx.Done():
			return
		}
	}

	for {
		err := c.connectOnce(s)
		if s.ctx.Err() != nil {
			return
		}

		if !c.recon.shouldReconnect() {
			err = errors.Join(ErrReconnectExhausted, err)
			c.logger.Error("Giving up on stream", slog.Int("attempts", c.recon.attempts()), slog.String("error", err.Error()))
			c.mu.Lock()
			if c.session == s {
				c.session = nil
				c.conn = nil
				c.setStateLocked(StateIdle)
			}
			c.mu.Unlock()
			s.cancel()
			c.notify.emitError(err)
			return
		}

		delay := c.recon.nextDelay()
		attempt := c.recon.attempts()

		c.mu.Lock()
		if c.session != s {
			c.mu.Unlock()
			return
		}
		c.conn = nil
		c.setStateLocked(StateReconnecting)
		c.mu.Unlock()

		c.logger.Warn("Stream failed, reconnecting",
			slog.String("error", err.Error()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay))
		c.metrics.reconnecting()
		c.notify.emitError(err)
		c.notify.emitReconnecting(attempt, delay)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *Client) connectOnce(s *session) error {
	var token string
	if c.cfg.Token != nil {
		tok, err := c.cfg.Token(s.ctx)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		token = tok
	}

	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return context.Canceled
	}
	since, hasSince := c.reg.resumeCursor()
	cn := newConnection(s.ctx, c.newParser(), c.cfg.YieldEvery)
	c.conn = cn
	c.setStateLocked(StateConnecting)
	c.mu.Unlock()

	req, err := c.streamRequest(token, since, hasSince)
	if err != nil {
		cn.close()
		return err
	}

	attrs := []any{slog.String("conn", cn.id)}
	if hasSince {
		attrs = append(attrs, slog.Int64("since", since))
	}
	c.logger.Debug("Opening stream", attrs...)

	return cn.run(c.cfg.Transport, req, c)
}

// streamRequest builds the URL and headers for one attempt. The token only
// goes into the URL in dev mode, and only when headers are unavailable.
func (c *Client) streamRequest(token string, since int64, hasSince bool) (*StreamRequest, error) {
	u := *c.baseURL
	u.Path = u.Path + c.cfg.StreamPath
	q := u.Query()
	if hasSince {
		q.Set("since", strconv.FormatInt(since, 10))
	}

	header := streamHeaders("")
	if token != "" {
		if c.cfg.Transport.SupportsHeaders() {
			header = streamHeaders(token)
		} else if c.cfg.DevMode {
			c.logger.Warn("Sending token in URL query (dev mode)")
			q.Set("token", token)
		} else {
			return nil, ErrInsecureTransport
		}
	}
	u.RawQuery = q.Encode()
	return &StreamRequest{URL: u.String(), Header: header}, nil
}

func (c *Client) newParser() *sse.Parser {
	return sse.NewParser(sse.Options{
		AllowedTypes: c.cfg.AllowedTypes,
		MaxLineBytes: c.cfg.MaxLineBytes,
		Logger:       c.logger,
		OnDrop: func(_, reason string) {
			c.metrics.dropped(reason)
		},
	})
}

// ============================================================================
// connHooks
// ============================================================================

func (c *Client) connOpened(cn *connection) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}
	c.recon.reset()
	c.setStateLocked(StateOpen)
	c.mu.Unlock()

	c.logger.Info("Stream open", slog.String("conn", cn.id))
	c.metrics.opened()
	c.notify.emitOpened()
}

func (c *Client) connRecord(cn *connection, rec sse.Record) {
	c.mu.Lock()
	if c.conn != cn || cn.aborted() {
		c.mu.Unlock()
		return
	}

	ch, res := c.reg.resolve(rec.Payload)
	switch res {
	case routeMissingChannel:
		c.mu.Unlock()
		c.logger.Warn("Dropping event without channel id",
			slog.String("type", rec.Type), slog.String("field", c.cfg.ChannelField))
		c.metrics.dropped(dropMissingChannel)
		return
	case routeUnknownChannel:
		c.mu.Unlock()
		c.logger.Debug("Dropping event for unsubscribed channel", slog.String("type", rec.Type))
		c.metrics.dropped(dropUnknownChannel)
		return
	case routedFallback:
		c.logger.Debug("Routing event without channel id to sole channel", slog.String("channel", ch.id))
	}

	advanced := rec.HasSequence && c.reg.observe(ch, rec.Sequence)
	subs := ch.snapshot()
	c.mu.Unlock()

	ev := Event{
		ChannelID:   ch.id,
		Type:        rec.Type,
		Sequence:    rec.Sequence,
		HasSequence: rec.HasSequence,
		Payload:     rec.Payload,
	}
	for _, sub := range subs {
		if cn.aborted() {
			return
		}
		if !sub.active.Load() {
			continue
		}
		c.callHandler(sub, ev)
	}
	c.metrics.dispatched(rec.Type)

	// Persist only after every handler has seen the event.
	if advanced && c.cfg.CursorStore != nil && !cn.aborted() {
		if err := c.cfg.CursorStore.Save(ch.id, rec.Sequence); err != nil {
			c.logger.Warn("Failed to save cursor", slog.String("channel", ch.id), slog.String("error", err.Error()))
		}
	}
}

func (c *Client) callHandler(sub *Subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Event handler panicked",
				slog.String("channel", ev.ChannelID),
				slog.String("subscription", sub.id),
				slog.Any("panic", r))
		}
	}()
	sub.handler(ev)
}

// ============================================================================
// Subscription
// ============================================================================

// Subscription is one handler registered against one channel.
type Subscription struct {
	id        string
	channelID string
	handler   Handler
	client    *Client
	active    atomic.Bool
	once      sync.Once
}

func (s *Subscription) ID() string        { return s.id }
func (s *Subscription) ChannelID() string { return s.channelID }

// Unsubscribe removes this handler. Calling it more than once, or after
// Disconnect, does nothing.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() { s.client.unsubscribe(s) })
}

// ============================================================================
// Notifications
// ============================================================================

type notifier struct {
	mu             sync.RWMutex
	onOpened       []func()
	onError        []func(error)
	onReconnecting []func(int, time.Duration)
}

func (n *notifier) emitOpened() {
	n.mu.RLock()
	handlers := append([]func(){}, n.onOpened...)
	n.mu.RUnlock()
	for _, h := range handlers {
		safely(func() { h() })
	}
}

func (n *notifier) emitError(err error) {
	n.mu.RLock()
	handlers := append([]func(error){}, n.onError...)
	n.mu.RUnlock()
	for _, h := range handlers {
		safely(func() { h(err) })
	}
}

func (n *notifier) emitReconnecting(attempt int, delay time.Duration) {
	n.mu.RLock()
	handlers := append([]func(int, time.Duration){}, n.onReconnecting...)
	n.mu.RUnlock()
	for _, h := range handlers {
		safely(func() { h(attempt, delay) })
	}
}

// safely swallows panics in status callbacks.
func safely(f func()) {
	defer func() { recover() }()
	f()
}
