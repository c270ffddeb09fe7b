package planstream

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// ReconnectConfig configures the reconnection backoff.
type ReconnectConfig struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxExponent caps the doubling independently of the attempt counter.
	// Zero selects DefaultMaxExponent; negative disables doubling, giving a
	// flat BaseDelay between attempts.
	MaxExponent int
	// Jitter is the upper bound of the uniform random delay added to each
	// wait. Negative disables jitter.
	Jitter time.Duration
	// MaxAttempts stops reconnecting after that many consecutive failures.
	// Zero means retry forever. Once exhausted the client reports
	// ErrReconnectExhausted and drops back to StateIdle with no connection
	// even though subscriptions remain; the next Subscribe starts over.
	MaxAttempts int
}

const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 30 * time.Second
	DefaultReconnectJitter    = 1 * time.Second
	DefaultMaxExponent        = 6
)

func (c *ReconnectConfig) defaults() {
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultReconnectBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultReconnectMaxDelay
	}
	if c.MaxExponent == 0 {
		c.MaxExponent = DefaultMaxExponent
	}
	if c.Jitter == 0 {
		c.Jitter = DefaultReconnectJitter
	}
}

// reconnector computes jittered exponential delays between consecutive
// connection failures.
type reconnector struct {
	mu      sync.Mutex
	cfg     ReconnectConfig
	attempt int
	rnd     func() float64
}

func newReconnector(cfg ReconnectConfig) *reconnector {
	cfg.defaults()
	return &reconnector{cfg: cfg, rnd: rand.Float64}
}

// shouldReconnect reports whether another attempt is allowed.
func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.MaxAttempts == 0 || r.attempt < r.cfg.MaxAttempts
}

// nextDelay returns the wait before the next attempt and counts the failure.
func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp := r.attempt
	if exp > r.cfg.MaxExponent {
		exp = max(r.cfg.MaxExponent, 0)
	}
	delay := float64(r.cfg.BaseDelay) * math.Pow(2, float64(exp))
	if r.cfg.Jitter > 0 {
		delay += r.rnd() * float64(r.cfg.Jitter)
	}
	r.attempt++
	return time.Duration(math.Min(delay, float64(r.cfg.MaxDelay)))
}

// attempts returns the number of consecutive failures so far.
func (r *reconnector) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

// reset is called after a successful open.
func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}
