package planstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnector_Defaults(t *testing.T) {
	r := newReconnector(ReconnectConfig{})

	assert.Equal(t, DefaultReconnectBaseDelay, r.cfg.BaseDelay)
	assert.Equal(t, DefaultReconnectMaxDelay, r.cfg.MaxDelay)
	assert.Equal(t, DefaultReconnectJitter, r.cfg.Jitter)
	assert.Equal(t, DefaultMaxExponent, r.cfg.MaxExponent)
	assert.True(t, r.shouldReconnect())
}

func TestReconnector_ExponentialWithoutJitter(t *testing.T) {
	r := newReconnector(ReconnectConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  time.Second,
		Jitter:    -1,
	})

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	}
	for i, w := range want {
		assert.Equal(t, w, r.nextDelay(), "attempt %d", i)
	}
	assert.Equal(t, len(want), r.attempts())
}

func TestReconnector_JitterBoundsAndMonotonic(t *testing.T) {
	r := newReconnector(ReconnectConfig{
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    500 * time.Millisecond,
	})

	t.Run("max jitter", func(t *testing.T) {
		r.reset()
		r.rnd = func() float64 { return 0.999 }
		prev := time.Duration(0)
		for i := 0; i < 20; i++ {
			d := r.nextDelay()
			assert.GreaterOrEqual(t, d, prev)
			assert.LessOrEqual(t, d, r.cfg.MaxDelay+r.cfg.Jitter)
			prev = d
		}
	})

	t.Run("no jitter drawn", func(t *testing.T) {
		r.reset()
		r.rnd = func() float64 { return 0 }
		assert.Equal(t, 50*time.Millisecond, r.nextDelay())
		assert.Equal(t, 100*time.Millisecond, r.nextDelay())
	})

	t.Run("jitter adds within range", func(t *testing.T) {
		r.reset()
		r.rnd = func() float64 { return 0.5 }
		assert.Equal(t, 300*time.Millisecond, r.nextDelay())
	})
}

func TestReconnector_ResetAfterOpen(t *testing.T) {
	r := newReconnector(ReconnectConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, Jitter: -1})
	for i := 0; i < 5; i++ {
		r.nextDelay()
	}
	require.Greater(t, r.nextDelay(), 10*time.Millisecond)

	r.reset()
	assert.Equal(t, 0, r.attempts())
	assert.Equal(t, 10*time.Millisecond, r.nextDelay())
}

func TestReconnector_ExponentCapped(t *testing.T) {
	r := newReconnector(ReconnectConfig{
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Hour,
		MaxExponent: 4,
		Jitter:      -1,
	})
	var last time.Duration
	for i := 0; i < 10000; i++ {
		last = r.nextDelay()
	}
	assert.Equal(t, 16*time.Millisecond, last)
}

func TestReconnector_NegativeExponentIsFlat(t *testing.T) {
	r := newReconnector(ReconnectConfig{
		BaseDelay:   5 * time.Millisecond,
		MaxExponent: -1,
		Jitter:      -1,
	})
	for i := 0; i < 5; i++ {
		assert.Equal(t, 5*time.Millisecond, r.nextDelay())
	}
}

func TestReconnector_MaxAttempts(t *testing.T) {
	r := newReconnector(ReconnectConfig{BaseDelay: time.Millisecond, Jitter: -1, MaxAttempts: 2})

	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.True(t, r.shouldReconnect())
	r.nextDelay()
	assert.False(t, r.shouldReconnect())

	r.reset()
	assert.True(t, r.shouldReconnect())
}
