package planstream

import (
	"encoding/json"
	"strconv"
)

// channel is one logical topic multiplexed over the shared connection.
type channel struct {
	id      string
	subs    []*Subscription
	lastSeq int64
	hasSeq  bool
}

// registry maps channel ids to their subscriptions and cursors. It is not
// safe for concurrent use; the Client serializes access.
type registry struct {
	channels     map[string]*channel
	field        string
	soleFallback bool
}

func newRegistry(field string, soleFallback bool) *registry {
	return &registry{
		channels:     make(map[string]*channel),
		field:        field,
		soleFallback: soleFallback,
	}
}

// add registers sub and reports whether its channel was created by it.
func (r *registry) add(sub *Subscription) (*channel, bool) {
	ch, ok := r.channels[sub.channelID]
	if !ok {
		ch = &channel{id: sub.channelID}
		r.channels[sub.channelID] = ch
	}
	ch.subs = append(ch.subs, sub)
	return ch, !ok
}

// remove unregisters sub. It reports whether sub was registered and whether
// its channel was destroyed as a result.
func (r *registry) remove(sub *Subscription) (removed, destroyed bool) {
	ch, ok := r.channels[sub.channelID]
	if !ok {
		return false, false
	}
	for i, s := range ch.subs {
		if s == sub {
			ch.subs = append(ch.subs[:i], ch.subs[i+1:]...)
			removed = true
			break
		}
	}
	if removed && len(ch.subs) == 0 {
		delete(r.channels, ch.id)
		destroyed = true
	}
	return removed, destroyed
}

func (r *registry) len() int {
	return len(r.channels)
}

func (r *registry) clear() {
	r.channels = make(map[string]*channel)
}

// seed sets the channel's cursor if it has none yet.
func (r *registry) seed(ch *channel, seq int64) {
	if !ch.hasSeq {
		ch.lastSeq = seq
		ch.hasSeq = true
	}
}

// observe records seq for ch and reports whether the cursor advanced.
func (r *registry) observe(ch *channel, seq int64) bool {
	if ch.hasSeq && seq <= ch.lastSeq {
		return false
	}
	ch.lastSeq = seq
	ch.hasSeq = true
	return true
}

// resumeCursor returns the lowest known sequence across all channels, so
// that no channel misses events after a reconnect.
func (r *registry) resumeCursor() (int64, bool) {
	var (
		lowest int64
		found  bool
	)
	for _, ch := range r.channels {
		if !ch.hasSeq {
			continue
		}
		if !found || ch.lastSeq < lowest {
			lowest = ch.lastSeq
			found = true
		}
	}
	return lowest, found
}

type routeResult int

const (
	routed routeResult = iota
	routedFallback
	routeMissingChannel
	routeUnknownChannel
)

// resolve finds the channel an event payload belongs to.
func (r *registry) resolve(payload json.RawMessage) (*channel, routeResult) {
	id := channelIDOf(payload, r.field)
	if id == "" {
		if r.soleFallback && len(r.channels) == 1 {
			for _, ch := range r.channels {
				return ch, routedFallback
			}
		}
		return nil, routeMissingChannel
	}
	ch, ok := r.channels[id]
	if !ok {
		return nil, routeUnknownChannel
	}
	return ch, routed
}

// snapshot copies the channel's subscriptions in subscription order so they
// can be called without holding the client lock.
func (ch *channel) snapshot() []*Subscription {
	return append([]*Subscription(nil), ch.subs...)
}

// channelIDOf reads the top-level field from a JSON object payload. String
// and integer ids are accepted.
func channelIDOf(payload json.RawMessage, field string) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return ""
	}
	raw, ok := obj[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return ""
}
