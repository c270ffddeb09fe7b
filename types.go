package planstream

import "encoding/json"

// ============================================================================
// Events
// ============================================================================

// Event is one parsed protocol message routed to a channel.
type Event struct {
	ChannelID string
	Type      string
	// Sequence is valid only when HasSequence is true.
	Sequence    int64
	HasSequence bool
	Payload     json.RawMessage
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives events for one channel. Handlers run on the connection's
// read goroutine in stream order and must not block for long.
type Handler func(Event)

// Default event types accepted from the stream.
var DefaultAllowedTypes = []string{"note", "step", "cursor", "presence", "message"}

// DefaultChannelField is the payload field that names the target channel.
const DefaultChannelField = "planId"

// ============================================================================
// State
// ============================================================================

// State is the client's connection state.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// connState is the state of a single physical connection.
type connState int

const (
	connConnecting connState = iota
	connOpen
	connClosed
)

func (s connState) String() string {
	switch s {
	case connConnecting:
		return "connecting"
	case connOpen:
		return "open"
	default:
		return "closed"
	}
}
