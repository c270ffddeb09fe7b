package planstream

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Subscribe after Disconnect.
	ErrClosed = errors.New("planstream: client closed")

	// ErrInsecureTransport is returned by NewClient when a token is configured
	// but the transport cannot carry an Authorization header and dev mode is off.
	ErrInsecureTransport = errors.New("planstream: transport cannot send auth headers; refusing to put the token in the URL")

	// ErrReconnectExhausted is reported through OnError when MaxAttempts is reached.
	ErrReconnectExhausted = errors.New("planstream: reconnect attempts exhausted")

	// ErrStreamEnded is reported through OnError when the server closes the stream.
	ErrStreamEnded = errors.New("planstream: stream ended")

	ErrEmptyChannelID = errors.New("planstream: channel id is required")
	ErrNilHandler     = errors.New("planstream: handler is required")
)

// StatusError is returned by a transport when the server answers with a
// non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stream HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("stream HTTP %d: %s", e.StatusCode, e.Body)
}
