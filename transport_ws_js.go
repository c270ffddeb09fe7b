//go:build js

package planstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"nhooyr.io/websocket"
)

// WebSocketTransport carries the same text/event-stream framing inside
// WebSocket text messages.
type WebSocketTransport struct{}

// NewWebSocketTransport creates a WebSocket transport. The browser owns the
// HTTP stack, so client is ignored.
func NewWebSocketTransport(*http.Client) *WebSocketTransport {
	return &WebSocketTransport{}
}

// SupportsHeaders is false: the browser WebSocket API cannot set request
// headers.
func (t *WebSocketTransport) SupportsHeaders() bool { return false }

func (t *WebSocketTransport) Dial(ctx context.Context, sr *StreamRequest) (io.ReadCloser, error) {
	conn, _, err := websocket.Dial(ctx, wsURL(sr.URL), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxWSMessageBytes)
	return websocket.NetConn(ctx, conn, websocket.MessageText), nil
}

const maxWSMessageBytes = 4 << 20

func wsURL(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}
