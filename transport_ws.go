//go:build !js

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
// WebSocket text messages. Useful behind proxies that buffer HTTP streams.
type WebSocketTransport struct {
	httpClient *http.Client
}

// NewWebSocketTransport creates a WebSocket transport. client may be nil.
func NewWebSocketTransport(client *http.Client) *WebSocketTransport {
	return &WebSocketTransport{httpClient: client}
}

func (t *WebSocketTransport) SupportsHeaders() bool { return true }

func (t *WebSocketTransport) Dial(ctx context.Context, sr *StreamRequest) (io.ReadCloser, error) {
	conn, resp, err := websocket.Dial(ctx, wsURL(sr.URL), &websocket.DialOptions{
		HTTPClient: t.httpClient,
		HTTPHeader: sr.Header,
	})
	if err != nil {
		if resp != nil && (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusSwitchingProtocols {
			return nil, &StatusError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(maxWSMessageBytes)

	// NetConn ties reads to ctx: cancelling it closes the socket.
	return websocket.NetConn(ctx, conn, websocket.MessageText), nil
}

// maxWSMessageBytes bounds a single WebSocket message.
const maxWSMessageBytes = 4 << 20

func wsURL(u string) string {
	u = strings.Replace(u, "https://", "wss://", 1)
	return strings.Replace(u, "http://", "ws://", 1)
}
