//go:build !js

package planstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
)

func TestWebSocketTransport(t *testing.T) {
	authHeaders := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeaders <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		// One frame split across two messages.
		_ = conn.Write(ctx, websocket.MessageText, []byte("event: step\nid: 3\nda"))
		_ = conn.Write(ctx, websocket.MessageText, []byte("ta: {\"planId\":\"p1\"}\n\n"))
		<-ctx.Done()
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL,
		WithTransport(NewWebSocketTransport(nil)),
		WithToken("ws-token"),
		WithLogger(discardLogger()),
	)
	require.NoError(t, err)
	defer c.Disconnect()

	h := newCollector()
	_, err = c.Subscribe("p1", h.handle)
	require.NoError(t, err)

	ev := h.next(t)
	assert.Equal(t, "step", ev.Type)
	assert.EqualValues(t, 3, ev.Sequence)
	assert.Equal(t, "Bearer ws-token", <-authHeaders)
}

func TestWebSocketTransport_RejectedUpgrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewWebSocketTransport(nil).Dial(context.Background(), &StreamRequest{URL: srv.URL, Header: streamHeaders("")})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://a.test/stream?since=1", wsURL("https://a.test/stream?since=1"))
	assert.Equal(t, "ws://a.test/stream", wsURL("http://a.test/stream"))
}
