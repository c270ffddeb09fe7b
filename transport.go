package planstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StreamRequest describes one attempt to open the event stream.
type StreamRequest struct {
	// URL is the absolute stream URL including the since cursor, if any.
	URL    string
	Header http.Header
}

// Transport opens the physical byte stream. Dial blocks until the server has
// accepted the request; the returned body is read until EOF or until ctx is
// cancelled.
type Transport interface {
	Dial(ctx context.Context, req *StreamRequest) (io.ReadCloser, error)
	// SupportsHeaders reports whether req.Header reaches the server.
	SupportsHeaders() bool
}

// HTTPTransport streams over a plain HTTP GET.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport that issues requests with client.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) SupportsHeaders() bool { return true }

// Dial issues the GET and returns the response body on a 2xx status.
func (t *HTTPTransport) Dial(ctx context.Context, sr *StreamRequest) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sr.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, vs := range sr.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stream connect: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

// streamHeaders returns the headers every stream request carries.
func streamHeaders(token string) http.Header {
	h := http.Header{}
	h.Set("Accept", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
