package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"causalog/internal/config"
	"causalog/internal/types"
)

// HTTPTransport posts messages to a peer's /message endpoint.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport using client, or a fresh client when
// nil. Deadlines come from the per-attempt context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

// Deliver sends msg and treats any 2xx reply as an acknowledgement.
func (t *HTTPTransport) Deliver(ctx context.Context, peer config.Peer, msg types.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return t.do(ctx, http.MethodPost, peer.URL()+"/message", body)
}

// Probe checks a peer's /healthz endpoint.
func (t *HTTPTransport) Probe(ctx context.Context, peer config.Peer) error {
	return t.do(ctx, http.MethodGet, peer.URL()+"/healthz", nil)
}

func (t *HTTPTransport) do(ctx context.Context, method, url string, body []byte) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
	}
	return nil
}
