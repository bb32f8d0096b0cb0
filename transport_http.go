package syncq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single delivery when no client is supplied.
const DefaultHTTPTimeout = 15 * time.Second

// maxErrorBody caps how much of a failed response body is kept in LastError.
const maxErrorBody = 512

// HTTPTransport delivers items as HTTP requests to BaseURL + endpoint.
type HTTPTransport struct {
	// BaseURL is prefixed to every item endpoint.
	BaseURL string
	// Token, when set, is sent as a bearer token.
	Token string
	// Client defaults to an http.Client with DefaultHTTPTimeout.
	Client *http.Client
	// Header is added to every request.
	Header http.Header
}

// NewHTTPTransport creates an HTTPTransport for baseURL.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

// Send implements Transport. Non-2xx responses return *TransportError;
// requests that never got a response wrap ErrNetworkFailure.
func (t *HTTPTransport) Send(ctx context.Context, endpoint, method, body string) error {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+endpoint, rd)
	if err != nil {
		return err
	}
	for k, vs := range t.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if t.Token != "" {
		req.Header.Set("Authorization", "Bearer "+t.Token)
	}
	// the remote side can de-duplicate repeated deliveries of one item
	if info, ok := ItemFromContext(ctx); ok {
		req.Header.Set("Idempotency-Key", info.ID)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &TransportError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(b)),
	}
}
