package platform

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chess-activity-tracker/internal/domain"
)

// httpClient wraps the shared request plumbing: pacing, per-request
// timeout, auth header, and failure classification.
type httpClient struct {
	pf      domain.Platform
	baseURL string
	token   string
	timeout time.Duration
	pacer   *Pacer
	client  *http.Client
}

func newHTTPClient(pf domain.Platform, baseURL, token string, timeout time.Duration, pacer *Pacer) *httpClient {
	return &httpClient{
		pf:      pf,
		baseURL: baseURL,
		token:   token,
		timeout: timeout,
		pacer:   pacer,
		client:  &http.Client{},
	}
}

// get performs a paced GET and returns the response body. Transport
// failures and timeouts map to TRANSPORT, 429 to RATE_LIMIT, other
// non-2xx statuses to HTTP_STATUS, and 404 to ErrUserNotFound.
func (c *httpClient) get(ctx context.Context, path, accept string) ([]byte, error) {
	if err := c.pacer.Wait(ctx, c.pf); err != nil {
		return nil, transportError(c.pf, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, transportError(c.pf, err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(c.pf, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", c.pf, ErrUserNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, statusError(c.pf, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(c.pf, err)
	}
	return body, nil
}
