package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// maxSummaryBytes bounds how much of a response body gets persisted with a
// delivery attempt.
const maxSummaryBytes = 1 << 10

// strippedHeaders are artifacts of the original inbound request that are
// invalid or harmful when replayed on the outbound leg.
var strippedHeaders = map[string]struct{}{
	"host":            {},
	"content-length":  {},
	"connection":      {},
	"accept-encoding": {},
}

type Client struct {
	httpClient *http.Client
}

type Response struct {
	StatusCode int
	Body       string
}

// New builds a forwarding client with a bounded per-call timeout and a
// keep-alive connection pool shared across deliveries.
func New(timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Forward POSTs the payload to url, replaying the event's captured headers
// minus the stripped set.
func (c *Client) Forward(ctx context.Context, url string, payload []byte, headers map[string]string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for name, value := range headers {
		if _, drop := strippedHeaders[strings.ToLower(name)]; drop {
			continue
		}
		req.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSummaryBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}, nil
}
