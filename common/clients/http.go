package clients

import (
	"context"
	"io"
	"net/http"

	"github.com/openlearn/coursestore/common/logger"
)

// HTTPClient wraps http.Client with context-aware helpers. Metadata in
// the context becomes request headers.
type HTTPClient struct {
	client *http.Client
	log    *logger.Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, log *logger.Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		log:    log,
	}
}

// DoRequest creates and executes an HTTP request, converting context
// metadata into headers
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID, ok := GetUserID(ctx); ok {
		req.Header.Set("X-User-ID", userID)
	}

	return c.client.Do(req)
}
