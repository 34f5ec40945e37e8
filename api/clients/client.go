package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nubster/egide/api"
	"github.com/nubster/egide/interfaces"
)

// DefaultAddr is the server address used when none is configured.
const DefaultAddr = "http://localhost:8200"

// Client talks to an egide server.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL.
//
// Parameters:
//   - baseURL: server address, e.g. "http://localhost:8200"; DefaultAddr when empty
//   - token: root token sent with every request; may be empty for sys calls
//   - timeout: request timeout (optional, default 30 seconds)
func NewClient(baseURL, token string, timeout ...time.Duration) *Client {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	if baseURL == "" {
		baseURL = DefaultAddr
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: clientTimeout,
		},
	}
}

// SetToken replaces the token sent with subsequent requests.
func (c *Client) SetToken(token string) {
	c.token = token
}

// APIError is returned for every non-2xx response. It unwraps to the
// interfaces sentinel matching Kind, so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Kind       string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("egide returned %d", e.StatusCode)
	}
	return fmt.Sprintf("egide returned %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return interfaces.ErrorForKind(e.Kind)
}

// do sends body as JSON and decodes the response into out. A nil out
// discards the response body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set(api.TokenHeader, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("could not request egide: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}

	var body api.ErrorResponse
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Kind = body.Kind
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

// IsRateLimited reports whether err is a 429 response.
func IsRateLimited(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests
}

func keyPath(format, name string, args ...any) string {
	return fmt.Sprintf(format, append([]any{url.PathEscape(name)}, args...)...)
}
