package authn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/xxxsen/docchat/internal/pkg/retry"
)

// APIError is a non 2xx answer from an identity provider API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.Status, e.Body)
}

// apiClient throttles and retries calls to one identity provider.
type apiClient struct {
	name    string
	baseURL string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

func newAPIClient(name, baseURL string, headers map[string]string, rps float64, burst int) *apiClient {
	return &apiClient{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		client:  &http.Client{Timeout: 20 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		policy:  retry.Default,
	}
}

// do sends one JSON request and decodes the response into out when out is
// non nil. 429 and 5xx answers are retried; other errors are returned as
// *APIError.
func (c *apiClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}
	return retry.Do(ctx, c.name+" "+method+" "+path, c.policy, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range c.headers {
			req.Header.Set(k, v)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{Status: resp.StatusCode, Body: string(raw)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return retry.Permanent(apiErr)
		}
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return retry.Permanent(fmt.Errorf("decode %s response: %w", c.name, err))
		}
		return nil
	})
}

func statusOf(err error) int {
	var apiErr *APIError
	if ok := asAPIError(err, &apiErr); ok {
		return apiErr.Status
	}
	return 0
}
