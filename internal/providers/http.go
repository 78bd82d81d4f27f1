package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewpilot/internal/retry"
	"github.com/reviewpilot/pkg/models"
)

// Doer lets tests substitute the HTTP transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTClient is the shared transport for one provider: a single HTTP client,
// a rate limiter gating every call, and retry on transient failures. Safe for
// concurrent use.
type RESTClient struct {
	Provider models.ProviderID
	HTTP     Doer
	Limiter  *rate.Limiter
	Retry    retry.Config

	// Headers decorates every request with authentication.
	Headers func(ctx context.Context, req *http.Request) error
}

func NewRESTClient(provider models.ProviderID, headers func(ctx context.Context, req *http.Request) error) *RESTClient {
	return &RESTClient{
		Provider: provider,
		HTTP:     &http.Client{Timeout: 30 * time.Second},
		// 10 rps with small bursts stays well inside both hosts' limits
		Limiter: rate.NewLimiter(rate.Limit(10), 20),
		Retry:   retry.SCMConfig(),
		Headers: headers,
	}
}

// Do executes one request with rate limiting and retry. accept overrides the
// Accept header when non-empty. The returned body is fully read.
func (c *RESTClient) Do(ctx context.Context, op, method, url string, payload any, accept string) ([]byte, int, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, 0, &Error{Kind: KindTransport, Provider: c.Provider, Op: op, Cause: err}
	}

	var encoded []byte
	if payload != nil {
		var err error
		encoded, err = json.Marshal(payload)
		if err != nil {
			return nil, 0, &Error{Kind: KindMalformed, Provider: c.Provider, Op: op, Cause: err}
		}
	}

	var body []byte
	var status int
	attempt := func() error {
		var reader io.Reader
		if encoded != nil {
			reader = bytes.NewReader(encoded)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return err
		}
		if encoded != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if accept != "" {
			req.Header.Set("Accept", accept)
		}
		if err := c.Headers(ctx, req); err != nil {
			return err
		}

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status = resp.StatusCode
		if status == 429 || status >= 500 {
			return fmt.Errorf("%s returned status %d: %s", url, status, truncate(body))
		}
		return nil
	}

	if result := retry.Do(ctx, c.Retry, attempt); !result.Success {
		kind := KindTransport
		if status == 429 {
			kind = KindRateLimited
		}
		return nil, status, &Error{Kind: kind, Provider: c.Provider, Op: op, Cause: result.LastError}
	}

	if status >= 400 {
		return nil, status, &Error{
			Kind:     classifyStatus(status),
			Provider: c.Provider,
			Op:       op,
			Cause:    fmt.Errorf("status %d: %s", status, truncate(body)),
		}
	}
	return body, status, nil
}

// GetJSON fetches and decodes a JSON response into out.
func (c *RESTClient) GetJSON(ctx context.Context, op, url string, out any) error {
	body, _, err := c.Do(ctx, op, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &Error{Kind: KindMalformed, Provider: c.Provider, Op: op, Cause: err}
	}
	return nil
}

// PostJSON sends payload and decodes the response into out when non-nil.
func (c *RESTClient) PostJSON(ctx context.Context, op, url string, payload, out any) error {
	body, _, err := c.Do(ctx, op, http.MethodPost, url, payload, "")
	if err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return &Error{Kind: KindMalformed, Provider: c.Provider, Op: op, Cause: err}
		}
	}
	return nil
}

func truncate(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
