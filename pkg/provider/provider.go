// Package provider answers queries against upstream language-model APIs.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/agorai/agorai/pkg/models"
)

// DefaultTimeout bounds a single provider call when none is configured.
const DefaultTimeout = 20 * time.Second

// Provider answers a query. Failures are reported inside the result, never
// as a Go error, so one provider cannot fail an aggregate.
type Provider interface {
	Name() string
	Answer(ctx context.Context, query string) models.ProviderResult
}

// Unavailable is a Provider that always fails with a fixed message.
type Unavailable struct {
	name    string
	message string
}

// NewUnavailable returns a Provider that reports message for every query.
func NewUnavailable(name, message string) *Unavailable {
	if message == "" {
		message = name + " is not available"
	}
	return &Unavailable{name: name, message: message}
}

// Name returns the provider name.
func (u *Unavailable) Name() string { return u.name }

// Answer returns the configured failure.
func (u *Unavailable) Answer(context.Context, string) models.ProviderResult {
	return models.Failure(u.name, u.message)
}

// client holds what every HTTP-backed provider shares.
type client struct {
	name    string
	baseURL string
	model   string
	apiKey  string
	timeout time.Duration
	limiter *rate.Limiter
	http    *http.Client
}

// call runs fn under the per-call timeout, after waiting for the limiter.
func (c *client) call(ctx context.Context, fn func(ctx context.Context) (string, error)) models.ProviderResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.Failure(c.name, fmt.Sprintf("rate limit wait: %v", err))
		}
	}

	text, err := fn(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.Failure(c.name, fmt.Sprintf("timed out after %s", c.timeout))
		}
		return models.Failure(c.name, err.Error())
	}
	return models.Success(c.name, text)
}

// post sends a JSON body and returns the response body of a 2xx reply.
func (c *client) post(ctx context.Context, endpoint string, headers map[string]string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// url.Error repeats the request URL, which may carry a credential.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return nil, fmt.Errorf("%s: %w", strings.ToLower(uerr.Op), uerr.Err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
