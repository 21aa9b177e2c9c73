package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/iho/tripledger/internal/adapter/http/dto"
)

// apiError is a non-2xx answer from the API.
type apiError struct {
	Body   dto.ErrorResponse
	Status int
}

func (e *apiError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error %d: %s", e.Status, e.Body.Error)
	if e.Body.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Body.Message)
	}
	if e.Body.Rule != "" {
		fmt.Fprintf(&b, " (rule %s)", e.Body.Rule)
	}
	if e.Body.Retryable {
		b.WriteString(" [retryable]")
	}
	return b.String()
}

type apiClient struct {
	http    *http.Client
	baseURL string
	actor   string
}

func newAPIClient(opts *options) *apiClient {
	return &apiClient{
		http:    &http.Client{Timeout: opts.timeout},
		baseURL: strings.TrimRight(opts.baseURL, "/"),
		actor:   opts.actor,
	}
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, headers map[string]string, body, out any) error {
	target := c.baseURL + "/api/v1" + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.actor != "" {
		req.Header.Set("X-Actor-ID", c.actor)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		if json.Unmarshal(raw, &apiErr.Body) != nil || apiErr.Body.Error == "" {
			apiErr.Body.Error = strings.TrimSpace(string(raw))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
