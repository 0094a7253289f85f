// Package supervisor implements the HTTP client for the Monit-compatible
// process supervisor, plus the config-file writer that generates its
// per-entry configuration. The interface/mock split lets lifecycle tests
// run without a live supervisor process.
package supervisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/crypticterminal/aim/internal/liferr"
)

// Action is one of the operations the supervisor's HTTP API accepts.
type Action string

const (
	ActionStart     Action = "start"
	ActionStop      Action = "stop"
	ActionUnmonitor Action = "unmonitor"
)

// Client talks to the external process supervisor.
type Client interface {
	// Do issues POST /{entry}?action={action}. Returns liferr.NotFound on
	// 404, liferr.TransientSupervisor on 503, nil on 2xx.
	Do(ctx context.Context, entry string, action Action) error
	// Entries returns every entry name the supervisor currently knows
	// about (GET /).
	Entries(ctx context.Context) ([]string, error)
	// Reload asks the supervisor to reload its configuration.
	Reload(ctx context.Context) error
}

// httpClient is the real Client implementation.
type httpClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient creates a Client bound to the supervisor's base URL.
func NewHTTPClient(baseURL string) Client {
	return &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *httpClient) Do(ctx context.Context, entry string, action Action) error {
	u := fmt.Sprintf("%s/%s?action=%s", c.baseURL, url.PathEscape(entry), action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return liferr.SupervisorFailure("failed to build supervisor request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return liferr.SupervisorFailure("supervisor request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return liferr.NotFound
	case resp.StatusCode == http.StatusServiceUnavailable:
		return liferr.TransientSupervisor
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return liferr.SupervisorFailure(fmt.Sprintf("unexpected supervisor status %d: %s", resp.StatusCode, body), nil)
	}
}

func (c *httpClient) Entries(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return nil, liferr.SupervisorFailure("failed to build supervisor list request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, liferr.SupervisorFailure("supervisor list request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, liferr.SupervisorFailure(fmt.Sprintf("unexpected supervisor status %d", resp.StatusCode), nil)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, liferr.SupervisorFailure("failed to read supervisor entry list", err)
	}
	var entries []string
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, nil
}

func (c *httpClient) Reload(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/_reload", nil)
	if err != nil {
		return liferr.SupervisorFailure("failed to build reload request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return liferr.SupervisorFailure("supervisor reload failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return liferr.SupervisorFailure(fmt.Sprintf("unexpected reload status %d", resp.StatusCode), nil)
	}
	return nil
}

// UnmonitorWithRetry calls Do(entry, unmonitor), retrying up to maxRetries
// times on a transient 503 before promoting to SupervisorFailure. A 404 is
// returned as liferr.NotFound so callers can tell "already stopped" apart
// from a confirmed unmonitor.
func UnmonitorWithRetry(ctx context.Context, c Client, entry string, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.Do(ctx, entry, ActionUnmonitor)
		switch {
		case err == nil:
			return nil
		case err == liferr.NotFound:
			return liferr.NotFound
		case err == liferr.TransientSupervisor:
			lastErr = err
			continue
		default:
			return err
		}
	}
	return liferr.SupervisorFailure(fmt.Sprintf("unmonitor exhausted %d retries", maxRetries), lastErr)
}
