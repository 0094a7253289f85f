// Package routing implements the client for the cluster routing
// controller: registering a healthy instance with the routing fabric,
// retrying indefinitely while the controller reports NOT_READY.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome is the routing controller's response to a registration attempt.
type Outcome int

const (
	OK Outcome = iota
	NotReady
)

// Controller registers healthy instances with the cluster routing fabric.
type Controller interface {
	Register(ctx context.Context, projectID, ip string, port int) (Outcome, error)
}

// httpController is the real Controller implementation.
type httpController struct {
	baseURL string
	http    *http.Client
}

// NewHTTPController creates a Controller bound to the routing controller's
// base URL.
func NewHTTPController(baseURL string) Controller {
	return &httpController{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type registerRequest struct {
	ProjectID string `json:"project_id"`
	IP        string `json:"ip"`
	Port      int    `json:"port"`
}

func (c *httpController) Register(ctx context.Context, projectID, ip string, port int) (Outcome, error) {
	body, err := json.Marshal(registerRequest{ProjectID: projectID, IP: ip, Port: port})
	if err != nil {
		return NotReady, fmt.Errorf("failed to encode routing request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/routing", bytes.NewReader(body))
	if err != nil {
		return NotReady, fmt.Errorf("failed to build routing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return NotReady, fmt.Errorf("routing request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return OK, nil
	case http.StatusServiceUnavailable, http.StatusConflict:
		return NotReady, nil
	default:
		return NotReady, fmt.Errorf("unexpected routing controller status %d", resp.StatusCode)
	}
}

// RegisterWithRetry retries Register every interval while the controller
// reports NotReady, until it succeeds or ctx is cancelled. interval and
// cancellation are both caller-injected to keep it testable.
func RegisterWithRetry(ctx context.Context, c Controller, projectID, ip string, port int, interval time.Duration) {
	for {
		outcome, err := c.Register(ctx, projectID, ip, port)
		if err != nil {
			log.Warn().Err(err).Str("project_id", projectID).Int("port", port).Msg("routing registration failed")
			return
		}
		if outcome == OK {
			log.Info().Str("project_id", projectID).Int("port", port).Msg("routing registered")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
