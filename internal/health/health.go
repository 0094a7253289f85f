// Package health implements bounded polling of an instance's health
// endpoint. The client uses explicit timeouts and treats only 2xx/3xx as
// healthy, never following redirects; a 3xx response is observed as-is
// rather than chased.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// Prober polls an HTTP endpoint until it reports healthy or the budget is
// exhausted.
type Prober struct {
	client *http.Client
}

// New creates a Prober whose underlying client never follows redirects, so
// a 3xx response is observed (and accepted) rather than chased.
func New() *Prober {
	return &Prober{
		client: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Wait fires sequential GETs at http://host:port/path until a 2xx-or-3xx
// response arrives, the context is cancelled, or totalTimeout elapses.
// I/O errors consume an attempt but do not abort the loop; it never
// returns an error, only a bool.
func (p *Prober) Wait(ctx context.Context, host string, port int, path string, totalTimeout, interval time.Duration) bool {
	url := fmt.Sprintf("http://%s:%d%s", host, port, path)
	deadline := time.Now().Add(totalTimeout)

	for {
		if ok := p.probeOnce(ctx, url); ok {
			return true
		}
		if time.Now().After(deadline) {
			log.Error().Str("url", url).Msg("health probe exhausted without a healthy response")
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

func (p *Prober) probeOnce(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("health probe got non-200 response")
	}
	return resp.StatusCode >= 200 && resp.StatusCode < 400
}
