// Package health issues the timed HTTP probes the scheduler runs against
// each service's health endpoint.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Checker performs health probes with a fixed number of attempts. The
// retry delay before attempt k+1 is backoffBase × k, so it grows linearly
// with the attempt number.
type Checker struct {
	client      *http.Client
	attempts    int
	backoffBase time.Duration
	log         *slog.Logger
}

func NewChecker(timeout time.Duration, attempts int, logger *slog.Logger) *Checker {
	if attempts < 1 {
		attempts = 1
	}
	return &Checker{
		client:      &http.Client{Timeout: timeout},
		attempts:    attempts,
		backoffBase: time.Second,
		log:         logger,
	}
}

// Check probes the endpoint until one attempt returns a 2xx response or
// all attempts are spent. On success it returns the elapsed time of the
// winning attempt; on exhaustion it returns the last observed error.
func (c *Checker) Check(ctx context.Context, endpoint string) (time.Duration, error) {
	var lastErr error

	for attempt := 1; attempt <= c.attempts; attempt++ {
		c.log.Debug("health check attempt", "endpoint", endpoint, "attempt", attempt, "of", c.attempts)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return 0, fmt.Errorf("build probe request: %w", err)
		}

		start := time.Now()
		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			elapsed := time.Since(start)
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return elapsed, nil
			}
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		}

		if attempt < c.attempts {
			select {
			case <-time.After(c.backoffBase * time.Duration(attempt)):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("all health check attempts failed")
	}
	return 0, lastErr
}
