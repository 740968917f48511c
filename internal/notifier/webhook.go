// Package notifier forwards alert-worthy monitor events to an external
// webhook endpoint.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fleetmon/internal/models"
)

type Webhook struct {
	URL  string
	HTTP *http.Client
	log  *slog.Logger
}

func NewWebhook(url string, logger *slog.Logger) *Webhook {
	return &Webhook{
		URL:  url,
		HTTP: &http.Client{Timeout: 10 * time.Second},
		log:  logger.With("module", "notifier"),
	}
}

func (w *Webhook) Enabled() bool {
	return w.URL != ""
}

// Send posts the event as JSON to the configured endpoint.
func (w *Webhook) Send(ctx context.Context, ev models.MonitorEvent) error {
	if !w.Enabled() {
		return fmt.Errorf("webhook not configured")
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := w.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d: %s", res.StatusCode, string(resp))
	}
	return nil
}

// Forward consumes events from the channel until it closes or ctx ends,
// posting only up/down transitions. Delivery failures are logged and
// dropped; alerting is best effort.
func (w *Webhook) Forward(ctx context.Context, events <-chan models.MonitorEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.EventType != models.EventServiceUp && ev.EventType != models.EventServiceDown {
				continue
			}
			if err := w.Send(ctx, ev); err != nil {
				w.log.Warn("webhook delivery failed", "event_type", ev.EventType, "error", err)
			}
		}
	}
}
