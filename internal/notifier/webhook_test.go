package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetmon/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSendPostsEventJSON(t *testing.T) {
	var got models.MonitorEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %q", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	id := "api"
	wh := NewWebhook(srv.URL, testLogger())
	err := wh.Send(context.Background(), models.MonitorEvent{
		EventType: models.EventServiceDown,
		ServiceID: &id,
		Message:   "Service API is unhealthy: HTTP 502",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.EventType != models.EventServiceDown || got.ServiceID == nil || *got.ServiceID != "api" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestSendRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, testLogger())
	if err := wh.Send(context.Background(), models.MonitorEvent{EventType: models.EventServiceUp}); err == nil {
		t.Error("500 response should surface as an error")
	}
}

func TestForwardFiltersEventTypes(t *testing.T) {
	hits := make(chan models.EventType, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev models.MonitorEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		hits <- ev.EventType
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, testLogger())
	events := make(chan models.MonitorEvent, 3)
	events <- models.MonitorEvent{EventType: models.EventMetricsUpdate}
	events <- models.MonitorEvent{EventType: models.EventServiceDown}
	events <- models.MonitorEvent{EventType: models.EventHighLatency}
	close(events)

	wh.Forward(context.Background(), events)

	select {
	case got := <-hits:
		if got != models.EventServiceDown {
			t.Errorf("forwarded %s, want ServiceDown", got)
		}
	default:
		t.Fatal("ServiceDown should have been forwarded")
	}
	select {
	case got := <-hits:
		t.Errorf("unexpected extra delivery %s", got)
	default:
	}
}
