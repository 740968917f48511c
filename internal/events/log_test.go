package events

import (
	"fmt"
	"testing"
	"time"

	"fleetmon/internal/models"
)

func ev(t models.EventType, serviceID string, msg string) models.MonitorEvent {
	e := models.MonitorEvent{EventType: t, Message: msg, Timestamp: time.Now().UTC()}
	if serviceID != "" {
		e.ServiceID = &serviceID
	}
	return e
}

func TestRecordBucketsByServiceID(t *testing.T) {
	l := NewLog()
	l.Record(ev(models.EventServiceDown, "svcA", "down"))
	l.Record(ev(models.EventMetricsUpdate, "", "tick"))

	if got := l.History("svcA"); len(got) != 1 || got[0].Message != "down" {
		t.Fatalf("svcA history = %+v", got)
	}
	if got := l.History(SystemBucket); len(got) != 1 || got[0].EventType != models.EventMetricsUpdate {
		t.Fatalf("system history = %+v", got)
	}
}

func TestHistoryCapDropsOldest(t *testing.T) {
	l := NewLog()
	for i := 0; i < 101; i++ {
		l.Record(ev(models.EventHighLatency, "svcA", fmt.Sprintf("m%d", i)))
	}
	hist := l.History("svcA")
	if len(hist) != 100 {
		t.Fatalf("history len = %d, want 100", len(hist))
	}
	if hist[0].Message != "m1" {
		t.Fatalf("oldest retained = %s, want m1", hist[0].Message)
	}
	if hist[99].Message != "m100" {
		t.Fatalf("newest retained = %s, want m100", hist[99].Message)
	}
}

func TestCountByType(t *testing.T) {
	l := NewLog()
	l.Record(ev(models.EventServiceDown, "svcA", ""))
	l.Record(ev(models.EventServiceDown, "svcB", ""))
	l.Record(ev(models.EventServiceUp, "svcA", ""))
	if got := l.CountByType(models.EventServiceDown); got != 2 {
		t.Fatalf("ServiceDown count = %d, want 2", got)
	}
}

func TestSubscribeReceivesInOrder(t *testing.T) {
	l := NewLog()
	sub := l.Subscribe()
	defer sub.Close()

	l.Record(ev(models.EventServiceDown, "svcA", "first"))
	l.Record(ev(models.EventServiceUp, "svcA", "second"))

	for _, want := range []string{"first", "second"} {
		select {
		case got := <-sub.Events():
			if got.Message != want {
				t.Fatalf("got %q, want %q", got.Message, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	l := NewLog()
	sub := l.Subscribe() // never read until the end
	defer sub.Close()

	donePublish := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*5; i++ {
			l.Record(ev(models.EventHighLatency, "svcA", fmt.Sprintf("m%d", i)))
		}
		close(donePublish)
	}()

	select {
	case <-donePublish:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}

func TestLaggingSubscriberLosesOldestNotNewest(t *testing.T) {
	l := NewLog()
	sub := l.Subscribe()
	defer sub.Close()

	total := subscriberBuffer * 3
	for i := 0; i < total; i++ {
		l.Record(ev(models.EventHighLatency, "svcA", fmt.Sprintf("m%d", i)))
	}

	// Drain whatever survived; delivery preserves publish order and any
	// gap must be at the old end of the stream.
	var got []string
	deadline := time.After(2 * time.Second)
drain:
	for {
		select {
		case e := <-sub.Events():
			got = append(got, e.Message)
			if e.Message == fmt.Sprintf("m%d", total-1) {
				break drain
			}
		case <-deadline:
			t.Fatalf("never received the newest event; got %d events", len(got))
		}
	}
	if len(got) == 0 || len(got) > total {
		t.Fatalf("received %d events", len(got))
	}
	if got[len(got)-1] != fmt.Sprintf("m%d", total-1) {
		t.Fatalf("newest event missing, last = %s", got[len(got)-1])
	}
}

func TestCloseDetachesSubscriber(t *testing.T) {
	l := NewLog()
	sub := l.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	// Publishing after close must not panic or block.
	l.Record(ev(models.EventServiceDown, "svcA", "after close"))

	select {
	case _, ok := <-sub.Events():
		if ok {
			// A buffered event may still arrive; channel must close soon after.
			if _, ok := <-sub.Events(); ok {
				t.Fatal("subscription still delivering after Close")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("events channel never closed")
	}
}
