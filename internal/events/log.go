// Package events keeps the bounded per-bucket event history and fans
// events out to live subscribers. Publishing never blocks: each subscriber
// sits behind a fixed-size ring, and a subscriber that falls behind loses
// its oldest unread events instead of stalling the producer.
package events

import (
	"sync"

	"github.com/eapache/channels"

	"fleetmon/internal/models"
)

// historyCap bounds each bucket's retained history (drop-oldest).
const historyCap = 100

// subscriberBuffer is how many unread events a subscriber may lag before
// it starts losing the oldest ones.
const subscriberBuffer = 100

// SystemBucket receives events that carry no service id.
const SystemBucket = "system"

type Log struct {
	mu      sync.RWMutex
	buckets map[string][]models.MonitorEvent

	subMu  sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
}

// Subscription is one independent receiver of the broadcast stream.
type Subscription struct {
	id   uint64
	ring *channels.RingChannel
	out  chan models.MonitorEvent
	done chan struct{}
	log  *Log
	once sync.Once
}

func NewLog() *Log {
	return &Log{
		buckets: make(map[string][]models.MonitorEvent),
		subs:    make(map[uint64]*Subscription),
	}
}

// Record appends the event to its bucket (the service id, or the system
// bucket for service-less events), trims the bucket to the newest
// historyCap entries, and broadcasts to all live subscribers.
func (l *Log) Record(ev models.MonitorEvent) {
	bucket := SystemBucket
	if ev.ServiceID != nil && *ev.ServiceID != "" {
		bucket = *ev.ServiceID
	}

	l.mu.Lock()
	hist := append(l.buckets[bucket], ev)
	if len(hist) > historyCap {
		hist = hist[len(hist)-historyCap:]
	}
	l.buckets[bucket] = hist
	l.mu.Unlock()

	l.subMu.RLock()
	for _, sub := range l.subs {
		// RingChannel drops its oldest element when full, so this send
		// cannot block on a slow subscriber.
		sub.ring.In() <- ev
	}
	l.subMu.RUnlock()
}

// History returns a copy of one bucket's retained events, oldest first.
func (l *Log) History(bucket string) []models.MonitorEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	hist := l.buckets[bucket]
	out := make([]models.MonitorEvent, len(hist))
	copy(out, hist)
	return out
}

// CountByType counts retained events of the given type across all buckets.
func (l *Log) CountByType(t models.EventType) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var n uint64
	for _, hist := range l.buckets {
		for _, ev := range hist {
			if ev.EventType == t {
				n++
			}
		}
	}
	return n
}

// Subscribe registers a new independent receiver. The caller must Close
// the subscription when done.
func (l *Log) Subscribe() *Subscription {
	sub := &Subscription{
		ring: channels.NewRingChannel(channels.BufferCap(subscriberBuffer)),
		out:  make(chan models.MonitorEvent),
		done: make(chan struct{}),
		log:  l,
	}

	l.subMu.Lock()
	l.nextID++
	sub.id = l.nextID
	l.subs[sub.id] = sub
	l.subMu.Unlock()

	go sub.pump()
	return sub
}

// Events is the subscriber's receive channel. It is closed after Close.
func (s *Subscription) Events() <-chan models.MonitorEvent {
	return s.out
}

// Close detaches the subscription from the broadcast. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.log.subMu.Lock()
		delete(s.log.subs, s.id)
		s.log.subMu.Unlock()
		// No publisher can reach the ring anymore, so closing it is safe.
		close(s.done)
		s.ring.Close()
	})
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		select {
		case v, ok := <-s.ring.Out():
			if !ok {
				return
			}
			select {
			case s.out <- v.(models.MonitorEvent):
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}
