package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

const subscriberBuffer = 16

var ErrHubStopped = errors.New("realtime hub stopped")

// Hub is the in-process Source used in single-node mode and tests.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*hubSubscription]struct{}
	stopped bool
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*hubSubscription]struct{}),
		logger: logger,
	}
}

func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.stopped {
		return ErrHubStopped
	}
	for sub := range h.subs[key(event.Topic, event.ID)] {
		select {
		case sub.ch <- event:
		default:
			h.logger.Warn("realtime subscriber buffer full, dropping event",
				"topic", event.Topic,
				"id", event.ID)
		}
	}
	return nil
}

func (h *Hub) Subscribe(_ context.Context, topic, id string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil, ErrHubStopped
	}
	sub := &hubSubscription{hub: h, key: key(topic, id), ch: make(chan Event, subscriberBuffer)}
	if h.subs[sub.key] == nil {
		h.subs[sub.key] = make(map[*hubSubscription]struct{})
	}
	h.subs[sub.key][sub] = struct{}{}
	return sub, nil
}

// Subscribers returns how many open subscriptions exist for one row.
func (h *Hub) Subscribers(topic, id string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[key(topic, id)])
}

// Stop closes every open subscription. Safe to call more than once.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	for k, set := range h.subs {
		for sub := range set {
			sub.closeLocked()
		}
		delete(h.subs, k)
	}
}

type hubSubscription struct {
	hub    *Hub
	key    string
	ch     chan Event
	closed bool
}

func (s *hubSubscription) Events() <-chan Event {
	return s.ch
}

func (s *hubSubscription) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.key)
		}
	}
	s.closeLocked()
	return nil
}

// closeLocked requires hub.mu held for writing.
func (s *hubSubscription) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
