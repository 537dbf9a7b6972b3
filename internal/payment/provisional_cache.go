package payment

import (
	"sync"
	"time"

	"github.com/frahmantamala/stay-payments/internal/core/datamodel/payment"
)

const (
	DefaultProvisionalTTL = 5 * time.Minute
	// ProvisionalCapacity bounds the cache when observations arrive faster than they expire.
	ProvisionalCapacity = 10000
)

type provisionalEntry struct {
	intent     payment.Intent
	observedAt time.Time
}

// ProvisionalCache remembers terminal statuses seen by the resolver before the store read path
// reflects them. Entries are hints for the status endpoint only and are never written back.
type ProvisionalCache struct {
	mu         sync.Mutex
	entries    map[string]provisionalEntry
	ttl        time.Duration
	now        func() time.Time
	lastPruned time.Time
}

func NewProvisionalCache(ttl time.Duration) *ProvisionalCache {
	if ttl <= 0 {
		ttl = DefaultProvisionalTTL
	}
	return &ProvisionalCache{
		entries:    make(map[string]provisionalEntry),
		ttl:        ttl,
		now:        time.Now,
		lastPruned: time.Now(),
	}
}

// Remember stores a terminal observation. Pending intents are ignored. Expired entries are swept at
// most once per TTL, and the oldest entry makes room when the cache is full.
func (c *ProvisionalCache) Remember(intent *payment.Intent) {
	if intent == nil || !intent.Status.Terminal() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now.Sub(c.lastPruned) >= c.ttl {
		c.pruneLocked(now)
	}
	if _, ok := c.entries[intent.ID]; !ok && len(c.entries) >= ProvisionalCapacity {
		c.evictOldestLocked()
	}
	c.entries[intent.ID] = provisionalEntry{intent: *intent, observedAt: now}
}

func (c *ProvisionalCache) pruneLocked(now time.Time) {
	for id, entry := range c.entries {
		if now.Sub(entry.observedAt) > c.ttl {
			delete(c.entries, id)
		}
	}
	c.lastPruned = now
}

func (c *ProvisionalCache) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, entry := range c.entries {
		if oldestID == "" || entry.observedAt.Before(oldestAt) {
			oldestID, oldestAt = id, entry.observedAt
		}
	}
	delete(c.entries, oldestID)
}

// Overlay returns the intent to show for stored. Once the store reports a terminal status the entry is
// dropped and stored wins.
func (c *ProvisionalCache) Overlay(stored *payment.Intent) (*payment.Intent, bool) {
	if stored == nil {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[stored.ID]
	if !ok {
		return stored, false
	}
	if stored.Status.Terminal() || c.now().Sub(entry.observedAt) > c.ttl {
		delete(c.entries, stored.ID)
		return stored, false
	}
	merged := *stored
	merged.Status = entry.intent.Status
	merged.FailureReason = entry.intent.FailureReason
	merged.ResolvedAt = entry.intent.ResolvedAt
	return &merged, true
}

func (c *ProvisionalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
