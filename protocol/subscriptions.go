package protocol

import "sync"

// SubscriptionTable maps event types to the sessions subscribed to them.
// Fanout follows subscription insertion order; the table holds session ids
// only, never the sessions themselves.
type SubscriptionTable struct {
	mu   sync.RWMutex
	subs map[string][]string
}

// NewSubscriptionTable creates an empty table.
func NewSubscriptionTable() *SubscriptionTable {
	return &SubscriptionTable{subs: make(map[string][]string)}
}

// Subscribe adds sessionID to the subscriber set for eventType. Idempotent.
func (t *SubscriptionTable) Subscribe(eventType, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.subs[eventType] {
		if id == sessionID {
			return
		}
	}
	t.subs[eventType] = append(t.subs[eventType], sessionID)
}

// Unsubscribe removes sessionID from the subscriber set for eventType.
func (t *SubscriptionTable) Unsubscribe(eventType, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs[eventType] = removeID(t.subs[eventType], sessionID)
	if len(t.subs[eventType]) == 0 {
		delete(t.subs, eventType)
	}
}

// RemoveSession drops sessionID from every event type it appears in.
func (t *SubscriptionTable) RemoveSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for eventType, ids := range t.subs {
		t.subs[eventType] = removeID(ids, sessionID)
		if len(t.subs[eventType]) == 0 {
			delete(t.subs, eventType)
		}
	}
}

// Subscribers returns the subscriber ids for eventType in insertion order.
func (t *SubscriptionTable) Subscribers(eventType string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.subs[eventType]...)
}

// Subscribed reports whether sessionID subscribes to eventType.
func (t *SubscriptionTable) Subscribed(eventType, sessionID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, id := range t.subs[eventType] {
		if id == sessionID {
			return true
		}
	}
	return false
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
