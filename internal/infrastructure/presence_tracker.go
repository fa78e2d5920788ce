package infrastructure

import (
	"sync"
	"time"
)

// PresenceState is what readers see for a conversation
type PresenceState struct {
	IsTyping   bool      `json:"is_typing"`
	ObservedAt time.Time `json:"observed_at"`
}

type presenceEntry struct {
	typing     bool
	observedAt time.Time
	timer      *time.Timer
	gen        uint64
}

// PresenceTracker keeps short-lived typing state per conversation. Nothing is
// persisted; a restart forgets everything.
type PresenceTracker struct {
	mu      sync.RWMutex
	entries map[int64]*presenceEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewPresenceTracker(ttl time.Duration) *PresenceTracker {
	return &PresenceTracker{
		entries: make(map[int64]*presenceEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the time source used to stamp and age entries
func (p *PresenceTracker) WithClock(now func() time.Time) *PresenceTracker {
	p.now = now
	return p
}

// SetTyping records a presence observation. Typing flips back to idle after
// the TTL unless refreshed by another call.
func (p *PresenceTracker) SetTyping(conversationID int64, typing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.entries[conversationID]
	if !ok {
		entry = &presenceEntry{}
		p.entries[conversationID] = entry
	}
	if entry.timer != nil {
		entry.timer.Stop()
		entry.timer = nil
	}
	entry.gen++
	entry.typing = typing
	entry.observedAt = p.now()

	if typing {
		gen := entry.gen
		entry.timer = time.AfterFunc(p.ttl, func() { p.expire(conversationID, gen) })
	}
}

func (p *PresenceTracker) expire(conversationID int64, gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.entries[conversationID]; ok && entry.gen == gen {
		entry.typing = false
		entry.timer = nil
	}
}

// Get returns the current state. Observations older than the TTL read as
// not typing even if the scheduled flip has not run yet.
func (p *PresenceTracker) Get(conversationID int64) PresenceState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entry, ok := p.entries[conversationID]
	if !ok {
		return PresenceState{}
	}
	state := PresenceState{IsTyping: entry.typing, ObservedAt: entry.observedAt}
	if state.IsTyping && p.now().Sub(entry.observedAt) > p.ttl {
		state.IsTyping = false
	}
	return state
}

func (p *PresenceTracker) IsTyping(conversationID int64) bool {
	return p.Get(conversationID).IsTyping
}

// Sweep drops idle entries not observed within maxAge and returns how many
// were removed.
func (p *PresenceTracker) Sweep(maxAge time.Duration) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	removed := 0
	for id, entry := range p.entries {
		if now.Sub(entry.observedAt) > maxAge {
			if entry.timer != nil {
				entry.timer.Stop()
			}
			delete(p.entries, id)
			removed++
		}
	}
	return removed
}

func (p *PresenceTracker) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.entries)
}
