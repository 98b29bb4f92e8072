// Package presence tracks ephemeral per-user cursor state for one document.
//
// Presence is a "where is the mouse now" fact: receipt always overwrites,
// nothing is persisted, and every client purges stale entries on its own —
// there is no central expiry authority.
package presence

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inkwire/inkwire/internal/util"
)

// Entry is one user's live cursor state. Coordinates are in document space
// (already divided by the viewer's scale) so they stay valid across viewers
// at different zoom levels.
type Entry struct {
	UserID     string  `json:"userId"`
	PageNumber int     `json:"pageNumber"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	IsActive   bool    `json:"isActive"`
	IsTyping   bool    `json:"isTyping,omitempty"`
	LastSeen   int64   `json:"lastSeen"` // unix milliseconds
}

// DecodeEntry parses a presence payload from an envelope.
func DecodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("malformed presence payload: %w", err)
	}
	if e.UserID == "" {
		return nil, fmt.Errorf("presence payload without userId")
	}
	return &e, nil
}

// Store holds the presence entries for one document session. The local user's
// entry is tracked for broadcasting but excluded from rendering snapshots.
type Store struct {
	selfID     string
	staleAfter time.Duration
	limiter    *rate.Limiter

	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

// NewStore creates a presence store for the given local user. Broadcasts of
// the local cursor are throttled to maxRate per second to bound signaling
// volume; staleAfter controls local purging of silent peers.
func NewStore(selfID string, staleAfter time.Duration, maxRate float64) *Store {
	return &Store{
		selfID:     selfID,
		staleAfter: staleAfter,
		limiter:    rate.NewLimiter(rate.Limit(maxRate), 1),
		entries:    make(map[string]Entry),
		now:        time.Now,
	}
}

// UpdateLocal records the local cursor position. x and y are viewport
// coordinates at the given scale; they are normalized to document space
// before storing. The returned entry should be broadcast when ok is true —
// ok is rate-limited, and a suppressed broadcast is fine because the next
// allowed one carries the newest position anyway.
func (s *Store) UpdateLocal(page int, x, y, scale float64) (Entry, bool) {
	if scale <= 0 {
		scale = 1
	}
	e := Entry{
		UserID:     s.selfID,
		PageNumber: page,
		X:          x / scale,
		Y:          y / scale,
		IsActive:   true,
		LastSeen:   s.now().UnixMilli(),
	}

	s.mu.Lock()
	if prev, ok := s.entries[s.selfID]; ok {
		e.IsTyping = prev.IsTyping
	}
	s.entries[s.selfID] = e
	s.mu.Unlock()

	return e, s.limiter.Allow()
}

// SetTypingLocal flips the local typing indicator. Typing changes are rare
// compared to cursor moves, so they always broadcast.
func (s *Store) SetTypingLocal(typing bool) Entry {
	s.mu.Lock()
	e := s.entries[s.selfID]
	e.UserID = s.selfID
	e.IsActive = true
	e.IsTyping = typing
	e.LastSeen = s.now().UnixMilli()
	s.entries[s.selfID] = e
	s.mu.Unlock()
	return e
}

// ApplyRemote overwrites a peer's entry. No versioning: last write wins is
// the correct policy for ephemeral cursor state. Entries claiming to be the
// local user are ignored.
func (s *Store) ApplyRemote(e *Entry) {
	if e.UserID == s.selfID {
		return
	}
	entry := *e
	entry.LastSeen = s.now().UnixMilli()

	s.mu.Lock()
	s.entries[e.UserID] = entry
	s.mu.Unlock()

	util.Stats.AddPresencePing()
}

// Remove drops a user's entry immediately (e.g. on an explicit leave).
func (s *Store) Remove(userID string) {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
}

// Purge removes entries not refreshed within the staleness threshold and
// returns the ids that were dropped. The local entry is never purged.
func (s *Store) Purge() []string {
	cutoff := s.now().Add(-s.staleAfter).UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for id, e := range s.entries {
		if id != s.selfID && e.LastSeen < cutoff {
			delete(s.entries, id)
			dropped = append(dropped, id)
		}
	}
	return dropped
}

// Self returns the local entry, false before the first local update.
func (s *Store) Self() (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[s.selfID]
	return e, ok
}

// Snapshot returns the remote entries for rendering. The local user is
// excluded — the UI draws its own cursor.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for id, e := range s.entries {
		if id != s.selfID {
			out = append(out, e)
		}
	}
	return out
}
