package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// DefaultTTL is how long a terminal snapshot is kept when no TTL is given.
const DefaultTTL = 24 * time.Hour

// Entry is a cached terminal job snapshot.
type Entry struct {
	// Data is the JSON-encoded snapshot.
	Data []byte `json:"data"`

	// State is the terminal state the snapshot was cached in.
	State string `json:"state"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`

	// CachedAt is when the snapshot was stored.
	CachedAt time.Time `json:"cached_at"`
}

// NewEntry encodes snapshot into an entry that lives for ttl.
// A ttl <= 0 uses DefaultTTL.
func NewEntry(snapshot any, state string, ttl time.Duration) (*Entry, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	now := time.Now()
	return &Entry{
		Data:     data,
		State:    state,
		Expires:  now.Add(ttl),
		CachedAt: now,
	}, nil
}

// Decode unmarshals the snapshot into v.
func (e *Entry) Decode(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return nil
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
