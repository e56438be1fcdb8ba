// Package tracker keeps the client-local record of when the viewing user last
// opened each conversation. Unread state is derived from it and is never
// sent to the server, so it does not follow the user across devices.
package tracker

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Store persists the seen map of one viewing user.
type Store interface {
	Load() (map[string]time.Time, error)
	Save(seen map[string]time.Time) error
}

type Tracker struct {
	mu    sync.Mutex
	store Store
	seen  map[string]time.Time
}

// New loads the stored seen map. A missing store starts empty.
func New(store Store) (*Tracker, error) {
	seen, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "load seen records")
	}
	if seen == nil {
		seen = make(map[string]time.Time)
	}
	return &Tracker{store: store, seen: seen}, nil
}

// RecordSeen advances the seen time for partnerID to at. Older or equal
// times are ignored.
func (t *Tracker) RecordSeen(partnerID string, at time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.seen[partnerID]; ok && !at.After(prev) {
		return nil
	}
	t.seen[partnerID] = at

	snapshot := make(map[string]time.Time, len(t.seen))
	for k, v := range t.seen {
		snapshot[k] = v
	}
	if err := t.store.Save(snapshot); err != nil {
		return errors.Wrap(err, "save seen records")
	}
	return nil
}

// SeenAt returns the zero time for partners never opened.
func (t *Tracker) SeenAt(partnerID string) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.seen[partnerID]
}

func (t *Tracker) IsUnread(partnerID string, lastActivityAt time.Time) bool {
	return lastActivityAt.After(t.SeenAt(partnerID))
}
