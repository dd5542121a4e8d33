// Package state holds the authoritative device snapshot and fans out change
// notifications.
//
// The store enforces two invariants: snapshots are replaced wholesale, never
// mutated in place, and the visible ObservedAt strictly increases. A replace
// carrying an older-or-equal observation loses to what is already stored and
// is reported back to the caller as not applied, which is how a slow poll
// response loses to a faster command confirmation.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/camarr/internal/models"
)

// subscriberBuffer is the per-subscriber notification queue depth. When a
// subscriber falls behind, the oldest queued snapshot is dropped so the
// newest state always lands.
const subscriberBuffer = 16

// Store is the single authoritative holder of the device snapshot.
type Store struct {
	mu      sync.RWMutex
	current models.DeviceSnapshot

	// notifyMu serializes replaces end-to-end so subscribers observe
	// notifications in replace order. It is always acquired before mu and
	// never held while reading via Get.
	notifyMu sync.Mutex
	subs     map[uint64]chan models.DeviceSnapshot
	nextSub  uint64

	logger *slog.Logger
}

// NewStore creates a store primed with the unknown snapshot.
func NewStore() *Store {
	return &Store{
		current: models.UnknownSnapshot(),
		subs:    make(map[uint64]chan models.DeviceSnapshot),
		logger:  slog.Default(),
	}
}

// WithLogger sets the logger for the store.
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Get returns the current snapshot.
func (s *Store) Get() models.DeviceSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Replace installs next as the current snapshot if its observation time is
// strictly newer than the stored one. It reports whether the snapshot was
// applied; a false return means next was stale and discarded. Subscribers
// are notified outside the snapshot lock, only when visible fields changed.
func (s *Store) Replace(next models.DeviceSnapshot) bool {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	prev := s.current
	if !next.ObservedAt.After(prev.ObservedAt) {
		s.mu.Unlock()
		s.logger.Debug("stale snapshot dropped",
			slog.Time("observed_at", next.ObservedAt),
			slog.Time("current_observed_at", prev.ObservedAt),
			slog.Duration("behind", prev.ObservedAt.Sub(next.ObservedAt)),
		)
		return false
	}
	s.current = next
	s.mu.Unlock()

	if next.VisiblyEqual(prev) {
		return true
	}

	for _, ch := range s.subs {
		select {
		case ch <- next:
		default:
			select {
			case <-ch:
			default:
			}
			// Cannot block: sends happen only under notifyMu.
			ch <- next
		}
	}
	return true
}

// Subscribe registers for change notifications. The returned channel receives
// every snapshot whose visible fields differ from its predecessor, in replace
// order. The cancel function unregisters and closes the channel.
func (s *Store) Subscribe() (<-chan models.DeviceSnapshot, func()) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextSub
	s.nextSub++
	ch := make(chan models.DeviceSnapshot, subscriberBuffer)
	s.subs[id] = ch

	cancel := func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// ObservedAt returns the observation time of the current snapshot.
func (s *Store) ObservedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.ObservedAt
}
