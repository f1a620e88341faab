package queue

import (
	"sync"
	"time"

	"github.com/cbright/taskhive/pkg/models"
)

// ttlStoreConfig configures a bounded result store.
type ttlStoreConfig struct {
	// TTL is how long an entry lives without being refreshed.
	TTL time.Duration
	// MaxSize caps the number of entries; the oldest is evicted on overflow.
	MaxSize int
	// RefreshOnGet extends an entry's TTL when it is read. The completed
	// store keeps hot results warm; the failed store deliberately does not.
	RefreshOnGet bool
	// SweepInterval is how often the background sweep removes expired
	// entries. Zero disables the sweeper (tests drive expiry directly).
	SweepInterval time.Duration
}

// ttlEntry is one stored result with its lifetime bookkeeping.
type ttlEntry struct {
	result     *models.TaskResult
	insertedAt time.Time
	expiresAt  time.Time
}

// TTLStoreStats reports the state of a bounded result store.
type TTLStoreStats struct {
	// Size is the current number of entries.
	Size int
	// MaxSize is the configured capacity.
	MaxSize int
	// TTL is the configured entry lifetime.
	TTL time.Duration
	// Evictions counts size-based removals (oldest-first).
	Evictions int
	// Expirations counts time-based removals.
	Expirations int
}

// ttlStore is a time-to-live + max-size map of task results keyed by task id.
// Eviction is both size-based (oldest insertion first) and time-based
// (background sweep).
type ttlStore struct {
	// cfg is the store configuration.
	cfg ttlStoreConfig
	// entries maps task id -> entry.
	entries map[string]*ttlEntry
	// order tracks insertion order for oldest-first eviction.
	order []string
	// evictions and expirations are removal counters.
	evictions   int
	expirations int
	// stopCh stops the background sweeper.
	stopCh chan struct{}
	// disposed guards against double-dispose.
	disposed bool
	// mu protects all fields.
	mu sync.Mutex
}

// newTTLStore creates a store and starts its background sweeper if a sweep
// interval is configured.
func newTTLStore(cfg ttlStoreConfig) *ttlStore {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	s := &ttlStore{
		cfg:     cfg,
		entries: make(map[string]*ttlEntry),
		stopCh:  make(chan struct{}),
	}
	if cfg.SweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Set stores a result, evicting the oldest entry if the store is full.
func (s *ttlStore) Set(id string, result *models.TaskResult) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[id]; !exists && len(s.entries) >= s.cfg.MaxSize {
		s.evictOldestLocked()
	}
	if _, exists := s.entries[id]; exists {
		s.removeFromOrderLocked(id)
	}
	s.entries[id] = &ttlEntry{
		result:     result,
		insertedAt: now,
		expiresAt:  now.Add(s.cfg.TTL),
	}
	s.order = append(s.order, id)
}

// Get returns the stored result for an id. A live entry's TTL is refreshed
// when the store is configured to do so.
func (s *ttlStore) Get(id string) (*models.TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		s.removeLocked(id)
		s.expirations++
		return nil, false
	}
	if s.cfg.RefreshOnGet {
		e.expiresAt = time.Now().Add(s.cfg.TTL)
	}
	return e.result, true
}

// Has returns true if a live entry exists, without refreshing it.
func (s *ttlStore) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}
	if time.Now().After(e.expiresAt) {
		s.removeLocked(id)
		s.expirations++
		return false
	}
	return true
}

// Delete removes an entry if present.
func (s *ttlStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

// Len returns the number of entries, expired or not.
func (s *ttlStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear removes every entry.
func (s *ttlStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*ttlEntry)
	s.order = nil
}

// Stats returns a snapshot of the store's state.
func (s *ttlStore) Stats() TTLStoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return TTLStoreStats{
		Size:        len(s.entries),
		MaxSize:     s.cfg.MaxSize,
		TTL:         s.cfg.TTL,
		Evictions:   s.evictions,
		Expirations: s.expirations,
	}
}

// Dispose stops the sweeper and clears the store. Idempotent.
func (s *ttlStore) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	close(s.stopCh)
	s.entries = make(map[string]*ttlEntry)
	s.order = nil
}

// sweep removes expired entries. Exposed for tests through the sweeper loop.
func (s *ttlStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if now.After(e.expiresAt) {
			s.removeLocked(id)
			s.expirations++
		}
	}
}

func (s *ttlStore) sweepLoop() {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// evictOldestLocked removes the oldest live entry. Caller must hold s.mu.
func (s *ttlStore) evictOldestLocked() {
	if len(s.order) == 0 {
		return
	}
	oldest := s.order[0]
	s.removeLocked(oldest)
	s.evictions++
}

// removeLocked deletes an entry and its order slot. Caller must hold s.mu.
func (s *ttlStore) removeLocked(id string) {
	if _, ok := s.entries[id]; !ok {
		return
	}
	delete(s.entries, id)
	s.removeFromOrderLocked(id)
}

func (s *ttlStore) removeFromOrderLocked(id string) {
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}
