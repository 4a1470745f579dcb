// Package elide implements the object elision store: a memory-bounded map
// from opaque id to the (session, value) pair behind an elision
// placeholder. Printed output must not retain unbounded memory just
// because a client has not yet expanded a truncated structure, so the
// store reclaims the oldest entries once it grows past its capacity; a
// fetch after reclamation reports the value gone rather than failing.
package elide

import (
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aki/remux/internal/logger"
)

type entry struct {
	session string
	value   any
}

// Store holds elided values until they are fetched or reclaimed.
// Put and Get never block on reclamation: eviction notices go through a
// queue drained by a background goroutine.
type Store struct {
	log     logger.Logger
	cache   *lru.Cache[string, entry]
	reclaim chan string
	done    chan struct{}

	seq       atomic.Uint64
	reclaimed atomic.Uint64
}

// NewStore creates a Store bounded to capacity entries and starts its
// reclamation drain goroutine.
func NewStore(capacity int, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &Store{
		log:     log,
		reclaim: make(chan string, 256),
		done:    make(chan struct{}),
	}
	cache, err := lru.NewWithEvict[string, entry](capacity, s.onEvict)
	if err != nil {
		return nil, fmt.Errorf("failed to create elision cache: %w", err)
	}
	s.cache = cache
	go s.drain()
	return s, nil
}

// Put stores value for sessionID under a fresh id. It never blocks and
// never fails; storing may reclaim the oldest entry. A nil value is a
// legal stored value, distinguishable from an absent entry by Get's ok
// result.
func (s *Store) Put(sessionID string, v any) string {
	id := fmt.Sprintf("G__%d", s.seq.Add(1))
	s.cache.Add(id, entry{session: sessionID, value: v})
	return id
}

// Get returns the owning session and value for id. ok is false when the
// id was never issued or the value has been reclaimed; a reclaimed entry
// is indistinguishable from one never stored, and neither case raises.
func (s *Store) Get(id string) (string, any, bool) {
	e, ok := s.cache.Get(id)
	if !ok {
		return "", nil, false
	}
	return e.session, e.value, true
}

// Len returns the number of retained entries.
func (s *Store) Len() int {
	return s.cache.Len()
}

// Reclaimed returns how many entries have been reclaimed so far.
func (s *Store) Reclaimed() uint64 {
	return s.reclaimed.Load()
}

// Close stops the reclamation drain goroutine. The store remains usable;
// later reclamations just go unrecorded.
func (s *Store) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// onEvict runs inside the cache while it holds its own lock, so it only
// hands the id off; the drain goroutine does the bookkeeping. A full
// queue drops notices: reclamation accounting is best-effort.
func (s *Store) onEvict(id string, _ entry) {
	select {
	case s.reclaim <- id:
	default:
	}
}

func (s *Store) drain() {
	for {
		select {
		case id := <-s.reclaim:
			s.reclaimed.Add(1)
			s.log.Debug("elided value reclaimed", "id", id)
		case <-s.done:
			return
		}
	}
}
