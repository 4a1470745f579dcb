package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/lang"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/sexpr"
)

// Registry owns every session for the life of the process. Closed
// sessions are retained for output reattachment, but only a bounded
// number of them: the oldest closed session is evicted once the bound is
// exceeded. Live sessions are never evicted.
type Registry struct {
	log      logger.Logger
	store    *elide.Store
	limits   lang.Limits
	retained int

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   []string
}

// NewRegistry creates a registry. limits seeds the print limits of new
// sessions; retained bounds how many closed sessions stay resolvable.
func NewRegistry(store *elide.Store, limits lang.Limits, retained int, log logger.Logger) *Registry {
	if retained < 0 {
		retained = 0
	}
	return &Registry{
		log:      log,
		store:    store,
		limits:   limits,
		retained: retained,
		sessions: make(map[string]*Session),
	}
}

// Store returns the elision store shared by all sessions.
func (r *Registry) Store() *elide.Store { return r.store }

// Limits returns the print limits new sessions start with.
func (r *Registry) Limits() lang.Limits { return r.limits }

// Create registers a new session wired to the reference language: a
// fresh evaluator root environment and an elision-aware printer scoped
// to the session id.
func (r *Registry) Create() *Session {
	id := "s-" + uuid.NewString()
	bindings := lang.Bindings{
		lang.BindingFile:        id,
		lang.BindingPrintLength: float64(r.limits.Length),
		lang.BindingPrintDepth:  float64(r.limits.Depth),
		lang.BindingPrintText:   float64(r.limits.Text),
	}
	s := newSession(id, sexpr.NewEvaluator(), sexpr.NewPrinter(r.store, id), bindings, r.log)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	r.log.Debug("session created", "session", id)
	return s
}

// Get resolves a session by id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns all registered sessions, oldest first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// MarkClosed moves a session to its terminal state and enrolls it in the
// bounded closed-session retention window.
func (r *Registry) MarkClosed(s *Session) {
	if s.Closed() {
		return
	}
	s.Close()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, s.ID)
	for len(r.closed) > r.retained {
		oldest := r.closed[0]
		r.closed = r.closed[1:]
		delete(r.sessions, oldest)
		r.log.Debug("closed session evicted", "session", oldest)
	}
}

// Dispose removes a session from the registry entirely, closing and
// muting it if still live. Unlike driver detach, disposal silences the
// session even if another connection had adopted its output.
func (r *Registry) Dispose(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(r.sessions, id)
	for i, cid := range r.closed {
		if cid == id {
			r.closed = append(r.closed[:i], r.closed[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	s.Close()
	s.Mute()
	r.log.Debug("session disposed", "session", id)
	return nil
}

// Close tears down every session. Called once at server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.closed = nil
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
