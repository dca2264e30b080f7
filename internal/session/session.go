package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/forgebridge/forgebridge/internal/dispatch"
	"github.com/forgebridge/forgebridge/internal/registry"
)

var (
	ErrNotInitialized   = errors.New("session not initialized")
	ErrSessionClosed    = errors.New("session closed")
	ErrDuplicateRequest = errors.New("request id already in flight")
	ErrCategoryDisabled = errors.New("tool category disabled for this session")
)

// Session is one connection's protocol state. A request id appears in at
// most one session's in-flight set; every in-flight id maps to exactly one
// dispatched call.
type Session struct {
	ID        string
	createdAt time.Time

	mu          sync.Mutex
	initialized bool
	readOnly    bool
	categories  map[registry.Category]bool
	inflight    map[string]*dispatch.Call
	closed      bool

	// sendMu serializes response framing so responses leave in the order
	// their calls complete.
	sendMu sync.Mutex
}

func newSession() *Session {
	return &Session{
		ID:        uuid.NewString(),
		createdAt: time.Now().UTC(),
		inflight:  make(map[string]*dispatch.Call),
	}
}

// initialize records the handshake. A second initialize is rejected.
func (s *Session) initialize(categories []registry.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.initialized {
		return errors.New("session already initialized")
	}
	s.initialized = true
	if len(categories) > 0 {
		s.categories = make(map[registry.Category]bool, len(categories))
		for _, c := range categories {
			s.categories[c] = true
		}
	}
	return nil
}

func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// RestrictToRead caps the session to read tools regardless of what the
// handshake negotiates. Set for read-only API clients.
func (s *Session) RestrictToRead() {
	s.mu.Lock()
	s.readOnly = true
	s.mu.Unlock()
}

// allows reports whether the negotiated capability set covers the category.
// A session that negotiated nothing gets every category.
func (s *Session) allows(c registry.Category) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readOnly && c != registry.CategoryRead {
		return false
	}
	if s.categories == nil {
		return true
	}
	return s.categories[c]
}

// track registers a call under its request id. A second request sharing an
// in-flight id is rejected, including ids whose calls were cancelled but
// have not finished yet.
func (s *Session) track(key string, c *dispatch.Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if !s.initialized {
		return ErrNotInitialized
	}
	if _, ok := s.inflight[key]; ok {
		return ErrDuplicateRequest
	}
	s.inflight[key] = c
	return nil
}

// finish removes the id from the in-flight set and reports whether a
// response may be delivered for it. Cancelled calls and closed sessions get
// no response.
func (s *Session) finish(key string, c *dispatch.Call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracked, ok := s.inflight[key]
	if ok && tracked == c {
		delete(s.inflight, key)
	}
	if !ok || tracked != c || s.closed {
		return false
	}
	return c.State() != dispatch.StateCancelled
}

// cancel flips the named in-flight call to Cancelled. The entry stays in the
// in-flight set until its dispatch finishes, so the id cannot be reused
// while the upstream call is still running.
func (s *Session) cancel(key string) bool {
	s.mu.Lock()
	c, ok := s.inflight[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.Cancel()
	return true
}

// cancelAll cancels every in-flight call and marks the session closed.
// Returns the number of calls cancelled.
func (s *Session) cancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	n := 0
	for _, c := range s.inflight {
		if c.Cancel() {
			n++
		}
	}
	return n
}

// InFlight returns the number of outstanding calls.
func (s *Session) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}
