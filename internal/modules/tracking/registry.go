package tracking

import (
	"sort"
	"sync"
	"time"

	"speedyfood/internal/types"
)

// registry owns the live sessions and their cancel handles.
type registry struct {
	mu       sync.Mutex
	sessions map[Key]*Session
}

func newRegistry() *registry {
	return &registry{sessions: make(map[Key]*Session)}
}

// add stores s unless a session with the same key is already live.
func (r *registry) add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.Key]; ok {
		return false
	}
	r.sessions[s.Key] = s
	return true
}

func (r *registry) remove(k Key) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[k]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, k)
	if s.cancel != nil {
		s.cancel()
	}
	s.Active = false
	return *s, true
}

func (r *registry) get(k Key) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[k]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// tracks reports whether any live session follows the order.
func (r *registry) tracks(code types.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.sessions {
		if k.Order == code {
			return true
		}
	}
	return false
}

func (r *registry) setMessage(k Key, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[k]; ok {
		s.LastMessageID = id
	}
}

// touch records a refresh and returns the updated session.
func (r *registry) touch(k Key, at time.Time) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[k]
	if !ok {
		return Session{}, false
	}
	s.LastRefresh = at
	return *s, true
}

func (r *registry) list() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Order != out[j].Key.Order {
			return out[i].Key.Order < out[j].Key.Order
		}
		return out[i].Key.Chat < out[j].Key.Chat
	})
	return out
}

func (r *registry) drain() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for k, s := range r.sessions {
		if s.cancel != nil {
			s.cancel()
		}
		s.Active = false
		out = append(out, *s)
		delete(r.sessions, k)
	}
	return out
}
