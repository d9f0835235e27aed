package game

import (
	"sort"
	"sync"
)

// Registry is the session directory: who is where, keyed by (scope, room).
// It is queried only at Commit time for notifications and by presence
// verbs; nothing holds it during Apply.
type Registry struct {
	mu      sync.RWMutex
	byRoom  map[string]map[*Session]struct{} // scope + "\x00" + room
	byScope map[string]map[*Session]struct{}
	all     map[*Session]struct{}
}

// NewRegistry creates an empty session directory.
func NewRegistry() *Registry {
	return &Registry{
		byRoom:  make(map[string]map[*Session]struct{}),
		byScope: make(map[string]map[*Session]struct{}),
		all:     make(map[*Session]struct{}),
	}
}

func roomKey(scope, room string) string { return scope + "\x00" + room }

func add(m map[string]map[*Session]struct{}, key string, s *Session) {
	set, ok := m[key]
	if !ok {
		set = make(map[*Session]struct{})
		m[key] = set
	}
	set[s] = struct{}{}
}

func remove(m map[string]map[*Session]struct{}, key string, s *Session) {
	if set, ok := m[key]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(m, key)
		}
	}
}

// Join registers a session at its current scope and room.
func (r *Registry) Join(s *Session) {
	scope, room := s.Scope(), s.Room()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all[s] = struct{}{}
	add(r.byScope, scope, s)
	add(r.byRoom, roomKey(scope, room), s)
}

// Leave removes a session from the directory entirely.
func (r *Registry) Leave(s *Session, scope, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.all, s)
	remove(r.byScope, scope, s)
	remove(r.byRoom, roomKey(scope, room), s)
}

// Move re-files a session after a room change or mode switch. Old scope
// and room are passed explicitly since the session already reflects the
// new position.
func (r *Registry) Move(s *Session, oldScope, oldRoom string) {
	newScope, newRoom := s.Scope(), s.Room()
	r.mu.Lock()
	defer r.mu.Unlock()
	remove(r.byScope, oldScope, s)
	remove(r.byRoom, roomKey(oldScope, oldRoom), s)
	add(r.byScope, newScope, s)
	add(r.byRoom, roomKey(newScope, newRoom), s)
}

// InRoom returns the sessions present in one room of one scope.
func (r *Registry) InRoom(scope, room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byRoom[roomKey(scope, room)]
	out := make([]*Session, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	return out
}

// Names returns the account names of every registered session, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.all))
	for s := range r.all {
		out = append(out, s.Name())
	}
	sort.Strings(out)
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// Notify delivers a line to every session in (scope, room) except the
// actor. Delivery is best-effort through each recipient's own outbox; a
// slow recipient drops frames rather than blocking the committer.
func (r *Registry) Notify(scope, room string, except *Session, text string) {
	for _, s := range r.InRoom(scope, room) {
		if s == except || s.Out == nil {
			continue
		}
		s.Out.System(text)
	}
}
