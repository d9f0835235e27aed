package world

import (
	"sync"

	"github.com/google/uuid"
)

// RoomState is the per-room delta a runtime layer records against the
// blueprint. Zones persist it; overlays keep it in memory only. The zero
// value is an empty delta.
type RoomState struct {
	Consumed  map[string]int     `json:"consumed,omitempty"`   // counter key -> total consumed
	Removed   map[string]bool    `json:"removed,omitempty"`    // despawned object keys
	Spawned   []*Object          `json:"spawned,omitempty"`    // runtime-spawned objects
	ExitLocks map[Direction]bool `json:"exit_locks,omitempty"` // lock overrides by direction
	Revealed  map[string]bool    `json:"revealed,omitempty"`   // revealed object keys
	Unlocked  map[string]bool    `json:"unlocked,omitempty"`   // unlocked object keys
	KV        map[string]string  `json:"kv,omitempty"`         // free-form state overrides
}

// Clone returns a deep copy safe to use after the source lock is released.
func (s *RoomState) Clone() RoomState {
	out := RoomState{}
	if len(s.Consumed) > 0 {
		out.Consumed = make(map[string]int, len(s.Consumed))
		for k, v := range s.Consumed {
			out.Consumed[k] = v
		}
	}
	out.Removed = copyBoolMap(s.Removed)
	out.Revealed = copyBoolMap(s.Revealed)
	out.Unlocked = copyBoolMap(s.Unlocked)
	if len(s.ExitLocks) > 0 {
		out.ExitLocks = make(map[Direction]bool, len(s.ExitLocks))
		for k, v := range s.ExitLocks {
			out.ExitLocks[k] = v
		}
	}
	if len(s.KV) > 0 {
		out.KV = make(map[string]string, len(s.KV))
		for k, v := range s.KV {
			out.KV[k] = v
		}
	}
	if len(s.Spawned) > 0 {
		out.Spawned = make([]*Object, len(s.Spawned))
		copy(out.Spawned, s.Spawned) // Object templates are immutable once spawned
	}
	return out
}

func copyBoolMap(m map[string]bool) map[string]bool {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Delta is the structured change one command computes in its Apply stage.
// It is merged into the active runtime layer at Commit and doubles as the
// wire-level room diff in a CommandResult.
type Delta struct {
	Room        string             `json:"room"`
	Consume     map[string]int     `json:"consume,omitempty"`
	Remove      []string           `json:"remove,omitempty"`
	Spawn       []*Object          `json:"spawn,omitempty"`
	SetExitLock map[Direction]bool `json:"set_exit_lock,omitempty"`
	Reveal      []string           `json:"reveal,omitempty"`
	Unlock      []string           `json:"unlock,omitempty"`
	SetKV       map[string]string  `json:"set_kv,omitempty"`
}

// Empty reports whether the delta changes nothing.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.Consume) == 0 && len(d.Remove) == 0 && len(d.Spawn) == 0 &&
		len(d.SetExitLock) == 0 && len(d.Reveal) == 0 && len(d.Unlock) == 0 && len(d.SetKV) == 0)
}

// merge folds the delta into st in place.
func (d *Delta) merge(st *RoomState) {
	for k, n := range d.Consume {
		if st.Consumed == nil {
			st.Consumed = make(map[string]int)
		}
		st.Consumed[k] += n
	}
	// Removal marks blueprint objects gone and prunes spawned instances
	// of the same key outright.
	for _, key := range d.Remove {
		if st.Removed == nil {
			st.Removed = make(map[string]bool)
		}
		st.Removed[key] = true
		for i := 0; i < len(st.Spawned); i++ {
			if st.Spawned[i].Key == key {
				st.Spawned = append(st.Spawned[:i], st.Spawned[i+1:]...)
				i--
			}
		}
	}
	// Re-spawning a removed key brings it back.
	for _, o := range d.Spawn {
		delete(st.Removed, o.Key)
	}
	st.Spawned = append(st.Spawned, d.Spawn...)
	for dir, locked := range d.SetExitLock {
		if st.ExitLocks == nil {
			st.ExitLocks = make(map[Direction]bool)
		}
		st.ExitLocks[dir] = locked
	}
	for _, key := range d.Reveal {
		if st.Revealed == nil {
			st.Revealed = make(map[string]bool)
		}
		st.Revealed[key] = true
	}
	for _, key := range d.Unlock {
		if st.Unlocked == nil {
			st.Unlocked = make(map[string]bool)
		}
		st.Unlocked[key] = true
	}
	for k, v := range d.SetKV {
		if st.KV == nil {
			st.KV = make(map[string]string)
		}
		st.KV[k] = v
	}
}

// RuntimeKind distinguishes the persistence class of a runtime layer.
type RuntimeKind int

const (
	// KindLive is the shared durable world.
	KindLive RuntimeKind = iota
	// KindDraft is a durable, isolated authoring copy.
	KindDraft
	// KindOverlay is ephemeral and scoped to a single session.
	KindOverlay
)

// String returns the lowercase kind name.
func (k RuntimeKind) String() string {
	switch k {
	case KindLive:
		return "live"
	case KindDraft:
		return "draft"
	case KindOverlay:
		return "overlay"
	default:
		return "unknown"
	}
}

// Runtime is one runtime instance of a blueprint: a live zone, a draft zone,
// or an ephemeral overlay. All access copies state out under a short-held
// lock; nothing hands a lock across a store round trip or script call.
type Runtime struct {
	ID        uuid.UUID
	Blueprint string
	Kind      RuntimeKind

	mu       sync.RWMutex
	rooms    map[string]*RoomState
	versions map[string]uint64
}

// NewRuntime creates an empty runtime layer for a blueprint.
func NewRuntime(blueprint string, kind RuntimeKind) *Runtime {
	return &Runtime{
		ID:        uuid.New(),
		Blueprint: blueprint,
		Kind:      kind,
		rooms:     make(map[string]*RoomState),
		versions:  make(map[string]uint64),
	}
}

// Persistent reports whether writes to this layer reach durable storage.
func (r *Runtime) Persistent() bool { return r.Kind != KindOverlay }

// Snapshot returns a deep copy of the room's delta state and its version.
// A missing room reports an empty state at version 0.
func (r *Runtime) Snapshot(room string) (RoomState, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.rooms[room]
	if !ok {
		return RoomState{}, r.versions[room]
	}
	return st.Clone(), r.versions[room]
}

// Apply merges a command delta into the layer and bumps the room version.
// Returns the new version.
func (r *Runtime) Apply(d *Delta) uint64 {
	if d.Empty() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.versions[d.Room]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.rooms[d.Room]
	if !ok {
		st = &RoomState{}
		r.rooms[d.Room] = st
	}
	d.merge(st)
	r.versions[d.Room]++
	return r.versions[d.Room]
}

// ApplyWith merges a delta and persists the post-merge state before it
// becomes visible. The lock is not held across the persist call: the merge
// runs against a copy, persist runs unlocked, and the copy is installed
// only if no other writer got there first. On a lost race the merge and
// persist are retried against the fresh state. A persist error leaves the
// layer untouched.
func (r *Runtime) ApplyWith(d *Delta, persist func(RoomState) error) (uint64, error) {
	if d.Empty() {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.versions[d.Room], nil
	}
	if persist == nil {
		return r.Apply(d), nil
	}
	for {
		staged, ver := r.Snapshot(d.Room)
		d.merge(&staged)
		if err := persist(staged); err != nil {
			return ver, err
		}
		r.mu.Lock()
		if r.versions[d.Room] == ver {
			r.rooms[d.Room] = &staged
			r.versions[d.Room]++
			ver = r.versions[d.Room]
			r.mu.Unlock()
			return ver, nil
		}
		r.mu.Unlock()
	}
}

// Restore installs persisted room state (store load at boot) without
// bumping versions.
func (r *Runtime) Restore(room string, st RoomState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := st.Clone()
	r.rooms[room] = &clone
}

// Version returns the current version of a room's delta state.
func (r *Runtime) Version(room string) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.versions[room]
}

// Rooms returns the keys of rooms with recorded state, for persistence.
func (r *Runtime) Rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.rooms))
	for k := range r.rooms {
		out = append(out, k)
	}
	return out
}
