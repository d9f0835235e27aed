package world

import (
	"fmt"
	"regexp"
	"strings"
)

var objRefRe = regexp.MustCompile(`\{obj:([a-zA-Z0-9_\- ]+)}`)

// ViewObject is one object as it appears in a RoomView after layer merging.
type ViewObject struct {
	Object
	Revealed bool
	Unlocked bool
}

// ViewExit is one exit after the lock override merge. A locked exit with
// VisibleWhenLocked set is listed but unusable.
type ViewExit struct {
	Exit
	Usable bool
}

// RoomView is the materialized, read-only result of merging blueprint, the
// active runtime layer, and session-local state for one room. It is valid
// for one command only; the Snapshot stage rebuilds it every time.
type RoomView struct {
	Blueprint string
	Room      string
	Title     string
	Short     string
	Body      string
	Objects   []ViewObject
	Exits     []ViewExit
	Counters  map[string]int
	KV        map[string]string
	Scripts   Scripts
	Hints     []Hint
	Version   uint64
}

// BuildView merges the blueprint room with one runtime layer's state.
// Exactly one runtime layer backs the non-blueprint fields; the caller
// selects zone or overlay by session mode before snapshotting.
func BuildView(bp *Blueprint, roomKey string, st RoomState, version uint64) (*RoomView, error) {
	room, ok := bp.Rooms[roomKey]
	if !ok {
		return nil, fmt.Errorf("world: blueprint %q has no room %q", bp.Key, roomKey)
	}

	v := &RoomView{
		Blueprint: bp.Key,
		Room:      room.Key,
		Title:     room.Title, // blueprint-only, never overridden
		Short:     room.Short,
		Body:      room.Body,
		Scripts:   room.Scripts, // blueprint-only, never overridden
		Hints:     room.Hints,
		Version:   version,
	}

	// Objects: (blueprint set with spawned instances) minus removed, each
	// filtered by its visibility predicate against the merged state. A
	// spawned duplicate of a visible blueprint object is suppressed.
	seen := make(map[string]bool, len(room.Objects))
	for _, o := range room.Objects {
		if st.Removed[o.Key] {
			continue
		}
		v.appendObject(o, st, seen)
	}
	for _, o := range st.Spawned {
		if st.Removed[o.Key] {
			continue
		}
		v.appendObject(o, st, seen)
	}

	// Counters: baseline minus cumulative consumption, floored at zero.
	v.Counters = make(map[string]int, len(room.Counters))
	for k, baseline := range room.Counters {
		n := baseline - st.Consumed[k]
		if n < 0 {
			n = 0
		}
		v.Counters[k] = n
	}

	// Exits: blueprint set with lock overrides; locked exits drop out of
	// the list unless flagged visible-when-locked.
	for _, e := range room.Exits {
		locked := e.Locked
		if override, ok := st.ExitLocks[e.Dir]; ok {
			locked = override
		}
		if locked && !e.VisibleWhenLocked {
			continue
		}
		ve := ViewExit{Exit: *e, Usable: !locked}
		ve.Locked = locked
		v.Exits = append(v.Exits, ve)
	}

	// Free-form state: runtime layer first, blueprint default second.
	v.KV = make(map[string]string, len(room.KV)+len(st.KV))
	for k, val := range room.KV {
		v.KV[k] = val
	}
	for k, val := range st.KV {
		v.KV[k] = val
	}

	return v, nil
}

func (v *RoomView) appendObject(o *Object, st RoomState, seen map[string]bool) {
	if seen[o.Key] {
		return
	}
	vo := ViewObject{
		Object:   *o,
		Revealed: st.Revealed[o.Key],
		Unlocked: st.Unlocked[o.Key],
	}
	switch o.Visibility {
	case VisAlways:
	case VisWhenRevealed, VisScripted:
		if !vo.Revealed {
			return
		}
	case VisWhenUnlocked:
		if !vo.Unlocked {
			return
		}
	}
	seen[o.Key] = true
	v.Objects = append(v.Objects, vo)
}

// ObjectByNoun finds the first visible object matching a noun or synonym.
func (v *RoomView) ObjectByNoun(noun string) *ViewObject {
	for i := range v.Objects {
		if v.Objects[i].Matches(noun) {
			return &v.Objects[i]
		}
	}
	return nil
}

// ObjectsByNoun returns every visible object matching a noun or synonym,
// in listing order.
func (v *RoomView) ObjectsByNoun(noun string) []*ViewObject {
	var matches []*ViewObject
	for i := range v.Objects {
		if v.Objects[i].Matches(noun) {
			matches = append(matches, &v.Objects[i])
		}
	}
	return matches
}

// ExitTo returns the listed exit in dir, or nil. Locked-but-visible exits
// are returned with Usable false; movement validation rejects them.
func (v *RoomView) ExitTo(dir Direction) *ViewExit {
	for i := range v.Exits {
		if v.Exits[i].Dir == dir {
			return &v.Exits[i]
		}
	}
	return nil
}

// Counter returns the resolved value of a named counter (zero if absent).
func (v *RoomView) Counter(name string) int { return v.Counters[name] }

// RenderBody substitutes {obj:key} references in the room body with each
// object's short description. Unknown references render as the raw key.
func (v *RoomView) RenderBody() string {
	return objRefRe.ReplaceAllStringFunc(v.Body, func(m string) string {
		key := objRefRe.FindStringSubmatch(m)[1]
		if o := v.ObjectByNoun(key); o != nil {
			return o.Short
		}
		return key
	})
}

// ObjectNames lists visible object names for room rendering.
func (v *RoomView) ObjectNames() []string {
	out := make([]string, 0, len(v.Objects))
	for i := range v.Objects {
		out = append(out, v.Objects[i].Name)
	}
	return out
}

// ExitNames lists listed exits, marking unusable ones.
func (v *RoomView) ExitNames() []string {
	out := make([]string, 0, len(v.Exits))
	for i := range v.Exits {
		name := string(v.Exits[i].Dir)
		if !v.Exits[i].Usable {
			name += " (locked)"
		}
		out = append(out, name)
	}
	return out
}

// Describe renders the full room text for byte-oriented clients.
func (v *RoomView) Describe() string {
	var b strings.Builder
	b.WriteString(v.Title)
	b.WriteString("\n")
	b.WriteString(v.RenderBody())
	if names := v.ObjectNames(); len(names) > 0 {
		b.WriteString("\nYou see: ")
		b.WriteString(strings.Join(names, ", "))
	}
	if exits := v.ExitNames(); len(exits) > 0 {
		b.WriteString("\nExits: ")
		b.WriteString(strings.Join(exits, ", "))
	}
	return b.String()
}
