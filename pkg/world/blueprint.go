// Package world holds the layered world-state model: immutable blueprints,
// durable zone deltas, ephemeral overlays, and the RoomView resolver that
// merges them into the single consistent snapshot one command executes
// against.
package world

import "strings"

// Direction is a canonical exit direction.
type Direction string

const (
	North Direction = "north"
	South Direction = "south"
	East  Direction = "east"
	West  Direction = "west"
	Up    Direction = "up"
	Down  Direction = "down"
)

var dirAliases = map[string]Direction{
	"north": North, "n": North,
	"south": South, "s": South,
	"east": East, "e": East,
	"west": West, "w": West,
	"up": Up, "u": Up,
	"down": Down, "d": Down,
}

// ParseDirection resolves a direction word or single-letter alias.
func ParseDirection(s string) (Direction, bool) {
	d, ok := dirAliases[strings.ToLower(strings.TrimSpace(s))]
	return d, ok
}

// Visibility controls when an object is listed in a RoomView.
type Visibility int

const (
	// VisAlways lists the object unconditionally.
	VisAlways Visibility = iota
	// VisWhenRevealed lists the object once the runtime layer reveals it.
	VisWhenRevealed
	// VisWhenUnlocked lists the object once its lock is cleared.
	VisWhenUnlocked
	// VisScripted defers to designer scripts, which reveal the object
	// through the sandbox mutator surface.
	VisScripted
)

// ParseVisibility maps the blueprint file spelling to a Visibility.
func ParseVisibility(s string) Visibility {
	switch strings.ToLower(s) {
	case "when_revealed", "revealed":
		return VisWhenRevealed
	case "when_unlocked", "unlocked":
		return VisWhenUnlocked
	case "scripted", "script":
		return VisScripted
	default:
		return VisAlways
	}
}

// Blueprint is an immutable, versioned design-time template. It is never
// mutated at runtime; zones and overlays record deltas against it.
type Blueprint struct {
	Key     string
	Title   string
	Version int
	Entry   string // entry room key
	Rooms   map[string]*Room
}

// Room is one blueprint room.
type Room struct {
	Key      string
	Title    string
	Short    string
	Body     string
	Exits    []*Exit
	Objects  []*Object
	Counters map[string]int    // baseline counter values (coins, stock)
	KV       map[string]string // free-form default state
	Hints    []Hint
	Scripts  Scripts
}

// Exit is a blueprint exit. Lock state may be overridden by the runtime
// layer; the blueprint value is the default.
type Exit struct {
	Dir               Direction
	To                string // destination room key
	Locked            bool
	VisibleWhenLocked bool
	Description       string
}

// Object is a blueprint object template.
type Object struct {
	Key         string
	Name        string
	Short       string
	Description string
	Examine     string
	Nouns       []string
	Visibility  Visibility
	Takeable    bool
	Counter     string // room counter decremented when taken ("" = plain item)
	Script      string // on_use Lua source
}

// Matches reports whether noun names this object: key, name, or any
// synonym, case-insensitive, with a trailing plural "s" tolerated.
func (o *Object) Matches(noun string) bool {
	for _, candidate := range []string{noun, strings.TrimSuffix(noun, "s")} {
		if strings.EqualFold(o.Name, candidate) || strings.EqualFold(o.Key, candidate) {
			return true
		}
		for _, n := range o.Nouns {
			if strings.EqualFold(n, candidate) {
				return true
			}
		}
	}
	return false
}

// Scripts are the designer hooks attached to a room. Blueprint-only; the
// runtime layers never override script sources.
type Scripts struct {
	OnEnter   string
	OnLeave   string
	OnCommand string
}

// Empty reports whether no hook is attached.
func (s Scripts) Empty() bool {
	return s.OnEnter == "" && s.OnLeave == "" && s.OnCommand == ""
}

// Hint is optional designer guidance surfaced on a trigger.
type Hint struct {
	ID       string
	Text     string
	When     string // enter, search, manual
	Once     bool
	Cooldown int // visits between repeats; 0 = none
}

// ExitTo returns the exit leaving dir, or nil.
func (r *Room) ExitTo(dir Direction) *Exit {
	for _, e := range r.Exits {
		if e.Dir == dir {
			return e
		}
	}
	return nil
}

// ObjectByKey returns the blueprint object with the given key, or nil.
func (r *Room) ObjectByKey(key string) *Object {
	for _, o := range r.Objects {
		if o.Key == key {
			return o
		}
	}
	return nil
}
