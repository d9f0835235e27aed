package world

import (
	"strings"
	"testing"
)

func cellarBlueprint() *Blueprint {
	return &Blueprint{
		Key:   "cellar",
		Title: "The Cellar",
		Entry: "main",
		Rooms: map[string]*Room{
			"main": {
				Key:   "main",
				Title: "Dusty Cellar",
				Body:  "A low room. {obj:torch} gutters on the wall.",
				Exits: []*Exit{
					{Dir: North, To: "stairs"},
					{Dir: East, To: "vault", Locked: true, VisibleWhenLocked: true},
					{Dir: Down, To: "crawlspace", Locked: true},
				},
				Objects: []*Object{
					{Key: "coin", Name: "coin", Short: "a tarnished coin", Counter: "coins"},
					{Key: "torch", Name: "torch", Short: "a sputtering torch"},
					{Key: "lever", Name: "lever", Short: "a rusted lever", Visibility: VisWhenRevealed},
				},
				Counters: map[string]int{"coins": 10},
				KV:       map[string]string{"mood": "gloomy"},
			},
		},
	}
}

func TestBuildViewBaseline(t *testing.T) {
	bp := cellarBlueprint()
	v, err := BuildView(bp, "main", RoomState{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if v.Title != "Dusty Cellar" {
		t.Errorf("title = %q", v.Title)
	}
	if got := v.ObjectNames(); len(got) != 2 || got[0] != "coin" || got[1] != "torch" {
		t.Errorf("objects = %v, want [coin torch]", got)
	}
	if v.Counter("coins") != 10 {
		t.Errorf("coins = %d, want 10", v.Counter("coins"))
	}
	if v.KV["mood"] != "gloomy" {
		t.Errorf("mood = %q", v.KV["mood"])
	}
}

func TestBuildViewConsumedCounter(t *testing.T) {
	bp := cellarBlueprint()
	st := RoomState{Consumed: map[string]int{"coins": 2}}
	v, err := BuildView(bp, "main", st, 3)
	if err != nil {
		t.Fatal(err)
	}
	// Taking coins depletes the counter but the stack object remains listed.
	if got := v.ObjectNames(); len(got) != 2 || got[0] != "coin" || got[1] != "torch" {
		t.Errorf("objects = %v, want [coin torch]", got)
	}
	if v.Counter("coins") != 8 {
		t.Errorf("coins = %d, want 8", v.Counter("coins"))
	}
	if v.Version != 3 {
		t.Errorf("version = %d, want 3", v.Version)
	}
}

func TestBuildViewCounterNeverNegative(t *testing.T) {
	bp := cellarBlueprint()
	st := RoomState{Consumed: map[string]int{"coins": 99}}
	v, _ := BuildView(bp, "main", st, 0)
	if v.Counter("coins") != 0 {
		t.Errorf("coins = %d, want 0", v.Counter("coins"))
	}
}

func TestBuildViewRemovedAndSpawned(t *testing.T) {
	bp := cellarBlueprint()
	st := RoomState{
		Removed: map[string]bool{"torch": true},
		Spawned: []*Object{{Key: "rat", Name: "rat", Short: "a fat rat"}},
	}
	v, _ := BuildView(bp, "main", st, 0)
	got := v.ObjectNames()
	if len(got) != 2 || got[0] != "coin" || got[1] != "rat" {
		t.Errorf("objects = %v, want [coin rat]", got)
	}
}

func TestBuildViewRevealedVisibility(t *testing.T) {
	bp := cellarBlueprint()
	if v, _ := BuildView(bp, "main", RoomState{}, 0); v.ObjectByNoun("lever") != nil {
		t.Error("hidden lever visible before reveal")
	}
	st := RoomState{Revealed: map[string]bool{"lever": true}}
	v, _ := BuildView(bp, "main", st, 0)
	if v.ObjectByNoun("lever") == nil {
		t.Error("lever not visible after reveal")
	}
}

func TestBuildViewExitLocking(t *testing.T) {
	bp := cellarBlueprint()
	v, _ := BuildView(bp, "main", RoomState{}, 0)

	// Down is locked and not visible-when-locked: absent from the list.
	if v.ExitTo(Down) != nil {
		t.Error("locked invisible exit listed")
	}
	// East is locked but visible-when-locked: listed, unusable.
	east := v.ExitTo(East)
	if east == nil {
		t.Fatal("visible locked exit missing")
	}
	if east.Usable {
		t.Error("locked exit reported usable")
	}

	// Runtime unlock override flips usability.
	st := RoomState{ExitLocks: map[Direction]bool{East: false, North: true}}
	v, _ = BuildView(bp, "main", st, 0)
	if e := v.ExitTo(East); e == nil || !e.Usable {
		t.Error("unlocked override not applied")
	}
	if v.ExitTo(North) != nil {
		t.Error("runtime-locked exit still listed")
	}
}

func TestBuildViewIdentityWithoutOverrides(t *testing.T) {
	bp := cellarBlueprint()
	v, _ := BuildView(bp, "main", RoomState{}, 0)
	room := bp.Rooms["main"]
	if v.Body != room.Body || v.Title != room.Title {
		t.Error("un-overridden fields diverge from blueprint")
	}
	if v.Counter("coins") != room.Counters["coins"] {
		t.Error("un-overridden counter diverges from blueprint")
	}
}

func TestBuildViewKVOverride(t *testing.T) {
	bp := cellarBlueprint()
	st := RoomState{KV: map[string]string{"mood": "tense", "alarm": "on"}}
	v, _ := BuildView(bp, "main", st, 0)
	if v.KV["mood"] != "tense" || v.KV["alarm"] != "on" {
		t.Errorf("kv = %v", v.KV)
	}
}

func TestRenderBodyInterpolation(t *testing.T) {
	bp := cellarBlueprint()
	v, _ := BuildView(bp, "main", RoomState{}, 0)
	body := v.RenderBody()
	if !strings.Contains(body, "a sputtering torch") {
		t.Errorf("body = %q, want torch short description", body)
	}
	if strings.Contains(body, "{obj:") {
		t.Errorf("unresolved reference in %q", body)
	}
}

func TestRenderBodyUnknownRef(t *testing.T) {
	bp := cellarBlueprint()
	bp.Rooms["main"].Body = "Something about {obj:ghost} here."
	v, _ := BuildView(bp, "main", RoomState{}, 0)
	if got := v.RenderBody(); !strings.Contains(got, "ghost") {
		t.Errorf("body = %q, want raw key fallback", got)
	}
}

func TestBuildViewUnknownRoom(t *testing.T) {
	bp := cellarBlueprint()
	if _, err := BuildView(bp, "attic", RoomState{}, 0); err == nil {
		t.Error("expected error for unknown room")
	}
}

func TestObjectByNounSynonyms(t *testing.T) {
	bp := cellarBlueprint()
	bp.Rooms["main"].Objects[1].Nouns = []string{"brand", "light"}
	v, _ := BuildView(bp, "main", RoomState{}, 0)
	if o := v.ObjectByNoun("brand"); o == nil || o.Key != "torch" {
		t.Error("synonym lookup failed")
	}
	if o := v.ObjectByNoun("TORCH"); o == nil {
		t.Error("noun match should be case-insensitive")
	}
}

func TestDescribeListsExitsAndObjects(t *testing.T) {
	bp := cellarBlueprint()
	v, _ := BuildView(bp, "main", RoomState{}, 0)
	out := v.Describe()
	for _, want := range []string{"Dusty Cellar", "You see:", "coin", "Exits:", "north", "east (locked)"} {
		if !strings.Contains(out, want) {
			t.Errorf("describe missing %q in %q", want, out)
		}
	}
}
