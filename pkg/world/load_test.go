package world

import (
	"os"
	"path/filepath"
	"testing"
)

const cellarYAML = `
key: cellar
title: The Cellar
version: 3
entry: main
rooms:
  main:
    title: Dusty Cellar
    body: "A low room. {obj:torch} gutters on the wall."
    exits:
      - dir: north
        to: stairs
      - dir: east
        to: vault
        locked: true
        visible_when_locked: true
    objects:
      - key: coin
        name: coin
        short: a tarnished coin
        takeable: true
        counter: coins
      - key: lever
        name: lever
        short: a rusted lever
        visibility: when_revealed
    counters:
      coins: 10
    kv:
      mood: gloomy
    scripts:
      on_enter: |
        emit("The air is cold.")
  stairs:
    title: Stairwell
    exits:
      - dir: s
        to: main
  vault:
    title: Vault
    exits:
      - dir: west
        to: main
`

func TestParseBlueprint(t *testing.T) {
	bp, err := ParseBlueprint([]byte(cellarYAML))
	if err != nil {
		t.Fatal(err)
	}
	if bp.Key != "cellar" || bp.Version != 3 || bp.Entry != "main" {
		t.Errorf("header = %q v%d entry %q", bp.Key, bp.Version, bp.Entry)
	}
	main := bp.Rooms["main"]
	if main == nil {
		t.Fatal("room main missing")
	}
	if main.Key != "main" {
		t.Errorf("room key = %q", main.Key)
	}
	if e := main.ExitTo(East); e == nil || !e.Locked || !e.VisibleWhenLocked {
		t.Error("east exit lock flags not parsed")
	}
	if got := bp.Rooms["stairs"].ExitTo(South); got == nil {
		t.Error("single-letter direction alias not parsed")
	}
	if o := main.ObjectByKey("lever"); o == nil || o.Visibility != VisWhenRevealed {
		t.Error("object visibility not parsed")
	}
	if main.Counters["coins"] != 10 {
		t.Errorf("coins baseline = %d", main.Counters["coins"])
	}
	if main.Scripts.Empty() {
		t.Error("on_enter script dropped")
	}
}

func TestParseBlueprintBadExit(t *testing.T) {
	bad := `
key: broken
entry: a
rooms:
  a:
    title: A
    exits:
      - dir: north
        to: nowhere
`
	if _, err := ParseBlueprint([]byte(bad)); err == nil {
		t.Error("expected dangling exit to fail validation")
	}
}

func TestParseBlueprintBadDirection(t *testing.T) {
	bad := `
key: broken
entry: a
rooms:
  a:
    title: A
    exits:
      - dir: sideways
        to: a
`
	if _, err := ParseBlueprint([]byte(bad)); err == nil {
		t.Error("expected unknown direction to fail")
	}
}

func TestParseBlueprintMissingEntry(t *testing.T) {
	bad := "key: broken\nentry: ghost\nrooms:\n  a:\n    title: A\n"
	if _, err := ParseBlueprint([]byte(bad)); err == nil {
		t.Error("expected undefined entry room to fail")
	}
}

func TestParseBlueprintDuplicateObject(t *testing.T) {
	bad := `
key: broken
entry: a
rooms:
  a:
    title: A
    objects:
      - key: rock
        name: rock
      - key: rock
        name: stone
`
	if _, err := ParseBlueprint([]byte(bad)); err == nil {
		t.Error("expected duplicate object key to fail")
	}
}

func TestLibraryLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cellar.yaml"), []byte(cellarYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib, err := NewLibrary(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := lib.Keys(); len(got) != 1 || got[0] != "cellar" {
		t.Errorf("keys = %v", got)
	}
	if lib.Get("cellar") == nil {
		t.Error("Get returned nil for loaded blueprint")
	}
	if lib.Get("attic") != nil {
		t.Error("Get returned non-nil for unknown key")
	}
}
