package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/world"
)

func main() {
	dir := flag.String("dir", "", "Path to a blueprint YAML directory")
	showRoom := flag.String("room", "", "Show details for one room (blueprint/room)")
	lintScripts := flag.Bool("lint-scripts", false, "Run every hook once in the sandbox and report errors")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: bpcheck -dir <blueprint-dir> [options]")
		fmt.Fprintln(os.Stderr, "  -room <bp/room>  Show one room in detail")
		fmt.Fprintln(os.Stderr, "  -lint-scripts    Execute each hook once in the sandbox")
		os.Exit(1)
	}

	start := time.Now()
	lib, err := world.NewLibrary(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
	keys := lib.Keys()
	if len(keys) == 0 {
		fmt.Fprintf(os.Stderr, "ERROR: no blueprints in %s\n", *dir)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d blueprints in %v\n\n", len(keys), time.Since(start))

	failed := false
	for _, key := range keys {
		bp := lib.Get(key)
		fmt.Printf("%s: %q, entry %s, %d rooms\n", bp.Key, bp.Title, bp.Entry, len(bp.Rooms))
		if err := bp.Validate(); err != nil {
			fmt.Printf("  INVALID: %v\n", err)
			failed = true
			continue
		}
		printRooms(bp)
	}

	if *showRoom != "" {
		if !printRoomDetail(lib, *showRoom) {
			failed = true
		}
	}
	if *lintScripts {
		if !lintAll(lib) {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func printRooms(bp *world.Blueprint) {
	keys := make([]string, 0, len(bp.Rooms))
	for k := range bp.Rooms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r := bp.Rooms[k]
		hooks := 0
		if r.Scripts.OnEnter != "" {
			hooks++
		}
		if r.Scripts.OnLeave != "" {
			hooks++
		}
		if r.Scripts.OnCommand != "" {
			hooks++
		}
		fmt.Printf("  %-16s %d objects, %d exits, %d hooks, %d hints\n",
			k, len(r.Objects), len(r.Exits), hooks, len(r.Hints))
	}
}

func printRoomDetail(lib *world.Library, ref string) bool {
	bpKey, roomKey, ok := strings.Cut(ref, "/")
	if !ok {
		fmt.Fprintf(os.Stderr, "ERROR: -room wants blueprint/room, got %q\n", ref)
		return false
	}
	bp := lib.Get(bpKey)
	if bp == nil {
		fmt.Fprintf(os.Stderr, "ERROR: no blueprint %q\n", bpKey)
		return false
	}
	view, err := world.BuildView(bp, roomKey, world.RoomState{}, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		return false
	}
	fmt.Printf("\n%s\n", view.Describe())
	for name, base := range view.Counters {
		fmt.Printf("counter %s = %d\n", name, base)
	}
	return true
}

// lintAll runs every hook once against its room's baseline view. A hook
// that errors or times out here will do the same in production.
func lintAll(lib *world.Library) bool {
	eng := script.NewEngine(2, 100*time.Millisecond)
	defer eng.Close()

	clean := true
	for _, key := range lib.Keys() {
		bp := lib.Get(key)
		for roomKey, room := range bp.Rooms {
			view, err := world.BuildView(bp, roomKey, world.RoomState{}, 0)
			if err != nil {
				fmt.Printf("LINT %s/%s: %v\n", key, roomKey, err)
				clean = false
				continue
			}
			hooks := map[script.Hook]string{
				script.HookEnter:   room.Scripts.OnEnter,
				script.HookLeave:   room.Scripts.OnLeave,
				script.HookCommand: room.Scripts.OnCommand,
			}
			for _, obj := range room.Objects {
				if obj.Script != "" {
					hooks[script.HookUse] = obj.Script
				}
			}
			for hook, src := range hooks {
				if src == "" {
					continue
				}
				res := eng.Run(context.Background(), script.Job{
					Source:  src,
					Hook:    hook,
					Account: "bpcheck",
					Room:    view,
					Verb:    "look",
					Raw:     "look",
				})
				if res.Err != nil {
					fmt.Printf("LINT %s/%s %s: %v\n", key, roomKey, hook, res.Err)
					clean = false
				}
			}
		}
	}
	if clean {
		fmt.Println("All hooks ran clean.")
	}
	return clean
}
