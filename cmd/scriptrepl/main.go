package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/world"
)

// scriptrepl evaluates hook snippets in the same sandbox the server uses,
// against a real room view, so designers can test scripts without a
// running server.
func main() {
	dir := flag.String("dir", "", "Path to a blueprint YAML directory")
	roomRef := flag.String("room", "", "Room context as blueprint/room (default: first blueprint's entry)")
	expr := flag.String("e", "", "Snippet to evaluate (non-interactive mode)")
	batch := flag.String("batch", "", "File with snippets to evaluate (one per line)")
	budget := flag.Int("budget", 250, "Per-snippet budget in milliseconds")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: scriptrepl -dir <blueprint-dir> [-room bp/room] [-e <snippet>]")
		os.Exit(1)
	}

	lib, err := world.NewLibrary(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading blueprints: %v\n", err)
		os.Exit(1)
	}
	view, err := resolveRoom(lib, *roomRef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Room context: %s (%s)\n", view.Room, view.Title)

	eng := script.NewEngine(2, time.Duration(*budget)*time.Millisecond)
	defer eng.Close()

	run := func(src string) {
		res := eng.Run(context.Background(), script.Job{
			Source:  src,
			Hook:    script.HookCommand,
			Account: "repl",
			Room:    view,
			Verb:    "repl",
			Raw:     src,
		})
		for _, line := range res.Emits {
			fmt.Println(line)
		}
		for _, line := range res.RoomEmits {
			fmt.Printf("(room) %s\n", line)
		}
		if res.Err != nil {
			fmt.Printf("error: %v\n", res.Err)
			return
		}
		if !res.Delta.Empty() {
			fmt.Printf("delta: %+v\n", res.Delta)
		}
		if res.Handled {
			fmt.Println("handled: true")
		}
	}

	switch {
	case *expr != "":
		run(*expr)
	case *batch != "":
		f, err := os.Open(*batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening batch file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "--") {
				continue
			}
			fmt.Printf("> %s\n", line)
			run(line)
		}
	default:
		fmt.Fprintln(os.Stderr, "Interactive sandbox. Ctrl-D to exit.")
		sc := bufio.NewScanner(os.Stdin)
		fmt.Print("lua> ")
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line != "" {
				run(line)
			}
			fmt.Print("lua> ")
		}
		fmt.Println()
	}
}

func resolveRoom(lib *world.Library, ref string) (*world.RoomView, error) {
	var bp *world.Blueprint
	roomKey := ""
	if ref != "" {
		bpKey, rk, ok := strings.Cut(ref, "/")
		if !ok {
			return nil, fmt.Errorf("-room wants blueprint/room, got %q", ref)
		}
		bp = lib.Get(bpKey)
		if bp == nil {
			return nil, fmt.Errorf("no blueprint %q", bpKey)
		}
		roomKey = rk
	} else {
		keys := lib.Keys()
		if len(keys) == 0 {
			return nil, fmt.Errorf("no blueprints loaded")
		}
		bp = lib.Get(keys[0])
		roomKey = bp.Entry
	}
	return world.BuildView(bp, roomKey, world.RoomState{}, 0)
}
