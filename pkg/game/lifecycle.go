package game

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/port4k/port4k/pkg/scrollback"
	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/world"
)

// Game wires the command lifecycle to the world library, the durable
// store, the script engine, and the session directory.
type Game struct {
	Library  *world.Library
	Store    *store.Store    // nil disables durable writes
	Scroll   *scrollback.Log // nil disables recall
	Scripts  *script.Engine
	Registry *Registry

	mu    sync.Mutex
	zones map[string]*zoneEntry

	hookBudget time.Duration
}

type zoneEntry struct {
	rec store.ZoneRecord
	rt  *world.Runtime
}

// New creates a game engine. The store and scrollback log may be nil.
func New(lib *world.Library, st *store.Store, eng *script.Engine) *Game {
	return &Game{
		Library:    lib,
		Store:      st,
		Scripts:    eng,
		Registry:   NewRegistry(),
		zones:      make(map[string]*zoneEntry),
		hookBudget: 250 * time.Millisecond,
	}
}

// zone returns (creating and restoring if needed) the shared runtime for a
// durable mode. Live and draft zones of one blueprint are distinct layers.
func (g *Game) zone(mode Mode, blueprint string) (*world.Runtime, error) {
	key := mode.String() + ":" + blueprint
	g.mu.Lock()
	defer g.mu.Unlock()
	if z, ok := g.zones[key]; ok {
		return z.rt, nil
	}

	kind := world.KindLive
	if mode == ModeDraft {
		kind = world.KindDraft
	}
	rt := world.NewRuntime(blueprint, kind)
	rec := store.ZoneRecord{ID: rt.ID, Blueprint: blueprint, Kind: kind, Created: time.Now().UTC()}

	if g.Store != nil {
		// Reattach to a previously persisted zone of the same class.
		zones, err := g.Store.LoadZones()
		if err != nil {
			return nil, fmt.Errorf("game: load zones: %w", err)
		}
		found := false
		for _, z := range zones {
			if z.Blueprint == blueprint && z.Kind == kind {
				rec = z
				rt.ID = z.ID
				found = true
				break
			}
		}
		if !found {
			if err := g.Store.PutZone(&rec); err != nil {
				return nil, fmt.Errorf("game: create zone: %w", err)
			}
		}
		if err := g.Store.RestoreRuntime(rec, rt); err != nil {
			return nil, fmt.Errorf("game: restore zone: %w", err)
		}
	}

	g.zones[key] = &zoneEntry{rec: rec, rt: rt}
	return rt, nil
}

// runtimeFor selects the write target for the session's mode: the shared
// zone in durable modes, the session's private overlay otherwise.
func (g *Game) runtimeFor(sess *Session) (*world.Runtime, error) {
	if sess.Mode().Ephemeral() {
		ov := sess.Overlay()
		if ov == nil {
			return nil, fmt.Errorf("game: session %d has no overlay in %s mode", sess.ConnID, sess.Mode())
		}
		return ov, nil
	}
	return g.zone(sess.Mode(), sess.Blueprint())
}

// ZoneCount reports the number of instantiated shared zone runtimes.
func (g *Game) ZoneCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.zones)
}

// Execute runs one submitted line through the full lifecycle. Commands
// from one session are serialized in submission order; the connection's
// command loop is the only caller, and executeMu backstops that.
func (g *Game) Execute(sess *Session, line string) *CommandResult {
	sess.executeMu.Lock()
	defer sess.executeMu.Unlock()

	// Parse. Unparseable input is a no-verb intent, not an error.
	in := ParseIntent(line)
	if in.Empty() {
		return &CommandResult{Prompt: sess.Prompt()}
	}

	// Authorize.
	if err := g.authorize(sess, in); err != nil {
		res := textResult("You can't do that here.")
		res.Prompt = sess.Prompt()
		return res
	}

	// Resolve pronouns against the last referenced object.
	g.resolve(sess, in)

	// Snapshot: exactly one view per command.
	bp := g.Library.Get(sess.Blueprint())
	if bp == nil {
		log.Printf("[%d] no blueprint %q for session", sess.ConnID, sess.Blueprint())
		return textResult("The world has gone missing. Try again later.")
	}
	rt, err := g.runtimeFor(sess)
	if err != nil {
		log.Printf("[%d] runtime: %v", sess.ConnID, err)
		return textResult("The world has gone missing. Try again later.")
	}
	st, ver := rt.Snapshot(sess.Room())
	view, err := world.BuildView(bp, sess.Room(), st, ver)
	if err != nil {
		log.Printf("[%d] snapshot: %v", sess.ConnID, err)
		return textResult("You are nowhere. This is a bug.")
	}

	// Validate and Apply, per verb.
	out := g.dispatch(sess, in, view, bp)

	// Hooks: object script first, then the room script. A handled hook
	// suppresses the default narrative computed in Apply.
	g.runHooks(sess, in, view, out)

	// Designer hints for the room the command ended in.
	g.applyHints(sess, out)

	// Render.
	res := g.render(sess, out)

	// Commit.
	g.commit(sess, rt, view, out, res)
	return res
}

// authorize rejects builder verbs outside authoring contexts. Gameplay
// verbs pass through; unknown verbs are routed later by mode.
func (g *Game) authorize(sess *Session, in *Intent) error {
	switch in.Verb {
	case "@draft", "@live":
		if !sess.Admin() {
			return ErrDenied
		}
	}
	return nil
}

// resolve substitutes pronouns with the session's last referenced object.
// Unresolved nouns stay as typed; Validate reports them.
func (g *Game) resolve(sess *Session, in *Intent) {
	ref := sess.LastRef()
	for i, obj := range in.Objects {
		if (obj == "it" || obj == "them" || obj == "that") && ref != "" {
			in.Objects[i] = ref
		}
	}
	if (in.Indirect == "it" || in.Indirect == "them") && ref != "" {
		in.Indirect = ref
	}
}

// outcome carries Apply-stage results into Hooks, Render, and Commit.
type outcome struct {
	in      *Intent
	view    *world.RoomView
	text    string
	delta   *world.Delta
	inv     *InventoryDelta
	notify  []Notice
	room    []string // lines for others in the room at commit
	moved   bool
	from    string
	unknown bool // verb had no handler, may fall through to the sandbox
	quit    bool

	// Session effects staged in Apply and installed only after a
	// successful commit, so a failed durable write leaves the session
	// exactly as it was.
	coins   int      // balance delta
	gained  []string // inventory keys added
	shed    []string // inventory keys removed
	lastRef string   // pronoun referent, "" leaves it alone

	handled     bool     // a hook claimed the command
	hookEmits   []string // session-directed script output
	hookRoom    []string // room-directed script output
	hookErrText string   // surfaced raw error in authoring modes
}

func (g *Game) render(sess *Session, out *outcome) *CommandResult {
	var parts []string
	if out.hookErrText != "" {
		parts = append(parts, out.hookErrText)
	}
	if out.text != "" && !out.handled {
		parts = append(parts, out.text)
	}
	parts = append(parts, out.hookEmits...)
	if len(parts) == 0 && !out.quit {
		parts = append(parts, "Nothing happens.")
	}

	res := &CommandResult{
		Text:   strings.Join(parts, "\n"),
		Notify: out.notify,
		Prompt: sess.Prompt(),
		Quit:   out.quit,
	}
	if out.delta != nil && !out.delta.Empty() {
		res.Diffs = out.delta
	}
	res.Inventory = out.inv
	return res
}

// commit applies the staged delta to the mode's write target, persists it
// for durable modes, and notifies other sessions in the affected rooms.
// On a failed durable write nothing is installed, the staged session
// effects are discarded, and the result is rewritten to report the
// failure.
func (g *Game) commit(sess *Session, rt *world.Runtime, view *world.RoomView, out *outcome, res *CommandResult) {
	delta := out.delta
	if delta == nil {
		delta = &world.Delta{Room: view.Room}
	}
	durable := g.Store != nil && rt.Persistent()

	fail := func(err error) {
		log.Printf("[%d] commit failed: %v", sess.ConnID, err)
		*res = CommandResult{Text: ErrCommitFailed.Error(), Prompt: sess.Prompt()}
		// Movement is the one effect already visible on the session.
		if out.moved {
			sess.MoveTo(out.from)
		}
	}

	if delta.Empty() && durable && (out.moved || out.coins != 0 || len(out.gained)+len(out.shed) > 0) {
		// ApplyWith short-circuits on an empty delta and never calls
		// persist, but the session's position or books changed and the
		// account needs its own durable write.
		txn := g.Store.Begin()
		if acct := sess.SyncAccount(out.coins, out.gained, out.shed); acct != nil {
			txn.StageAccount(acct)
		}
		if err := txn.Commit(); err != nil {
			fail(err)
			return
		}
	}

	var persist func(world.RoomState) error
	if durable {
		zoneID := rt.ID
		room := delta.Room
		persist = func(st world.RoomState) error {
			txn := g.Store.Begin()
			txn.StageRoomState(zoneID, room, st)
			if acct := sess.SyncAccount(out.coins, out.gained, out.shed); acct != nil {
				txn.StageAccount(acct)
			}
			return txn.Commit()
		}
	}

	ver, err := rt.ApplyWith(delta, persist)
	if err != nil {
		fail(err)
		return
	}
	res.Version = ver
	sess.InstallEffects(out.coins, out.gained, out.shed, out.lastRef)

	scope := sess.Scope()
	for _, line := range append(out.room, out.hookRoom...) {
		g.Registry.Notify(scope, view.Room, sess, line)
	}
	if out.moved {
		g.Registry.Notify(scope, out.from, sess, sess.Name()+" leaves.")
		g.Registry.Notify(scope, sess.Room(), sess, sess.Name()+" arrives.")
		g.Registry.Move(sess, scope, out.from)
	}
}

// runHooks dispatches designer scripts for this command: the targeted
// object's script before the room's, movement hooks for both rooms.
// Script deltas fold into the command delta so they commit atomically
// with it.
func (g *Game) runHooks(sess *Session, in *Intent, view *world.RoomView, out *outcome) {
	if g.Scripts == nil {
		return
	}
	// Live mode rejects unknown verbs outright; only authoring modes
	// forward them to designer scripts.
	if out.unknown && sess.Mode() == ModeLive {
		return
	}

	type hookRun struct {
		source string
		hook   script.Hook
		object string
	}
	var runs []hookRun

	if out.moved {
		if src, ok := script.Normalize(view.Scripts.OnLeave); ok {
			runs = append(runs, hookRun{source: src, hook: script.HookLeave})
		}
	} else {
		// Object script takes precedence over the room script. An
		// ambiguous noun fires no object hook.
		if obj, err := findObject(sess, view, in.Direct()); err == nil {
			if src, ok := script.Normalize(obj.Script); ok {
				runs = append(runs, hookRun{source: src, hook: script.HookUse, object: obj.Key})
			}
		}
		if src, ok := script.Normalize(view.Scripts.OnCommand); ok {
			runs = append(runs, hookRun{source: src, hook: script.HookCommand})
		}
	}

	hookName := func(h script.Hook) script.Hook {
		// Authoring modes get the playtest variants so designer scripts
		// can branch on context.
		if sess.Mode() != ModeLive {
			return h + "_playtest"
		}
		return h
	}

	for _, r := range runs {
		if out.handled {
			break
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.hookBudget)
		sr := g.Scripts.Run(ctx, script.Job{
			Source:  r.source,
			Hook:    hookName(r.hook),
			Account: sess.Name(),
			Room:    view,
			Verb:    in.Verb,
			Noun:    in.Direct(),
			Raw:     in.Raw,
			Object:  r.object,
		})
		cancel()
		g.foldScriptResult(sess, out, sr)
	}

	// Movement also fires the destination room's entry hook against a
	// fresh view of that room.
	if out.moved {
		g.runEnterHook(sess, out)
	}
}

// runEnterHook fires on_enter for the room the session just moved into.
func (g *Game) runEnterHook(sess *Session, out *outcome) {
	bp := g.Library.Get(sess.Blueprint())
	if bp == nil {
		return
	}
	room, ok := bp.Rooms[sess.Room()]
	if !ok {
		return
	}
	src, ok := script.Normalize(room.Scripts.OnEnter)
	if !ok {
		return
	}
	rt, err := g.runtimeFor(sess)
	if err != nil {
		return
	}
	st, ver := rt.Snapshot(sess.Room())
	view, err := world.BuildView(bp, sess.Room(), st, ver)
	if err != nil {
		return
	}
	hook := script.HookEnter
	if sess.Mode() != ModeLive {
		hook += "_playtest"
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.hookBudget)
	sr := g.Scripts.Run(ctx, script.Job{
		Source:  src,
		Hook:    hook,
		Account: sess.Name(),
		Room:    view,
	})
	cancel()
	// Entry hooks decorate arrival text; they never suppress it.
	sr.Handled = false
	g.foldScriptResult(sess, out, sr)
}

// foldScriptResult merges one sandbox result into the outcome, honoring
// the per-mode error policy.
func (g *Game) foldScriptResult(sess *Session, out *outcome, sr *script.Result) {
	if sr.Err != nil {
		if sess.Mode() == ModeLive {
			// Logged and treated as not handled; the default behavior
			// still completes.
			log.Printf("[%d] script error: %v", sess.ConnID, sr.Err)
		} else {
			out.hookErrText = "script error: " + sr.Err.Error()
		}
		return
	}
	if sr.Handled {
		out.handled = true
	}
	out.hookEmits = append(out.hookEmits, sr.Emits...)
	out.hookRoom = append(out.hookRoom, sr.RoomEmits...)
	if !sr.Delta.Empty() {
		if out.delta == nil {
			out.delta = &world.Delta{Room: sr.Delta.Room}
		}
		mergeDeltas(out.delta, &sr.Delta)
	}
}

// mergeDeltas folds src into dst field by field.
func mergeDeltas(dst, src *world.Delta) {
	if len(src.Consume) > 0 {
		if dst.Consume == nil {
			dst.Consume = make(map[string]int)
		}
		for k, v := range src.Consume {
			dst.Consume[k] += v
		}
	}
	dst.Remove = append(dst.Remove, src.Remove...)
	dst.Spawn = append(dst.Spawn, src.Spawn...)
	dst.Reveal = append(dst.Reveal, src.Reveal...)
	dst.Unlock = append(dst.Unlock, src.Unlock...)
	if len(src.SetExitLock) > 0 {
		if dst.SetExitLock == nil {
			dst.SetExitLock = make(map[world.Direction]bool)
		}
		for k, v := range src.SetExitLock {
			dst.SetExitLock[k] = v
		}
	}
	if len(src.SetKV) > 0 {
		if dst.SetKV == nil {
			dst.SetKV = make(map[string]string)
		}
		for k, v := range src.SetKV {
			dst.SetKV[k] = v
		}
	}
}
