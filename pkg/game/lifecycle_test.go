package game

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/world"
)

func testBlueprint() *world.Blueprint {
	return &world.Blueprint{
		Key:   "cellar",
		Title: "The Cellar",
		Entry: "main",
		Rooms: map[string]*world.Room{
			"main": {
				Key:   "main",
				Title: "Dusty Cellar",
				Body:  "A low room.",
				Exits: []*world.Exit{
					{Dir: world.North, To: "stairs"},
					{Dir: world.East, To: "vault", Locked: true, VisibleWhenLocked: true},
				},
				Objects: []*world.Object{
					{Key: "coin", Name: "coin", Short: "a tarnished coin", Takeable: true, Counter: "coins"},
					{Key: "torch", Name: "torch", Short: "a sputtering torch", Takeable: true},
					{Key: "altar", Name: "altar", Short: "a stone altar"},
					{Key: "lever", Name: "lever", Short: "a rusted lever", Visibility: world.VisWhenRevealed},
				},
				Counters: map[string]int{"coins": 10},
			},
			"stairs": {
				Key:   "stairs",
				Title: "Stairwell",
				Exits: []*world.Exit{{Dir: world.South, To: "main"}},
			},
			"vault": {
				Key:   "vault",
				Title: "Vault",
				Exits: []*world.Exit{{Dir: world.West, To: "main"}},
			},
		},
	}
}

func newTestGame(t *testing.T) *Game {
	t.Helper()
	eng := script.NewEngine(2, 200*time.Millisecond)
	t.Cleanup(eng.Close)
	return New(world.NewStaticLibrary(testBlueprint()), nil, eng)
}

func newTestSession(t *testing.T, g *Game, name string) *Session {
	t.Helper()
	sess := NewSession(1, nil)
	sess.Activate(&store.Account{Name: name}, "cellar", "main")
	g.Registry.Join(sess)
	t.Cleanup(func() { g.Registry.Leave(sess, sess.Scope(), sess.Room()) })
	return sess
}

func TestLookDescribesRoom(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")
	res := g.Execute(sess, "look")
	for _, want := range []string{"Dusty Cellar", "coin", "torch", "east (locked)"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("look output missing %q:\n%s", want, res.Text)
		}
	}
	if strings.Contains(res.Text, "lever") {
		t.Error("hidden object listed before reveal")
	}
	if res.Prompt == "" {
		t.Error("no prompt")
	}
}

func TestMovementAndLockedExit(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "east")
	if !strings.Contains(res.Text, "locked") {
		t.Errorf("locked exit: %q", res.Text)
	}
	if sess.Room() != "main" {
		t.Error("session moved through a locked exit")
	}

	res = g.Execute(sess, "north")
	if sess.Room() != "stairs" {
		t.Errorf("room = %q", sess.Room())
	}
	if !strings.Contains(res.Text, "Stairwell") {
		t.Errorf("arrival text: %q", res.Text)
	}

	res = g.Execute(sess, "go west")
	if !strings.Contains(res.Text, "can't go") {
		t.Errorf("missing exit: %q", res.Text)
	}
}

func TestTakeCountersAndBalance(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "take 2 coins")
	if !strings.Contains(res.Text, "You take 2 coin") {
		t.Errorf("take text: %q", res.Text)
	}
	if sess.Balance() != 2 {
		t.Errorf("balance = %d", sess.Balance())
	}
	if res.Diffs == nil || res.Diffs.Consume["coins"] != 2 {
		t.Errorf("diffs = %+v", res.Diffs)
	}

	// The stack stays listed; the counter drops.
	res = g.Execute(sess, "look")
	if !strings.Contains(res.Text, "coin") {
		t.Error("coin stack vanished")
	}

	res = g.Execute(sess, "balance")
	if !strings.Contains(res.Text, "2 coins") {
		t.Errorf("balance text: %q", res.Text)
	}

	// Draining the rest hits the floor, never negative.
	g.Execute(sess, "take 50 coins")
	if sess.Balance() != 10 {
		t.Errorf("balance after drain = %d", sess.Balance())
	}
	res = g.Execute(sess, "take coin")
	if !strings.Contains(res.Text, "none left") {
		t.Errorf("depleted text: %q", res.Text)
	}
}

func TestTakeDropInventory(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "take torch")
	if !sess.Carrying("torch") {
		t.Fatal("torch not in inventory")
	}
	if res.Inventory == nil || len(res.Inventory.Added) != 1 {
		t.Errorf("inventory delta = %+v", res.Inventory)
	}

	res = g.Execute(sess, "look")
	if strings.Contains(res.Text, "torch") {
		t.Error("taken object still listed")
	}

	res = g.Execute(sess, "inventory")
	if !strings.Contains(res.Text, "sputtering torch") {
		t.Errorf("inventory text: %q", res.Text)
	}

	res = g.Execute(sess, "drop torch")
	if sess.Carrying("torch") {
		t.Error("torch still carried after drop")
	}
	res = g.Execute(sess, "look")
	if !strings.Contains(res.Text, "torch") {
		t.Error("dropped object not listed")
	}
}

func TestTakePreconditions(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "take altar")
	if !strings.Contains(res.Text, "can't take") {
		t.Errorf("fixed scenery: %q", res.Text)
	}
	res = g.Execute(sess, "take ghost")
	if !strings.Contains(res.Text, "don't see") {
		t.Errorf("missing object: %q", res.Text)
	}
	res = g.Execute(sess, "drop torch")
	if !strings.Contains(res.Text, "aren't carrying") {
		t.Errorf("not carried: %q", res.Text)
	}
}

func TestSearchRevealsAndPronoun(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "search")
	if !strings.Contains(res.Text, "rusted lever") {
		t.Errorf("search: %q", res.Text)
	}
	res = g.Execute(sess, "examine lever")
	if !strings.Contains(res.Text, "nothing special") {
		t.Errorf("examine revealed object: %q", res.Text)
	}
	// "it" now refers to the lever.
	res = g.Execute(sess, "examine it")
	if !strings.Contains(res.Text, "lever") {
		t.Errorf("pronoun resolution: %q", res.Text)
	}
}

func TestUnknownVerbRoutingByMode(t *testing.T) {
	bp := testBlueprint()
	bp.Rooms["main"].Scripts.OnCommand = `if ctx.verb == "dance" then
  emit("You bust a move. (" .. ctx.hook .. ")")
  return true
end`
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(bp), nil, eng)
	sess := newTestSession(t, g, "alice")

	// Live mode: unknown verbs never reach the sandbox.
	res := g.Execute(sess, "dance")
	if !strings.Contains(res.Text, "Huh?") {
		t.Errorf("live unknown verb: %q", res.Text)
	}

	// Playtest forwards to the script with the playtest hook variant.
	g.Execute(sess, "@playtest")
	res = g.Execute(sess, "dance")
	if !strings.Contains(res.Text, "bust a move") {
		t.Errorf("playtest unknown verb: %q", res.Text)
	}
	if !strings.Contains(res.Text, "on_command_playtest") {
		t.Errorf("hook variant: %q", res.Text)
	}
}

func TestHookObjectBeforeRoom(t *testing.T) {
	bp := testBlueprint()
	bp.Rooms["main"].Objects[2].Script = `if ctx.verb == "touch" then
  emit("The altar hums.")
  return true
end`
	bp.Rooms["main"].Scripts.OnCommand = `emit("The room notices.")
return true`
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(bp), nil, eng)
	sess := newTestSession(t, g, "alice")
	g.Execute(sess, "@playtest")

	res := g.Execute(sess, "touch altar")
	if !strings.Contains(res.Text, "altar hums") {
		t.Errorf("object hook did not run: %q", res.Text)
	}
	// The object hook handled it; the room hook never fires.
	if strings.Contains(res.Text, "room notices") {
		t.Errorf("room hook ran after object hook handled: %q", res.Text)
	}
}

func TestScriptErrorPolicyByMode(t *testing.T) {
	bp := testBlueprint()
	bp.Rooms["main"].Scripts.OnCommand = `error("designer bug")`
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(bp), nil, eng)
	sess := newTestSession(t, g, "alice")

	// Live: logged, default behavior completes.
	res := g.Execute(sess, "search")
	if strings.Contains(res.Text, "designer bug") {
		t.Errorf("live mode surfaced raw script error: %q", res.Text)
	}
	if !strings.Contains(res.Text, "lever") {
		t.Errorf("default behavior suppressed: %q", res.Text)
	}

	// Playtest: raw error surfaced for debugging.
	g.Execute(sess, "@playtest")
	res = g.Execute(sess, "look")
	if !strings.Contains(res.Text, "designer bug") {
		t.Errorf("playtest hid script error: %q", res.Text)
	}
}

func TestPlaytestIsolation(t *testing.T) {
	g := newTestGame(t)
	tester := newTestSession(t, g, "alice")
	liver := newTestSession(t, g, "bob")

	g.Execute(tester, "@playtest")
	g.Execute(tester, "take torch")
	g.Execute(tester, "take 5 coins")

	// Live view unchanged.
	res := g.Execute(liver, "look")
	if !strings.Contains(res.Text, "torch") {
		t.Error("playtest take leaked into live")
	}
	rt, err := g.zone(ModeLive, "cellar")
	if err != nil {
		t.Fatal(err)
	}
	st, _ := rt.Snapshot("main")
	if st.Consumed["coins"] != 0 {
		t.Error("playtest consumption leaked into live zone")
	}

	// Leaving playtest discards the overlay entirely.
	overlay := tester.Overlay()
	if overlay == nil {
		t.Fatal("no overlay in playtest mode")
	}
	g.Execute(tester, "@live")
	if tester.Overlay() != nil {
		t.Error("overlay survived mode switch")
	}
	res = g.Execute(tester, "look")
	if !strings.Contains(res.Text, "torch") {
		t.Error("live view wrong after leaving playtest")
	}
}

func TestDraftIsolatedFromLive(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")
	admin := sess.Account()
	admin.Admin = true

	g.Execute(sess, "@draft")
	g.Execute(sess, "take torch")

	live, _ := g.zone(ModeLive, "cellar")
	draft, _ := g.zone(ModeDraft, "cellar")
	if st, _ := live.Snapshot("main"); st.Removed["torch"] {
		t.Error("draft write leaked into live zone")
	}
	if st, _ := draft.Snapshot("main"); !st.Removed["torch"] {
		t.Error("draft write missing from draft zone")
	}
}

func TestModeSwitchRequiresBuilder(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")
	res := g.Execute(sess, "@draft")
	if !strings.Contains(res.Text, "can't do that") {
		t.Errorf("non-builder @draft: %q", res.Text)
	}
	if sess.Mode() != ModeLive {
		t.Error("mode changed despite denial")
	}
	// @playtest is open to everyone.
	g.Execute(sess, "@playtest")
	if sess.Mode() != ModePlaytest {
		t.Error("@playtest denied")
	}
}

func TestCommandSerializationPerSession(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	// Hammer the same counter from many goroutines on one session. Total
	// consumption must be exactly the baseline despite the race.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Execute(sess, "take coin")
		}()
	}
	wg.Wait()

	rt, _ := g.zone(ModeLive, "cellar")
	st, _ := rt.Snapshot("main")
	if st.Consumed["coins"] != 10 {
		t.Errorf("consumed = %d, want exactly the baseline", st.Consumed["coins"])
	}
	if sess.Balance() != 10 {
		t.Errorf("balance = %d", sess.Balance())
	}
}

func TestConcurrentSessionsSharedCounter(t *testing.T) {
	g := newTestGame(t)
	var sessions []*Session
	for i := 0; i < 5; i++ {
		sessions = append(sessions, newTestSession(t, g, fmt.Sprintf("p%d", i)))
	}
	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				g.Execute(s, "take coin")
			}
		}(s)
	}
	wg.Wait()

	// Commands interleave across sessions; the system promises a clamped
	// counter and books that balance out, not global serialization.
	rt, _ := g.zone(ModeLive, "cellar")
	st, ver := rt.Snapshot("main")
	bp := g.Library.Get("cellar")
	view, err := world.BuildView(bp, "main", st, ver)
	if err != nil {
		t.Fatal(err)
	}
	if view.Counter("coins") != 0 {
		t.Errorf("resolved counter = %d, want 0", view.Counter("coins"))
	}
	total := 0
	for _, s := range sessions {
		total += s.Balance()
	}
	if total != st.Consumed["coins"] {
		t.Errorf("balances total %d but zone consumed %d", total, st.Consumed["coins"])
	}
}

func TestDurableCommitPersists(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir + "/game.db")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(testBlueprint()), st, eng)

	acct, err := st.CreateAccount("alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	sess := NewSession(1, nil)
	sess.Activate(acct, "cellar", "main")
	g.Registry.Join(sess)

	g.Execute(sess, "take 4 coins")

	// The room state and account balance are on disk.
	zones, err := st.LoadZones()
	if err != nil || len(zones) != 1 {
		t.Fatalf("zones = %v err = %v", zones, err)
	}
	states, err := st.LoadRoomStates(zones[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if states["main"].Consumed["coins"] != 4 {
		t.Errorf("persisted consumed = %d", states["main"].Consumed["coins"])
	}
	saved, _ := st.GetAccount("alice")
	if saved.Balance != 4 {
		t.Errorf("persisted balance = %d", saved.Balance)
	}

	// A fresh engine on the same store restores the zone.
	g2 := New(world.NewStaticLibrary(testBlueprint()), st, eng)
	rt, err := g2.zone(ModeLive, "cellar")
	if err != nil {
		t.Fatal(err)
	}
	if rtst, _ := rt.Snapshot("main"); rtst.Consumed["coins"] != 4 {
		t.Errorf("restored consumed = %d", rtst.Consumed["coins"])
	}
}

func TestFailedCommitLeavesSessionUnchanged(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir + "/game.db")
	if err != nil {
		t.Fatal(err)
	}
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(testBlueprint()), st, eng)

	acct, err := st.CreateAccount("alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	sess := NewSession(1, nil)
	sess.Activate(acct, "cellar", "main")
	g.Registry.Join(sess)

	// Instantiate the zone while the store is healthy, then cut it off
	// so every durable write from here on fails.
	g.Execute(sess, "look")
	st.Close()

	res := g.Execute(sess, "take torch")
	if !strings.Contains(res.Text, "nothing has changed") {
		t.Fatalf("failed take: %q", res.Text)
	}
	if sess.Carrying("torch") {
		t.Error("torch in inventory after failed commit")
	}

	res = g.Execute(sess, "take 3 coins")
	if !strings.Contains(res.Text, "nothing has changed") {
		t.Fatalf("failed counter take: %q", res.Text)
	}
	if sess.Balance() != 0 {
		t.Errorf("balance = %d after failed commit", sess.Balance())
	}

	res = g.Execute(sess, "north")
	if !strings.Contains(res.Text, "nothing has changed") {
		t.Fatalf("failed move: %q", res.Text)
	}
	if sess.Room() != "main" {
		t.Errorf("room = %q after failed move", sess.Room())
	}

	// The world side stayed clean too: nothing was consumed or removed.
	rt, _ := g.zone(ModeLive, "cellar")
	if rtst, _ := rt.Snapshot("main"); rtst.Consumed["coins"] != 0 || rtst.Removed["torch"] {
		t.Errorf("zone state dirtied by failed commits: %+v", rtst)
	}
}

func TestMovementPersistsPosition(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir + "/game.db")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(testBlueprint()), st, eng)

	acct, err := st.CreateAccount("bob", "pw")
	if err != nil {
		t.Fatal(err)
	}
	sess := NewSession(1, nil)
	sess.Activate(acct, "cellar", "main")
	g.Registry.Join(sess)

	// Movement alone writes no room delta; the account must still land
	// on disk so a reconnect resumes at the stairs.
	g.Execute(sess, "north")
	saved, err := st.GetAccount("bob")
	if err != nil {
		t.Fatal(err)
	}
	if saved.Room != "stairs" || saved.Zone != "cellar" {
		t.Errorf("persisted position = %s/%s, want cellar/stairs", saved.Zone, saved.Room)
	}
}

func TestAmbiguousNounUsesLastRef(t *testing.T) {
	bp := testBlueprint()
	bp.Rooms["main"].Objects = append(bp.Rooms["main"].Objects,
		&world.Object{Key: "brass-lamp", Name: "brass lamp", Short: "a brass lamp", Nouns: []string{"lamp", "brass"}, Takeable: true},
		&world.Object{Key: "oil-lamp", Name: "oil lamp", Short: "an oil lamp", Nouns: []string{"lamp", "oil"}, Takeable: true},
	)
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(bp), nil, eng)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "examine lamp")
	if !strings.Contains(res.Text, "which one") {
		t.Fatalf("ambiguous noun: %q", res.Text)
	}

	// Naming one lamp makes it the referent; the shared noun then
	// resolves to it instead of staying ambiguous.
	g.Execute(sess, "examine oil")
	res = g.Execute(sess, "take lamp")
	if !strings.Contains(res.Text, "oil lamp") {
		t.Fatalf("take after disambiguation: %q", res.Text)
	}
	if !sess.Carrying("oil-lamp") || sess.Carrying("brass-lamp") {
		t.Errorf("inventory = %v", sess.Inventory())
	}

	// One candidate left in the room: no ambiguity remains.
	res = g.Execute(sess, "take lamp")
	if !strings.Contains(res.Text, "brass lamp") {
		t.Errorf("take last lamp: %q", res.Text)
	}
}

func TestRoundTripDiffs(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "take 2 coins")
	if res.Diffs == nil {
		t.Fatal("no diffs")
	}

	// Applying the diff to an independent model matches a fresh snapshot.
	model := world.NewRuntime("cellar", world.KindOverlay)
	model.Apply(res.Diffs)
	got, _ := model.Snapshot("main")

	rt, _ := g.zone(ModeLive, "cellar")
	want, ver := rt.Snapshot("main")
	if got.Consumed["coins"] != want.Consumed["coins"] {
		t.Errorf("client model consumed = %d, server = %d", got.Consumed["coins"], want.Consumed["coins"])
	}
	if res.Version != ver {
		t.Errorf("result version = %d, zone version = %d", res.Version, ver)
	}
}

func TestHintsOnceAndCooldown(t *testing.T) {
	bp := testBlueprint()
	bp.Rooms["stairs"].Hints = []world.Hint{
		{ID: "h1", Text: "Mind the gap.", When: "enter", Once: true},
	}
	eng := script.NewEngine(2, 200*time.Millisecond)
	defer eng.Close()
	g := New(world.NewStaticLibrary(bp), nil, eng)
	sess := newTestSession(t, g, "alice")

	res := g.Execute(sess, "north")
	if !strings.Contains(res.Text, "Mind the gap") {
		t.Errorf("enter hint missing: %q", res.Text)
	}
	g.Execute(sess, "south")
	res = g.Execute(sess, "north")
	if strings.Contains(res.Text, "Mind the gap") {
		t.Errorf("once hint repeated: %q", res.Text)
	}
}

func TestQuitAndWho(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")
	newTestSession(t, g, "bob")

	res := g.Execute(sess, "who")
	if !strings.Contains(res.Text, "alice") || !strings.Contains(res.Text, "bob") {
		t.Errorf("who: %q", res.Text)
	}
	res = g.Execute(sess, "quit")
	if !res.Quit || !strings.Contains(res.Text, "Goodbye") {
		t.Errorf("quit: %+v", res)
	}
}

func TestUnparseableLineIsNotAnError(t *testing.T) {
	g := newTestGame(t)
	sess := newTestSession(t, g, "alice")
	res := g.Execute(sess, "   ")
	if res.Text != "" || res.Prompt == "" {
		t.Errorf("blank line: %+v", res)
	}
}
