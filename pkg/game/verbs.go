package game

import (
	"fmt"
	"strings"

	"github.com/port4k/port4k/pkg/scrollback"
	"github.com/port4k/port4k/pkg/world"
)

// dispatch runs Validate and Apply for one verb against the snapshot.
// Every handler checks its preconditions first and stops at the first
// violation.
func (g *Game) dispatch(sess *Session, in *Intent, view *world.RoomView, bp *world.Blueprint) *outcome {
	out := &outcome{in: in, view: view, delta: &world.Delta{Room: view.Room}}

	switch in.Verb {
	case "look":
		g.doLook(sess, in, view, out)
	case "go":
		g.doGo(sess, in, view, bp, out)
	case "take":
		g.doTake(sess, in, view, out)
	case "drop":
		g.doDrop(sess, in, view, bp, out)
	case "examine":
		g.doExamine(sess, in, view, out)
	case "search":
		g.doSearch(sess, view, bp, out)
	case "inventory":
		g.doInventory(sess, bp, out)
	case "balance":
		out.text = fmt.Sprintf("You have %d coins.", sess.Balance())
	case "who":
		out.text = "Online: " + strings.Join(g.Registry.Names(), ", ")
	case "say":
		g.doSay(sess, in, out)
	case "recall":
		g.doRecall(sess, in, out)
	case "hint":
		out.text = "No hint comes to mind."
	case "help":
		out.text = helpText
	case "quit":
		out.text = "Goodbye."
		out.quit = true
	case "@playtest", "@draft", "@live", "@test":
		g.doModeSwitch(sess, in, out)
	default:
		out.unknown = true
		out.text = "Huh? That's not a verb I know."
	}
	return out
}

// findObject resolves a noun against the view. When several visible
// objects answer to the same noun the session's pronoun referent breaks
// the tie; failing that the match is ambiguous.
func findObject(sess *Session, view *world.RoomView, noun string) (*world.ViewObject, error) {
	matches := view.ObjectsByNoun(noun)
	switch len(matches) {
	case 0:
		return nil, ErrNotFound
	case 1:
		return matches[0], nil
	}
	if ref := sess.LastRef(); ref != "" {
		for _, m := range matches {
			if m.Key == ref {
				return m, nil
			}
		}
	}
	return nil, ErrAmbiguous
}

func (g *Game) doLook(sess *Session, in *Intent, view *world.RoomView, out *outcome) {
	// "look <noun>" reads as examine.
	if in.Direct() != "" {
		g.doExamine(sess, in, view, out)
		return
	}
	out.text = view.Describe()
}

func (g *Game) doGo(sess *Session, in *Intent, view *world.RoomView, bp *world.Blueprint, out *outcome) {
	if !in.HasDirection {
		out.text = "Go where?"
		return
	}
	exit := view.ExitTo(in.Direction)
	if exit == nil {
		out.text = ErrNoExit.Error()
		return
	}
	if !exit.Usable {
		out.text = ErrLocked.Error()
		return
	}
	dest, ok := bp.Rooms[exit.To]
	if !ok {
		out.text = ErrNoExit.Error()
		return
	}

	out.moved = true
	out.from = view.Room
	sess.MoveTo(dest.Key)

	// Arrival text renders the destination against its own state.
	rt, err := g.runtimeFor(sess)
	if err != nil {
		out.text = dest.Title
		return
	}
	st, ver := rt.Snapshot(dest.Key)
	dv, err := world.BuildView(bp, dest.Key, st, ver)
	if err != nil {
		out.text = dest.Title
		return
	}
	out.text = dv.Describe()
}

func (g *Game) doTake(sess *Session, in *Intent, view *world.RoomView, out *outcome) {
	noun := in.Direct()
	if noun == "" && !in.All {
		out.text = "Take what?"
		return
	}

	if in.All {
		g.doTakeAll(sess, view, out)
		return
	}

	obj, err := findObject(sess, view, noun)
	if err != nil {
		out.text = err.Error()
		return
	}
	out.lastRef = obj.Key
	if !obj.Takeable {
		out.text = ErrNotTakeable.Error()
		return
	}

	if obj.Counter != "" {
		// Stackable: taking consumes from the room counter.
		qty := in.Quantity
		if qty <= 0 {
			qty = 1
		}
		avail := view.Counter(obj.Counter)
		if avail <= 0 {
			out.text = ErrDepleted.Error()
			return
		}
		if qty > avail {
			qty = avail
		}
		out.delta.Consume = map[string]int{obj.Counter: qty}
		out.coins += qty
		out.text = fmt.Sprintf("You take %d %s.", qty, obj.Name)
		out.room = append(out.room, fmt.Sprintf("%s takes some %s.", sess.Name(), obj.Name))
		return
	}

	// Plain item: removed from the room, added to inventory.
	out.delta.Remove = append(out.delta.Remove, obj.Key)
	out.gained = append(out.gained, obj.Key)
	out.inv = &InventoryDelta{Added: []string{obj.Key}}
	out.text = "You take the " + obj.Name + "."
	out.room = append(out.room, sess.Name()+" takes the "+obj.Name+".")
}

func (g *Game) doTakeAll(sess *Session, view *world.RoomView, out *outcome) {
	var taken []string
	inv := &InventoryDelta{}
	for i := range view.Objects {
		obj := &view.Objects[i]
		if !obj.Takeable {
			continue
		}
		if obj.Counter != "" {
			if n := view.Counter(obj.Counter); n > 0 {
				if out.delta.Consume == nil {
					out.delta.Consume = make(map[string]int)
				}
				out.delta.Consume[obj.Counter] = n
				out.coins += n
				taken = append(taken, fmt.Sprintf("%d %s", n, obj.Name))
			}
			continue
		}
		out.delta.Remove = append(out.delta.Remove, obj.Key)
		out.gained = append(out.gained, obj.Key)
		inv.Added = append(inv.Added, obj.Key)
		taken = append(taken, obj.Name)
	}
	if len(taken) == 0 {
		out.text = "There's nothing here to take."
		return
	}
	if len(inv.Added) > 0 {
		out.inv = inv
	}
	out.text = "You take " + strings.Join(taken, ", ") + "."
	out.room = append(out.room, sess.Name()+" scoops everything up.")
}

func (g *Game) doDrop(sess *Session, in *Intent, view *world.RoomView, bp *world.Blueprint, out *outcome) {
	noun := in.Direct()
	if noun == "" {
		out.text = "Drop what?"
		return
	}
	// Match against inventory by key or blueprint noun.
	var key string
	for _, k := range sess.Inventory() {
		if strings.EqualFold(k, noun) {
			key = k
			break
		}
		if o := findBlueprintObject(bp, k); o != nil && o.Matches(noun) {
			key = k
			break
		}
	}
	if key == "" {
		out.text = ErrNotCarried.Error()
		return
	}
	out.shed = append(out.shed, key)
	out.lastRef = key

	spawn := findBlueprintObject(bp, key)
	if spawn == nil {
		spawn = &world.Object{Key: key, Name: key, Short: "a " + key, Takeable: true}
	}
	out.delta.Spawn = append(out.delta.Spawn, spawn)
	// Dropping back an object the blueprint placed here just clears its
	// removed mark; Spawned∪blueprint minus Removed dedupes by key.
	out.inv = &InventoryDelta{Removed: []string{key}}
	out.text = "You drop the " + spawn.Name + "."
	out.room = append(out.room, sess.Name()+" drops the "+spawn.Name+".")
}

func (g *Game) doExamine(sess *Session, in *Intent, view *world.RoomView, out *outcome) {
	noun := in.Direct()
	if noun == "" {
		out.text = "Examine what?"
		return
	}
	obj, err := findObject(sess, view, noun)
	if err != nil {
		out.text = err.Error()
		return
	}
	out.lastRef = obj.Key
	switch {
	case obj.Examine != "":
		out.text = obj.Examine
	case obj.Description != "":
		out.text = obj.Description
	default:
		out.text = "You see nothing special about the " + obj.Name + "."
	}
}

func (g *Game) doSearch(sess *Session, view *world.RoomView, bp *world.Blueprint, out *outcome) {
	// Searching reveals every when-revealed object still hidden.
	var found []string
	room := bp.Rooms[view.Room]
	for _, o := range room.Objects {
		if o.Visibility != world.VisWhenRevealed {
			continue
		}
		if view.ObjectByNoun(o.Key) != nil {
			continue // already visible
		}
		out.delta.Reveal = append(out.delta.Reveal, o.Key)
		found = append(found, o.Short)
	}
	if len(found) == 0 {
		out.text = "You find nothing of interest."
		return
	}
	out.text = "You find " + strings.Join(found, ", ") + "."
	out.room = append(out.room, sess.Name()+" rummages around.")
}

func (g *Game) doInventory(sess *Session, bp *world.Blueprint, out *outcome) {
	inv := sess.Inventory()
	if len(inv) == 0 {
		out.text = "You are carrying nothing."
		return
	}
	names := make([]string, 0, len(inv))
	for _, k := range inv {
		if o := findBlueprintObject(bp, k); o != nil {
			names = append(names, o.Short)
		} else {
			names = append(names, k)
		}
	}
	out.text = "You are carrying: " + strings.Join(names, ", ")
}

func (g *Game) doSay(sess *Session, in *Intent, out *outcome) {
	msg := in.Direct()
	if msg == "" {
		out.text = "Say what?"
		return
	}
	out.text = `You say, "` + msg + `"`
	out.room = append(out.room, sess.Name()+` says, "`+msg+`"`)
}

func (g *Game) doRecall(sess *Session, in *Intent, out *outcome) {
	if g.Scroll == nil {
		out.text = "There is nothing to recall."
		return
	}
	limit := in.Quantity
	if limit <= 0 {
		limit = 20
	}
	entries, err := g.Scroll.Recent(strings.ToLower(sess.Name()), limit)
	if err != nil {
		out.text = "Recall is unavailable right now."
		return
	}
	if len(entries) == 0 {
		out.text = "There is nothing to recall."
		return
	}
	var b strings.Builder
	b.WriteString("--- recall ---")
	for _, e := range entries {
		b.WriteString("\n")
		if e.Kind == scrollback.KindCommand {
			b.WriteString("> ")
		}
		b.WriteString(e.Text)
	}
	b.WriteString("\n--- end ---")
	out.text = b.String()
}

// doModeSwitch handles the dedicated meta-commands that move the session
// between write targets. Never a side effect of gameplay.
func (g *Game) doModeSwitch(sess *Session, in *Intent, out *outcome) {
	oldScope, oldRoom := sess.Scope(), sess.Room()
	switch in.Verb {
	case "@playtest":
		sess.SetMode(ModePlaytest, "")
		out.text = "Playtest mode: your changes now live in an overlay and vanish when you leave."
	case "@test":
		sess.SetMode(ModeTest, sess.Name())
		out.text = "Test mode: private overlay for " + sess.Name() + "."
	case "@draft":
		sess.SetMode(ModeDraft, "")
		out.text = "Draft mode: writing to the isolated draft zone."
	case "@live":
		sess.SetMode(ModeLive, "")
		out.text = "Live mode: your changes are durable and shared."
	}
	g.Registry.Move(sess, oldScope, oldRoom)
}

func findBlueprintObject(bp *world.Blueprint, key string) *world.Object {
	for _, room := range bp.Rooms {
		if o := room.ObjectByKey(key); o != nil {
			return o
		}
	}
	return nil
}

const helpText = `Commands:
  look [thing]        examine your surroundings or a thing
  go <direction>      move (or just: north, n, south, s, ...)
  take <thing>        pick something up (take all, take 3 coins)
  drop <thing>        put something down
  search              look for hidden things
  inventory, balance  what you carry and what you've earned
  say <text>          speak to the room
  who                 who is online
  recall [n]          replay your recent output
  @playtest @test     enter an ephemeral overlay
  @draft @live        switch zones (builders)
  quit                leave`
