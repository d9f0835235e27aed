package game

import "github.com/port4k/port4k/pkg/world"

// hintTrigger maps the command that just ran to a hint trigger class.
func hintTrigger(out *outcome) string {
	switch {
	case out.moved:
		return "enter"
	case out.in.Verb == "search":
		return "search"
	case out.in.Verb == "hint":
		return "manual"
	default:
		return ""
	}
}

// applyHints appends eligible designer hints for the room the command
// ended in. Runs after Apply so movement hints use the destination room.
func (g *Game) applyHints(sess *Session, out *outcome) {
	trigger := hintTrigger(out)
	if trigger == "" {
		return
	}
	bp := g.Library.Get(sess.Blueprint())
	if bp == nil {
		return
	}
	room, ok := bp.Rooms[sess.Room()]
	if !ok {
		return
	}
	if trigger == "enter" {
		sess.VisitTick()
	}
	fired := 0
	for _, h := range room.Hints {
		if !hintMatches(h, trigger) {
			continue
		}
		if !sess.HintEligible(h) {
			continue
		}
		out.hookEmits = append(out.hookEmits, "(hint: "+h.Text+")")
		out.notify = append(out.notify, Notice{Kind: "hint", Text: h.Text})
		fired++
	}
	// An explicit hint request that found something drops the shrug text.
	if trigger == "manual" && fired > 0 {
		out.handled = true
	}
}

func hintMatches(h world.Hint, trigger string) bool {
	when := h.When
	if when == "" {
		when = "enter"
	}
	return when == trigger
}
