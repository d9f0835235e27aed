package game

import (
	"strconv"
	"strings"

	"github.com/port4k/port4k/pkg/world"
)

// Intent is the parsed form of one submitted line. It lives for exactly
// one lifecycle run.
type Intent struct {
	Raw     string
	Verb    string
	Args    []string
	Objects []string // noun phrases, one per listed object

	Direction    world.Direction
	HasDirection bool

	Preposition string
	Indirect    string // noun phrase after the preposition

	Quantity int  // explicit count, 0 when unspecified
	All      bool // "take all coins"
}

// Empty reports a blank or unparseable line (the "no verb" intent).
func (in *Intent) Empty() bool { return in.Verb == "" }

// Direct returns the first object noun phrase, or "".
func (in *Intent) Direct() string {
	if len(in.Objects) == 0 {
		return ""
	}
	return in.Objects[0]
}

// Verb aliases and phrasal forms. Phrasal verbs collapse to a canonical
// verb before argument parsing ("pick up the coin" is "take coin").
var verbAliases = map[string]string{
	"get":  "take",
	"grab": "take",
	"x":    "examine",
	"i":    "inventory",
	"inv":  "inventory",
	"l":    "look",
	"move": "go",
	"walk": "go",
	"'":    "say",
}

var phrasalVerbs = map[string]string{
	"pick up":  "take",
	"look at":  "examine",
	"put down": "drop",
}

var articles = map[string]bool{"a": true, "an": true, "the": true}

var prepositions = map[string]bool{
	"at": true, "in": true, "on": true, "with": true, "to": true,
	"from": true, "into": true, "under": true,
}

// ParseIntent turns a raw line into an Intent. It never fails: malformed
// input degrades to a no-verb intent and blank nouns are simply absent.
func ParseIntent(raw string) *Intent {
	in := &Intent{Raw: raw}
	line := strings.TrimSpace(raw)
	if line == "" {
		return in
	}

	// Leading apostrophe is shorthand for say; the rest is untokenized text.
	if strings.HasPrefix(line, "'") {
		in.Verb = "say"
		in.Args = []string{strings.TrimSpace(line[1:])}
		in.Objects = in.Args
		return in
	}

	fields := strings.Fields(strings.ToLower(line))
	verb := fields[0]
	rest := fields[1:]

	// Phrasal verb: first two words form the canonical verb.
	if len(rest) > 0 {
		if canon, ok := phrasalVerbs[verb+" "+rest[0]]; ok {
			verb = canon
			rest = rest[1:]
		}
	}
	if canon, ok := verbAliases[verb]; ok {
		verb = canon
	}

	// A bare direction is movement.
	if dir, ok := world.ParseDirection(verb); ok {
		in.Verb = "go"
		in.Direction = dir
		in.HasDirection = true
		return in
	}

	in.Verb = verb
	in.Args = rest

	// say keeps its argument as free text, preserving the original casing.
	if verb == "say" {
		if idx := strings.IndexAny(line, " \t"); idx >= 0 {
			in.Objects = []string{strings.TrimSpace(line[idx:])}
		}
		return in
	}

	// go <direction>
	if verb == "go" && len(rest) > 0 {
		if dir, ok := world.ParseDirection(rest[len(rest)-1]); ok {
			in.Direction = dir
			in.HasDirection = true
		}
		return in
	}

	parseNouns(in, rest)
	return in
}

// parseNouns splits the argument words into quantifier, object list, and
// an optional preposition phrase.
func parseNouns(in *Intent, words []string) {
	var direct, indirect []string
	target := &direct
	for _, w := range words {
		switch {
		case articles[w]:
			// skip
		case w == "all" && target == &direct && len(direct) == 0:
			in.All = true
		case prepositions[w] && target == &direct:
			in.Preposition = w
			target = &indirect
		case w == "and" || w == ",":
			*target = append(*target, ",")
		default:
			if n, err := strconv.Atoi(w); err == nil && target == &direct && len(direct) == 0 {
				in.Quantity = n
				continue
			}
			*target = append(*target, strings.Trim(w, ","))
		}
	}
	in.Objects = joinPhrases(direct)
	if phrases := joinPhrases(indirect); len(phrases) > 0 {
		in.Indirect = phrases[0]
	}
}

// joinPhrases groups words into noun phrases, splitting on list markers.
// "shiny coin , torch" becomes ["shiny coin", "torch"].
func joinPhrases(words []string) []string {
	var out []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.Join(cur, " "))
			cur = nil
		}
	}
	for _, w := range words {
		if w == "," {
			flush()
			continue
		}
		if w == "" {
			continue
		}
		cur = append(cur, w)
	}
	flush()
	return out
}
