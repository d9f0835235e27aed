// Package readline provides a minimal telnet-friendly line editor for
// transports that deliver input one byte at a time. It maintains the edit
// buffer, cursor, and command history, and emits completed lines or redraw
// requests; IAC/NAWS handling happens upstream in the telnet machine.
package readline

import (
	"strconv"
	"strings"
)

// EventType classifies what the editor produced for one input byte.
type EventType int

const (
	// EvNone means no visible change.
	EvNone EventType = iota
	// EvRedraw means the line changed; repaint with RepaintLine.
	EvRedraw
	// EvLine means a full line was submitted.
	EvLine
)

// Event is the result of feeding one byte to the editor.
type Event struct {
	Type EventType
	Line string // set for EvLine
}

// Config caps editor behavior.
type Config struct {
	MaxHistory   int  // max retained history entries
	DedupHistory bool // skip consecutive duplicate history entries
}

// DefaultConfig returns the caps used by the server.
func DefaultConfig() Config {
	return Config{MaxHistory: 200, DedupHistory: true}
}

// Editor is a readline-like line editor: history, cursor, basic ANSI keys.
// ASCII only; bytes outside 0x20..0x7E are control keys or ignored.
type Editor struct {
	prompt  string
	buf     []byte
	cursor  int
	esc     []byte // accumulating escape sequence
	sawCR   bool   // previous byte was CR, for CRLF pairing
	history []string
	histIx  int // index while browsing history; -1 = editing a new line
	cfg     Config
}

// New creates an editor with the given prompt and default config.
func New(prompt string) *Editor {
	return NewWithConfig(prompt, DefaultConfig())
}

// NewWithConfig creates an editor with custom caps.
func NewWithConfig(prompt string, cfg Config) *Editor {
	return &Editor{prompt: prompt, histIx: -1, cfg: cfg}
}

// SetPrompt changes the prompt used by RepaintLine.
func (e *Editor) SetPrompt(p string) { e.prompt = p }

// Buffer returns the current (unsubmitted) line contents.
func (e *Editor) Buffer() string { return string(e.buf) }

// Cursor returns the cursor position within the buffer.
func (e *Editor) Cursor() int { return e.cursor }

// History returns the retained history, oldest first.
func (e *Editor) History() []string { return e.history }

// PushHistory appends a line to history, applying dedup and the cap.
func (e *Editor) PushHistory(line string) {
	if strings.TrimSpace(line) == "" {
		return
	}
	if e.cfg.DedupHistory && len(e.history) > 0 && e.history[len(e.history)-1] == line {
		return
	}
	e.history = append(e.history, line)
	if e.cfg.MaxHistory > 0 && len(e.history) > e.cfg.MaxHistory {
		e.history = e.history[len(e.history)-e.cfg.MaxHistory:]
	}
}

// Feed handles a single post-negotiation input byte.
func (e *Editor) Feed(b byte) Event {
	if len(e.esc) > 0 || b == 0x1B {
		e.esc = append(e.esc, b)
		return e.handleEsc()
	}

	wasCR := e.sawCR
	e.sawCR = b == '\r'

	switch {
	case b == '\r' || b == '\n':
		// The LF of a CRLF pair already submitted on the CR.
		if b == '\n' && wasCR {
			return Event{Type: EvNone}
		}
		line := string(e.buf)
		e.buf = e.buf[:0]
		e.cursor = 0
		e.histIx = -1
		if strings.TrimSpace(line) != "" {
			e.PushHistory(line)
		}
		return Event{Type: EvLine, Line: line}

	case b == 0x7F || b == 0x08: // backspace / Ctrl-H
		if e.cursor > 0 {
			e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
			e.cursor--
		}
		return Event{Type: EvRedraw}

	case b == 0x01: // Ctrl-A
		e.cursor = 0
		return Event{Type: EvRedraw}

	case b == 0x05: // Ctrl-E
		e.cursor = len(e.buf)
		return Event{Type: EvRedraw}

	case b == 0x15: // Ctrl-U, kill line
		e.buf = e.buf[:0]
		e.cursor = 0
		e.histIx = -1
		return Event{Type: EvRedraw}

	case b == 0x17: // Ctrl-W, kill previous word
		for e.cursor > 0 && isSpace(e.buf[e.cursor-1]) {
			e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
			e.cursor--
		}
		for e.cursor > 0 && !isSpace(e.buf[e.cursor-1]) {
			e.buf = append(e.buf[:e.cursor-1], e.buf[e.cursor:]...)
			e.cursor--
		}
		return Event{Type: EvRedraw}

	case b >= 0x20 && b <= 0x7E: // printable ASCII
		e.buf = append(e.buf, 0)
		copy(e.buf[e.cursor+1:], e.buf[e.cursor:])
		e.buf[e.cursor] = b
		e.cursor++
		e.histIx = -1
		return Event{Type: EvRedraw}
	}

	return Event{Type: EvNone}
}

func (e *Editor) handleEsc() Event {
	s := string(e.esc)

	switch s {
	case "\x1b[A":
		e.esc = e.esc[:0]
		return e.histPrev()
	case "\x1b[B":
		e.esc = e.esc[:0]
		return e.histNext()
	case "\x1b[C":
		e.esc = e.esc[:0]
		if e.cursor < len(e.buf) {
			e.cursor++
		}
		return Event{Type: EvRedraw}
	case "\x1b[D":
		e.esc = e.esc[:0]
		if e.cursor > 0 {
			e.cursor--
		}
		return Event{Type: EvRedraw}
	case "\x1b[H", "\x1bOH":
		e.esc = e.esc[:0]
		e.cursor = 0
		return Event{Type: EvRedraw}
	case "\x1b[F", "\x1bOF":
		e.esc = e.esc[:0]
		e.cursor = len(e.buf)
		return Event{Type: EvRedraw}
	case "\x1b[3~": // delete
		e.esc = e.esc[:0]
		if e.cursor < len(e.buf) {
			e.buf = append(e.buf[:e.cursor], e.buf[e.cursor+1:]...)
		}
		return Event{Type: EvRedraw}
	}

	// Unrecognized CSI sequence: keep accumulating until a final byte.
	if len(s) >= 2 && s[:2] == "\x1b[" {
		last := s[len(s)-1]
		if (last >= 'a' && last <= 'z') || (last >= 'A' && last <= 'Z') || last == '~' {
			e.esc = e.esc[:0]
		}
		return Event{Type: EvNone}
	}
	if len(s) >= 3 {
		// Bail out of anything else after three bytes.
		e.esc = e.esc[:0]
	}
	return Event{Type: EvNone}
}

func (e *Editor) histPrev() Event {
	if len(e.history) == 0 {
		return Event{Type: EvNone}
	}
	if e.histIx < 0 {
		e.histIx = len(e.history) - 1
	} else if e.histIx > 0 {
		e.histIx--
	}
	e.buf = []byte(e.history[e.histIx])
	e.cursor = len(e.buf)
	return Event{Type: EvRedraw}
}

func (e *Editor) histNext() Event {
	if len(e.history) == 0 || e.histIx < 0 {
		return Event{Type: EvNone}
	}
	if e.histIx+1 >= len(e.history) {
		// Past newest: back to a blank line.
		e.histIx = -1
		e.buf = e.buf[:0]
		e.cursor = 0
		return Event{Type: EvRedraw}
	}
	e.histIx++
	e.buf = []byte(e.history[e.histIx])
	e.cursor = len(e.buf)
	return Event{Type: EvRedraw}
}

// RepaintLine composes the minimal ANSI repaint string for the current state:
// carriage return, prompt and buffer, clear-to-EOL, then cursor reposition.
func (e *Editor) RepaintLine() string {
	s := make([]byte, 0, 1+len(e.prompt)+len(e.buf)+16)
	s = append(s, '\r')
	s = append(s, e.prompt...)
	s = append(s, e.buf...)
	s = append(s, "\x1b[K"...)
	if back := len(e.buf) - e.cursor; back > 0 {
		s = append(s, []byte("\x1b["+strconv.Itoa(back)+"D")...)
	}
	return string(s)
}

// Clear resets buffer and cursor without touching history.
func (e *Editor) Clear() {
	e.buf = e.buf[:0]
	e.cursor = 0
	e.histIx = -1
}

func isSpace(b byte) bool { return b == ' ' || b == '\t' }
