// Package telnet implements the byte-level telnet option machine used by the
// TCP transport. The server proactively offers character-at-a-time input,
// suppress-go-ahead, server-side echo, and window-size reporting; clients
// that never answer are assumed to have rejected the offer after a timeout.
package telnet

// Telnet command bytes.
const (
	IAC  byte = 255 // Interpret As Command
	DONT byte = 254
	DO   byte = 253
	WONT byte = 252
	WILL byte = 251
	SB   byte = 250 // Subnegotiation Begin
	SE   byte = 240 // Subnegotiation End
	NOP  byte = 241
)

// Telnet options the machine negotiates.
const (
	OptEcho     byte = 1  // Server echo (client disables local echo)
	OptSGA      byte = 3  // Suppress Go-Ahead (interactive mode)
	OptTType    byte = 24 // Terminal type
	OptNAWS     byte = 31 // Negotiate About Window Size
	OptLinemode byte = 34 // Must stay OFF for char-at-a-time input
)

// OptionState tracks one offered option through the negotiation handshake.
type OptionState int

const (
	OptionPending OptionState = iota
	OptionAccepted
	OptionRejected
)

// String returns a human-readable name for the state.
func (s OptionState) String() string {
	switch s {
	case OptionPending:
		return "pending"
	case OptionAccepted:
		return "accepted"
	case OptionRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// EventType classifies what the machine produced for one input byte.
type EventType int

const (
	// EvData is a literal in-band data byte for the line editor.
	EvData EventType = iota
	// EvResize is a NAWS window-size report.
	EvResize
)

// Event is one output of Machine.Feed.
type Event struct {
	Type EventType
	Data byte
	Cols int
	Rows int
}
