package telnet

import "time"

// Machine is a per-connection telnet negotiation state machine. Bytes are fed
// one at a time; Feed returns zero or more in-band events plus any raw
// negotiation bytes that must be written back to the client immediately.
// Machine is not safe for concurrent use; each connection owns one.
type Machine struct {
	inIAC bool
	cmd   byte // pending DO/DONT/WILL/WONT/SB awaiting its option byte
	inSB  bool
	sbOpt byte
	sbBuf []byte

	offers map[byte]*offer
}

type offer struct {
	state    OptionState
	deadline time.Time
}

// NewMachine creates a machine with no offers outstanding.
func NewMachine() *Machine {
	return &Machine{
		sbBuf:  make([]byte, 0, 16),
		offers: make(map[byte]*offer),
	}
}

// Offer returns the initial negotiation the server sends on connect:
// linemode off, SGA both directions, server echo, and a NAWS request.
// Each offered option starts pending and flips to rejected if the client
// has not answered by the timeout.
func (m *Machine) Offer(timeout time.Duration) []byte {
	deadline := time.Now().Add(timeout)
	for _, opt := range []byte{OptEcho, OptSGA, OptNAWS, OptLinemode} {
		m.offers[opt] = &offer{state: OptionPending, deadline: deadline}
	}
	return []byte{
		IAC, DONT, OptLinemode,
		IAC, DO, OptSGA,
		IAC, WILL, OptSGA,
		IAC, WILL, OptEcho,
		IAC, DO, OptNAWS,
	}
}

// Expire marks every offer still pending at now as rejected. Returns the
// number of offers expired. Call periodically, or once after the offer
// timeout elapses.
func (m *Machine) Expire(now time.Time) int {
	n := 0
	for _, o := range m.offers {
		if o.state == OptionPending && now.After(o.deadline) {
			o.state = OptionRejected
			n++
		}
	}
	return n
}

// OptionStateFor reports the negotiation state of an offered option.
// Options never offered report rejected.
func (m *Machine) OptionStateFor(opt byte) OptionState {
	if o, ok := m.offers[opt]; ok {
		return o.state
	}
	return OptionRejected
}

// Negotiating reports whether any offered option is still pending.
func (m *Machine) Negotiating() bool {
	for _, o := range m.offers {
		if o.state == OptionPending {
			return true
		}
	}
	return false
}

// Feed processes one incoming byte. It returns the in-band events the byte
// produced (usually zero or one) and raw negotiation bytes to send back to
// the client, which the caller must write before reading further input.
func (m *Machine) Feed(b byte) (events []Event, reply []byte) {
	if !m.inIAC {
		if b == IAC {
			m.inIAC = true
			return nil, nil
		}
		if m.inSB {
			m.sbBuf = append(m.sbBuf, b)
			return nil, nil
		}
		return []Event{{Type: EvData, Data: b}}, nil
	}

	m.inIAC = false

	switch b {
	case IAC:
		// Escaped 0xFF data byte.
		if m.inSB {
			m.sbBuf = append(m.sbBuf, IAC)
			return nil, nil
		}
		return []Event{{Type: EvData, Data: IAC}}, nil

	case DO, DONT, WILL, WONT:
		m.cmd = b
		m.inIAC = true // option byte follows
		return nil, nil

	case SB:
		m.inSB = true
		m.sbBuf = m.sbBuf[:0]
		m.cmd = SB
		m.inIAC = true // option byte follows
		return nil, nil

	case SE:
		if !m.inSB {
			return nil, nil
		}
		m.inSB = false
		if m.sbOpt == OptNAWS && len(m.sbBuf) >= 4 {
			cols := int(m.sbBuf[0])<<8 | int(m.sbBuf[1])
			rows := int(m.sbBuf[2])<<8 | int(m.sbBuf[3])
			return []Event{{Type: EvResize, Cols: cols, Rows: rows}}, nil
		}
		return nil, nil

	case NOP:
		return nil, nil

	default:
		// Option byte completing a DO/DONT/WILL/WONT/SB sequence.
		cmd := m.cmd
		m.cmd = 0
		switch cmd {
		case SB:
			m.sbOpt = b
			return nil, nil
		case DO:
			return nil, m.onDo(b)
		case DONT:
			return nil, m.onDont(b)
		case WILL:
			return nil, m.onWill(b)
		case WONT:
			m.settle(b, OptionRejected)
			return nil, nil
		}
		return nil, nil
	}
}

// onDo handles "client asks us to enable opt".
func (m *Machine) onDo(opt byte) []byte {
	switch opt {
	case OptEcho:
		m.settle(opt, OptionAccepted)
		return []byte{IAC, WILL, OptEcho}
	case OptSGA:
		m.settle(opt, OptionAccepted)
		return []byte{IAC, WILL, OptSGA}
	case OptLinemode:
		return []byte{IAC, WONT, OptLinemode}
	case OptNAWS:
		// Client asking the server to report window size is backwards; ignore.
		return nil
	default:
		return []byte{IAC, WONT, opt}
	}
}

// onDont handles "client refuses opt on our side".
func (m *Machine) onDont(opt byte) []byte {
	m.settle(opt, OptionRejected)
	switch opt {
	case OptEcho, OptSGA, OptLinemode:
		return []byte{IAC, WONT, opt}
	default:
		return nil
	}
}

// onWill handles "client will enable opt on its side".
func (m *Machine) onWill(opt byte) []byte {
	switch opt {
	case OptNAWS:
		m.settle(opt, OptionAccepted)
		return []byte{IAC, DO, OptNAWS}
	case OptSGA:
		m.settle(opt, OptionAccepted)
		return []byte{IAC, DO, OptSGA}
	case OptTType:
		return []byte{IAC, DO, OptTType}
	case OptLinemode:
		// Linemode defeats char-at-a-time input; refuse it. Treat the
		// refusal as settling our DONT offer.
		m.settle(opt, OptionAccepted)
		return []byte{IAC, DONT, OptLinemode}
	case OptEcho:
		m.settle(opt, OptionAccepted)
		return []byte{IAC, DO, OptEcho}
	default:
		return []byte{IAC, DONT, opt}
	}
}

func (m *Machine) settle(opt byte, st OptionState) {
	if o, ok := m.offers[opt]; ok && o.state == OptionPending {
		o.state = st
	}
}
