package server

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"time"

	"github.com/port4k/port4k/pkg/game"
	"github.com/port4k/port4k/pkg/outbox"
	"github.com/port4k/port4k/pkg/readline"
	"github.com/port4k/port4k/pkg/scrollback"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/telnet"
)

const loginRetries = 3

// loginState tracks the pre-game prompt sequence.
type loginState int

const (
	loginName loginState = iota
	loginPassword
	loginDone
)

// telnetConn is the per-connection state for the byte transport: the
// option machine, the line editor, the outbox consumer, and the session.
type telnetConn struct {
	srv     *Server
	conn    net.Conn
	id      int
	machine *telnet.Machine
	ed      *readline.Editor
	out     *outbox.Outbox
	sess    *game.Session

	state       loginState
	pendingName string
	password    []byte
	retries     int
	closed      bool
	sawCR       bool
}

// telnetSink writes outbox frames to the socket. Text frames get IAC
// escaping and CRLF endings; notify frames have no telnet rendering and
// are dropped.
type telnetSink struct {
	conn net.Conn
}

func (s *telnetSink) WriteFrame(f outbox.Frame) error {
	s.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	switch f.Type {
	case outbox.FrameLine, outbox.FrameSystem:
		_, err := s.conn.Write(append(escapeIAC(f.Text), '\r', '\n'))
		return err
	case outbox.FramePrompt:
		_, err := s.conn.Write(escapeIAC(f.Text))
		return err
	case outbox.FrameRaw:
		_, err := s.conn.Write(f.Raw)
		return err
	case outbox.FrameNotify:
		return nil
	}
	return nil
}

// escapeIAC doubles 0xFF bytes so text can never be read as a command.
func escapeIAC(text string) []byte {
	b := []byte(text)
	if bytes.IndexByte(b, telnet.IAC) < 0 {
		return b
	}
	return bytes.ReplaceAll(b, []byte{telnet.IAC}, []byte{telnet.IAC, telnet.IAC})
}

// handleConnection manages a single telnet client lifecycle.
func (s *Server) handleConnection(conn net.Conn) {
	id := s.NextID()
	log.Printf("[%d] New connection from %s", id, conn.RemoteAddr())
	s.Metrics.ConnectsTotal.WithLabelValues("telnet").Inc()
	s.Metrics.Sessions.WithLabelValues("telnet").Inc()
	defer s.Metrics.Sessions.WithLabelValues("telnet").Dec()

	out := outbox.New(id, s.Config.OutboxMax)
	c := &telnetConn{
		srv:     s,
		conn:    conn,
		id:      id,
		machine: telnet.NewMachine(),
		ed:      readline.New("> "),
		out:     out,
		sess:    game.NewSession(id, out),
		retries: loginRetries,
	}

	// One consumer per session. When it returns the socket is dead or
	// the outbox was closed; either way the connection is over.
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := out.Run(&telnetSink{conn: conn}); err != nil {
			log.Printf("[%d] write: %v", id, err)
		}
	}()

	defer func() {
		if c.sess.State() == game.StateActive {
			s.Game.Registry.Leave(c.sess, c.sess.Scope(), c.sess.Room())
		}
		c.sess.Disconnect()
		out.Close()
		<-consumerDone
		conn.Close()
		log.Printf("[%d] Connection closed from %s", id, conn.RemoteAddr())
	}()

	// Offer char-at-a-time mode up front; replies are consumed in the
	// main loop and silent clients time out into line mode.
	out.Raw(c.machine.Offer(s.Config.NegotiationDuration()))
	out.Raw([]byte(s.Config.WelcomeText))
	out.Line("Log in with your account name, or \"register <name> <password>\".")
	c.promptName()

	idle := s.Config.IdleDuration()
	buf := make([]byte, 512)
	for {
		deadline := time.Now().Add(2 * time.Second)
		if !c.machine.Negotiating() && idle > 0 {
			deadline = time.Now().Add(idle)
		}
		conn.SetReadDeadline(deadline)

		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if c.machine.Negotiating() {
					c.machine.Expire(time.Now())
					continue
				}
				out.System("Idle timeout, disconnecting.")
				return
			}
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				log.Printf("[%d] read: %v", id, err)
			}
			return
		}

		for _, b := range buf[:n] {
			events, reply := c.machine.Feed(b)
			if len(reply) > 0 {
				out.Raw(reply)
			}
			for _, ev := range events {
				switch ev.Type {
				case telnet.EvResize:
					c.sess.Resize(ev.Cols, ev.Rows)
				case telnet.EvData:
					c.handleByte(ev.Data)
				}
			}
			if c.closed {
				return
			}
		}
	}
}

// echoing reports whether the server owns echo for this client. When the
// echo option was rejected the client echoes locally and repainting the
// line would double every character.
func (c *telnetConn) echoing() bool {
	return c.machine.OptionStateFor(telnet.OptEcho) == telnet.OptionAccepted
}

// handleByte routes one in-band byte. Password entry bypasses the line
// editor so the secret never hits history or the redraw path.
func (c *telnetConn) handleByte(b byte) {
	wasCR := c.sawCR
	c.sawCR = b == '\r'
	if b == '\n' && wasCR {
		return
	}

	if c.state == loginPassword {
		switch {
		case b == '\r' || b == '\n':
			pw := string(c.password)
			c.password = c.password[:0]
			c.out.Raw([]byte("\r\n"))
			c.submitPassword(pw)
		case b == 0x7F || b == 0x08:
			if len(c.password) > 0 {
				c.password = c.password[:len(c.password)-1]
			}
		case b >= 0x20 && b < 0x7F:
			c.password = append(c.password, b)
		}
		return
	}

	ev := c.ed.Feed(b)
	switch ev.Type {
	case readline.EvRedraw:
		if c.echoing() {
			c.out.Raw([]byte(c.ed.RepaintLine()))
		}
	case readline.EvLine:
		if c.echoing() {
			c.out.Raw([]byte("\r\n"))
		}
		c.handleLine(ev.Line)
	}
}

func (c *telnetConn) handleLine(line string) {
	switch c.state {
	case loginName:
		c.handleLogin(line)
	case loginDone:
		c.execute(line)
	}
}

func (c *telnetConn) promptName() {
	c.out.Prompt("Account name: ")
	c.ed.SetPrompt("Account name: ")
}

// handleLogin processes the name prompt: a bare name starts the two-step
// flow, "login"/"register" with arguments complete in one line.
func (c *telnetConn) handleLogin(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		c.promptName()
		return
	}

	st := c.srv.Game.Store
	if st == nil {
		// No account store; everyone is a guest.
		c.activate(nil)
		return
	}

	switch strings.ToLower(fields[0]) {
	case "register", "create":
		if len(fields) != 3 {
			c.out.Line("Use: register <name> <password>")
			c.promptName()
			return
		}
		acct, err := st.CreateAccount(fields[1], fields[2])
		if err != nil {
			if errors.Is(err, store.ErrAccountExists) {
				c.out.Line("That name is taken.")
			} else {
				log.Printf("[%d] register: %v", c.id, err)
				c.out.Line("Registration failed.")
			}
			c.promptName()
			return
		}
		log.Printf("[%d] Registered account %q", c.id, acct.Name)
		c.activate(acct)
	case "login", "connect":
		if len(fields) != 3 {
			c.out.Line("Use: login <name> <password>")
			c.promptName()
			return
		}
		c.pendingName = fields[1]
		c.submitPassword(fields[2])
	case "quit":
		c.out.Line("Goodbye.")
		c.close()
	default:
		if len(fields) > 1 {
			c.out.Line("Just your account name, or \"register <name> <password>\".")
			c.promptName()
			return
		}
		c.pendingName = fields[0]
		c.state = loginPassword
		// Claim echo for the password even if the initial offer was
		// declined, and release it afterwards in submitPassword.
		if !c.echoing() {
			c.out.Raw([]byte{telnet.IAC, telnet.WILL, telnet.OptEcho})
		}
		c.out.Prompt("Password: ")
	}
}

func (c *telnetConn) submitPassword(password string) {
	if !c.echoing() {
		c.out.Raw([]byte{telnet.IAC, telnet.WONT, telnet.OptEcho})
	}
	acct, err := c.srv.Game.Store.Authenticate(c.pendingName, password)
	if err != nil {
		c.retries--
		if errors.Is(err, store.ErrAccountNotFound) {
			c.out.Line("No such account. Use: register <name> <password>")
		} else {
			c.out.Line("Wrong password.")
		}
		if c.retries <= 0 {
			c.out.Line("Too many attempts.")
			c.close()
			return
		}
		c.state = loginName
		c.promptName()
		return
	}
	log.Printf("[%d] Login %q from %s", c.id, acct.Name, c.conn.RemoteAddr())
	c.activate(acct)
}

// activate binds the account, joins the room directory, and shows the
// starting room. A nil account is an anonymous guest.
func (c *telnetConn) activate(acct *store.Account) {
	bpKey := c.srv.Config.EntryBlueprint
	room := ""
	if acct != nil && acct.Zone != "" && c.srv.Game.Library.Get(acct.Zone) != nil {
		bpKey = acct.Zone
		room = acct.Room
	}
	bp := c.srv.Game.Library.Get(bpKey)
	if bp == nil {
		log.Printf("[%d] entry blueprint %q missing", c.id, bpKey)
		c.out.Line("The world is not loaded. Try again later.")
		c.close()
		return
	}
	if room == "" || bp.Rooms[room] == nil {
		room = bp.Entry
	}

	c.state = loginDone
	c.sess.Activate(acct, bpKey, room)
	c.srv.Game.Registry.Join(c.sess)
	c.ed.SetPrompt(c.sess.Prompt())
	c.out.Line("Welcome, " + c.sess.Name() + ".")
	c.execute("look")
}

// execute runs one line through the lifecycle and renders the result.
func (c *telnetConn) execute(line string) {
	c.srv.Metrics.CommandsTotal.Inc()
	c.record(scrollback.KindCommand, line)

	res := c.srv.Game.Execute(c.sess, line)
	c.deliver(res)
}

func (c *telnetConn) deliver(res *game.CommandResult) {
	if res.Text != "" {
		for _, line := range strings.Split(res.Text, "\n") {
			c.out.Line(line)
		}
		c.record(scrollback.KindOutput, res.Text)
	}
	prompt := res.Prompt
	if prompt == "" {
		prompt = c.sess.Prompt()
	}
	c.ed.SetPrompt(prompt)
	c.out.Prompt(prompt)
	if res.Quit {
		c.close()
	}
}

// record appends to the player's scrollback, best effort.
func (c *telnetConn) record(kind, text string) {
	sc := c.srv.Scroll
	if sc == nil || c.sess.Account() == nil {
		return
	}
	if err := sc.Insert(c.sess.Name(), c.sess.Room(), kind, text); err != nil {
		log.Printf("[%d] scrollback: %v", c.id, err)
	}
}

func (c *telnetConn) close() {
	c.closed = true
}
