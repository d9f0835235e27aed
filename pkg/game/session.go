package game

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/port4k/port4k/pkg/outbox"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/world"
)

// SessionState is the outer connection state.
type SessionState int

const (
	StateAuthenticating SessionState = iota
	StateActive
	StateDisconnected
)

// Mode selects the write target for Apply-stage deltas.
type Mode int

const (
	// ModeLive writes to the shared durable zone.
	ModeLive Mode = iota
	// ModeDraft writes to an isolated durable authoring zone.
	ModeDraft
	// ModePlaytest writes to an ephemeral overlay dropped on session end.
	ModePlaytest
	// ModeTest is a private overlay for one named owner.
	ModeTest
)

// String returns the lowercase mode name.
func (m Mode) String() string {
	switch m {
	case ModeLive:
		return "live"
	case ModeDraft:
		return "draft"
	case ModePlaytest:
		return "playtest"
	case ModeTest:
		return "test"
	default:
		return "unknown"
	}
}

// Ephemeral reports whether the mode writes to an overlay.
func (m Mode) Ephemeral() bool { return m == ModePlaytest || m == ModeTest }

// Session is one connected player. The connection's command loop owns it;
// the output pipeline only reads it for rendering decisions. Mutations
// happen inside Apply or during transport negotiation.
type Session struct {
	ID     uuid.UUID
	ConnID int // connection number for log prefixes
	Out    *outbox.Outbox

	// executeMu serializes the lifecycle per session: two commands from
	// one session never overlap in Apply or Commit.
	executeMu sync.Mutex

	mu        sync.Mutex
	state     SessionState
	mode      Mode
	account   *store.Account
	blueprint string
	room      string
	cols      int
	rows      int
	lastRef   string // pronoun memory for "it"
	testOwner string
	overlay   *world.Runtime // backing layer in ephemeral modes
	inventory []string
	balance   int

	hintsFired map[string]bool // hint IDs shown with once set
	hintLast   map[string]int  // hint ID -> visit count at last showing
	visits     int             // room entries, for hint cooldowns
}

// NewSession creates a session in the authenticating state.
func NewSession(connID int, out *outbox.Outbox) *Session {
	return &Session{
		ID:     uuid.New(),
		ConnID: connID,
		Out:    out,
		state:  StateAuthenticating,
		mode:   ModeLive,
	}
}

// Activate binds an authenticated account and moves to the active state.
func (s *Session) Activate(acct *store.Account, blueprint, room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.account = acct
	s.state = StateActive
	s.blueprint = blueprint
	s.room = room
	if acct != nil {
		s.balance = acct.Balance
		s.inventory = append([]string(nil), acct.Inventory...)
	}
}

// Disconnect marks the session dead and drops any overlay.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateDisconnected
	s.overlay = nil
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches write targets. Entering an ephemeral mode creates a
// fresh overlay; leaving one discards it along with everything it held.
func (s *Session) SetMode(m Mode, owner string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
	s.testOwner = owner
	if m.Ephemeral() {
		s.overlay = world.NewRuntime(s.blueprint, world.KindOverlay)
	} else {
		s.overlay = nil
	}
}

// Overlay returns the session's private runtime layer, nil outside
// ephemeral modes.
func (s *Session) Overlay() *world.Runtime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overlay
}

// Account returns the bound account, nil before login.
func (s *Session) Account() *store.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account
}

// Name returns the account name, or a placeholder before login.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil {
		return fmt.Sprintf("guest-%d", s.ConnID)
	}
	return s.account.Name
}

// Admin reports whether the bound account has the builder role.
func (s *Session) Admin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.account != nil && s.account.Admin
}

// Room returns the session's current room key.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// Blueprint returns the blueprint key the session is playing in.
func (s *Session) Blueprint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blueprint
}

// MoveTo updates the current-room reference (Apply stage of movement).
func (s *Session) MoveTo(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.room = room
}

// Scope identifies the session registry bucket for this session's world
// writes: all live sessions on a blueprint share one scope, drafts share
// another, and overlays are private to the session.
func (s *Session) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.mode {
	case ModeLive:
		return "live:" + s.blueprint
	case ModeDraft:
		return "draft:" + s.blueprint
	default:
		return "overlay:" + s.ID.String()
	}
}

// Resize records the negotiated window size.
func (s *Session) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cols, s.rows = cols, rows
}

// Size returns the last negotiated window size (0,0 when unknown).
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// LastRef returns the pronoun referent set by the previous command.
func (s *Session) LastRef() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRef
}

// Inventory returns a copy of the carried object keys.
func (s *Session) Inventory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.inventory...)
}

// Carrying reports whether an object key is in the inventory.
func (s *Session) Carrying(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.inventory {
		if k == key {
			return true
		}
	}
	return false
}

// Balance returns the session's coin balance.
func (s *Session) Balance() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// removeOne drops the first instance of key from inv.
func removeOne(inv []string, key string) []string {
	for i, k := range inv {
		if k == key {
			return append(inv[:i], inv[i+1:]...)
		}
	}
	return inv
}

// InstallEffects applies a committed command's staged session effects:
// balance delta, inventory changes, and the pronoun referent. Effects a
// failed commit staged are never installed.
func (s *Session) InstallEffects(coins int, gained, shed []string, lastRef string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance += coins
	s.inventory = append(s.inventory, gained...)
	for _, k := range shed {
		s.inventory = removeOne(s.inventory, k)
	}
	if lastRef != "" {
		s.lastRef = lastRef
	}
}

// SyncAccount returns a copy of the account record carrying session-held
// progress plus the command's still-staged effects, for persistence ahead
// of install. Nil in ephemeral modes: playtest loot is not real.
func (s *Session) SyncAccount(coins int, gained, shed []string) *store.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.account == nil || s.mode.Ephemeral() {
		return nil
	}
	acct := *s.account
	acct.Balance = s.balance + coins
	inv := append([]string(nil), s.inventory...)
	inv = append(inv, gained...)
	for _, k := range shed {
		inv = removeOne(inv, k)
	}
	acct.Inventory = inv
	acct.Zone = s.blueprint
	acct.Room = s.room
	return &acct
}

// VisitTick counts a room entry and returns the new visit count.
func (s *Session) VisitTick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visits++
	return s.visits
}

// HintEligible reports whether a hint may fire now, and records the
// showing if it may. Once-hints never repeat; cooldown-hints wait the
// configured number of visits between showings.
func (s *Session) HintEligible(h world.Hint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hintsFired == nil {
		s.hintsFired = make(map[string]bool)
		s.hintLast = make(map[string]int)
	}
	if h.Once && s.hintsFired[h.ID] {
		return false
	}
	if h.Cooldown > 0 {
		if last, ok := s.hintLast[h.ID]; ok && s.visits-last < h.Cooldown {
			return false
		}
	}
	s.hintsFired[h.ID] = true
	s.hintLast[h.ID] = s.visits
	return true
}

// Prompt renders the session's prompt string.
func (s *Session) Prompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == ModeLive {
		return "> "
	}
	return "[" + s.mode.String() + "] > "
}
