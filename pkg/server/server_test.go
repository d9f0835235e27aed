package server

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/port4k/port4k/pkg/game"
	"github.com/port4k/port4k/pkg/outbox"
	"github.com/port4k/port4k/pkg/script"
	"github.com/port4k/port4k/pkg/store"
	"github.com/port4k/port4k/pkg/world"
)

// One shared server for the whole package: Prometheus collectors register
// in the default registry and must not register twice.
var (
	testSrvOnce sync.Once
	testSrv     *Server
)

func denBlueprint() *world.Blueprint {
	return &world.Blueprint{
		Key:   "den",
		Title: "The Den",
		Entry: "den",
		Rooms: map[string]*world.Room{
			"den": {
				Key:   "den",
				Title: "The Den",
				Body:  "A cramped den with a low ceiling.",
				Objects: []*world.Object{
					{Key: "lamp", Name: "lamp", Short: "a brass lamp", Takeable: true},
				},
			},
		},
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	testSrvOnce.Do(func() {
		// Not t.TempDir: the store outlives the first test that opens it.
		dir, err := os.MkdirTemp("", "port4k-server-test")
		if err != nil {
			t.Fatalf("temp dir: %v", err)
		}
		st, err := store.Open(filepath.Join(dir, "world.db"))
		if err != nil {
			t.Fatalf("open store: %v", err)
		}
		lib := world.NewStaticLibrary(denBlueprint())
		eng := script.NewEngine(2, 100*time.Millisecond)
		g := game.New(lib, st, eng)

		cfg := DefaultConfig()
		cfg.EntryBlueprint = "den"
		cfg.NegotiationTimeout = 100
		cfg.JWTSecret = "test-secret"
		testSrv = NewServer(g, cfg)
	})
	if testSrv == nil {
		t.Fatal("test server failed to initialize")
	}
	return testSrv
}

// dialPipe runs handleConnection against one end of an in-memory pipe and
// returns the client end plus a buffer collecting everything the server
// writes.
func dialPipe(t *testing.T, s *Server) (net.Conn, *lockedBuffer, chan struct{}) {
	t.Helper()
	client, srvSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.handleConnection(srvSide)
	}()

	buf := &lockedBuffer{}
	go func() {
		b := make([]byte, 1024)
		for {
			n, err := client.Read(b)
			if n > 0 {
				buf.Write(b[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return client, buf, done
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls the buffer for a substring so tests don't sleep blindly.
func waitFor(t *testing.T, buf *lockedBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(buf.String(), want) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in output:\n%s", want, buf.String())
}

func TestTelnetRegisterAndPlay(t *testing.T) {
	s := testServer(t)
	client, buf, done := dialPipe(t, s)
	defer client.Close()

	waitFor(t, buf, "Account name:")
	client.Write([]byte("register ted passw0rd\r\n"))
	waitFor(t, buf, "Welcome, ted.")
	waitFor(t, buf, "The Den")
	waitFor(t, buf, "brass lamp")

	client.Write([]byte("take lamp\r\n"))
	waitFor(t, buf, "You take")
	client.Write([]byte("quit\r\n"))
	waitFor(t, buf, "Goodbye.")

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection handler did not exit after quit")
	}
}

func TestTelnetTwoStepLogin(t *testing.T) {
	s := testServer(t)
	if _, err := s.Game.Store.CreateAccount("mira", "hunter2"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	client, buf, done := dialPipe(t, s)
	defer client.Close()

	waitFor(t, buf, "Account name:")
	client.Write([]byte("mira\r\n"))
	waitFor(t, buf, "Password:")

	client.Write([]byte("hunter2\r\n"))
	waitFor(t, buf, "Welcome, mira.")

	// The password must never be echoed back.
	if strings.Contains(buf.String(), "hunter2") {
		t.Error("password was echoed to the client")
	}

	client.Write([]byte("quit\r\n"))
	waitFor(t, buf, "Goodbye.")
	<-done
}

func TestTelnetWrongPasswordRetries(t *testing.T) {
	s := testServer(t)
	if _, err := s.Game.Store.CreateAccount("nash", "letmein"); err != nil {
		t.Fatalf("create account: %v", err)
	}

	client, buf, done := dialPipe(t, s)
	defer client.Close()

	waitFor(t, buf, "Account name:")
	for i := 0; i < loginRetries; i++ {
		client.Write([]byte("nash\r\n"))
		waitFor(t, buf, "Password:")
		client.Write([]byte("wrong\r\n"))
		if i < loginRetries-1 {
			waitFor(t, buf, "Wrong password.")
		}
	}
	waitFor(t, buf, "Too many attempts.")

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed after retry exhaustion")
	}
}

func TestTelnetUnknownAccount(t *testing.T) {
	s := testServer(t)
	client, buf, _ := dialPipe(t, s)
	defer client.Close()

	waitFor(t, buf, "Account name:")
	client.Write([]byte("nobody-here\r\n"))
	waitFor(t, buf, "Password:")
	client.Write([]byte("whatever\r\n"))
	waitFor(t, buf, "No such account.")
}

func TestEscapeIAC(t *testing.T) {
	plain := escapeIAC("hello")
	if string(plain) != "hello" {
		t.Errorf("plain text altered: %q", plain)
	}
	escaped := escapeIAC("a\xffb")
	if !bytes.Equal(escaped, []byte{'a', 0xFF, 0xFF, 'b'}) {
		t.Errorf("IAC not doubled: %v", escaped)
	}
}

func TestTelnetSinkFraming(t *testing.T) {
	client, srvSide := net.Pipe()
	defer client.Close()
	defer srvSide.Close()

	var got bytes.Buffer
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		io.Copy(&got, client)
	}()

	sink := &telnetSink{conn: srvSide}
	frames := []outbox.Frame{
		{Type: outbox.FrameLine, Text: "hello there"},
		{Type: outbox.FrameNotify, Text: "hint", Data: map[string]any{"id": "h1"}},
		{Type: outbox.FramePrompt, Text: "> "},
	}
	for _, f := range frames {
		if err := sink.WriteFrame(f); err != nil {
			t.Fatalf("write frame: %v", err)
		}
	}
	srvSide.Close()
	<-readDone

	want := "hello there\r\n> "
	if got.String() != want {
		t.Errorf("framed output = %q, want %q", got.String(), want)
	}
}
