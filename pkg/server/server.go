package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/port4k/port4k/pkg/game"
	"github.com/port4k/port4k/pkg/scrollback"
)

// Server owns the telnet listener and the web transport and wires both
// into one game engine.
type Server struct {
	Config  Config
	Game    *game.Game
	Auth    *AuthService
	Metrics *Metrics
	Scroll  *scrollback.Log

	listener net.Listener
	web      *WebServer
	nextID   atomic.Int64
	closing  atomic.Bool
}

// NewServer creates a server around an assembled game engine.
func NewServer(g *game.Game, cfg Config) *Server {
	s := &Server{
		Config: cfg,
		Game:   g,
		Scroll: g.Scroll,
	}
	if g.Store != nil {
		s.Auth = NewAuthService(g.Store, cfg.JWTSecret, cfg.JWTExpiry)
	}
	s.Metrics = NewMetrics(g)
	s.web = NewWebServer(s)
	return s
}

// NextID hands out session/connection IDs shared by both transports.
func (s *Server) NextID() int {
	return int(s.nextID.Add(1))
}

// Start opens both listeners and blocks until one of them fails or Stop
// is called.
func (s *Server) Start() error {
	if s.Scroll != nil {
		if ret := s.Config.RetentionDuration(); ret > 0 {
			s.Scroll.StartRetentionCleanup(ret)
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		addr := fmt.Sprintf("%s:%d", s.Config.TelnetHost, s.Config.TelnetPort)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- fmt.Errorf("telnet listener: %w", err)
			return
		}
		s.listener = ln
		log.Printf("Listening (telnet) on %s", addr)
		s.acceptLoop(ln)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.web.Start(); err != nil {
			errCh <- fmt.Errorf("web listener: %w", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		s.Stop()
		<-done
		return err
	case <-done:
		return nil
	}
}

// Stop closes the listeners. In-flight connections finish their current
// command and then see a closed socket.
func (s *Server) Stop() {
	if !s.closing.CompareAndSwap(false, true) {
		return
	}
	if s.listener != nil {
		s.listener.Close()
	}
	if s.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.web.Stop(ctx)
	}
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			log.Printf("Accept error: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}
