package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/port4k/port4k/pkg/game"
	"github.com/port4k/port4k/pkg/outbox"
	"github.com/port4k/port4k/pkg/scrollback"
	"github.com/port4k/port4k/pkg/store"
)

// WSMessage is the structured frame exchanged with web clients. Lines
// arrive pre-delimited here, so the line editor is bypassed entirely.
type WSMessage struct {
	Type    string              `json:"type"`
	Command string              `json:"command,omitempty"`
	Text    string              `json:"text,omitempty"`
	Result  *game.CommandResult `json:"result,omitempty"`
	Data    map[string]any      `json:"data,omitempty"`
}

// WebServer provides the HTTP/WebSocket transport alongside the telnet
// server. Both transports drive the same command lifecycle.
type WebServer struct {
	srv      *Server
	httpSrv  *http.Server
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// NewWebServer creates the web transport bound to the server's game.
func NewWebServer(s *Server) *WebServer {
	cfg := s.Config
	ws := &WebServer{
		srv: s,
		mux: http.NewServeMux(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(cfg.CORSOrigins) == 0 {
					return true
				}
				origin := r.Header.Get("Origin")
				for _, o := range cfg.CORSOrigins {
					if strings.EqualFold(o, origin) {
						return true
					}
				}
				return false
			},
		},
	}

	ws.mux.HandleFunc("GET /ws", ws.handleWebSocket)
	ws.mux.HandleFunc("POST /api/v1/auth/login", ws.handleAuthLogin)
	ws.mux.HandleFunc("POST /api/v1/auth/register", ws.handleAuthRegister)
	ws.mux.HandleFunc("POST /api/v1/auth/refresh", ws.handleAuthRefresh)
	ws.mux.HandleFunc("GET /health", ws.handleHealth)
	ws.mux.Handle("GET /metrics", s.Metrics.Handler())

	ws.httpSrv = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.WebHost, cfg.WebPort),
		Handler: ws.mux,
	}
	return ws
}

// Start blocks serving HTTP (or HTTPS when TLS is configured) until Stop.
func (ws *WebServer) Start() error {
	tlsConf, err := setupTLS(ws.srv.Config)
	if err != nil {
		return err
	}
	if tlsConf != nil {
		ws.httpSrv.TLSConfig = tlsConf
		log.Printf("Listening (web, tls) on %s", ws.httpSrv.Addr)
		err = ws.httpSrv.ListenAndServeTLS("", "")
	} else {
		log.Printf("Listening (web) on %s", ws.httpSrv.Addr)
		err = ws.httpSrv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the HTTP server down gracefully.
func (ws *WebServer) Stop(ctx context.Context) {
	ws.httpSrv.Shutdown(ctx)
}

// wsClient holds one WebSocket connection and its write mutex.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (wc *wsClient) sendJSON(msg WSMessage) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wc.conn.WriteJSON(msg)
}

// wsSink renders outbox frames as structured messages. Nothing is lost
// here: notify frames carry their payload instead of being dropped.
type wsSink struct {
	wc *wsClient
}

func (s *wsSink) WriteFrame(f outbox.Frame) error {
	switch f.Type {
	case outbox.FrameLine:
		return s.wc.sendJSON(WSMessage{Type: "text", Text: f.Text})
	case outbox.FrameSystem:
		return s.wc.sendJSON(WSMessage{Type: "system", Text: f.Text})
	case outbox.FramePrompt:
		return s.wc.sendJSON(WSMessage{Type: "prompt", Text: f.Text})
	case outbox.FrameNotify:
		if res, ok := f.Data["result"].(*game.CommandResult); ok && f.Text == "result" {
			return s.wc.sendJSON(WSMessage{Type: "result", Result: res})
		}
		return s.wc.sendJSON(WSMessage{Type: f.Text, Data: f.Data})
	case outbox.FrameRaw:
		// Telnet negotiation bytes have no meaning on this transport.
		return nil
	}
	return nil
}

// handleWebSocket upgrades the connection and binds a session. A valid
// token (query param or bearer header) logs the account in immediately.
func (ws *WebServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var claims *Claims
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = h[7:]
		}
	}
	if token != "" && ws.srv.Auth != nil {
		var err error
		claims, err = ws.srv.Auth.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}

	id := ws.srv.NextID()
	log.Printf("[%d] New websocket connection from %s", id, r.RemoteAddr)
	ws.srv.Metrics.ConnectsTotal.WithLabelValues("websocket").Inc()
	ws.srv.Metrics.Sessions.WithLabelValues("websocket").Inc()

	wc := &wsClient{conn: conn}
	out := outbox.New(id, ws.srv.Config.OutboxMax)
	sess := game.NewSession(id, out)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := out.Run(&wsSink{wc: wc}); err != nil {
			log.Printf("[%d] websocket write: %v", id, err)
		}
	}()

	c := &wsConn{srv: ws.srv, wc: wc, id: id, out: out, sess: sess}
	if claims != nil {
		c.login(claims.Account)
	} else {
		wc.sendJSON(WSMessage{Type: "welcome",
			Text: `Send {"type":"login","command":"login <name> <password>"} to authenticate.`})
	}

	go func() {
		defer func() {
			if sess.State() == game.StateActive {
				ws.srv.Game.Registry.Leave(sess, sess.Scope(), sess.Room())
			}
			sess.Disconnect()
			out.Close()
			<-consumerDone
			conn.Close()
			ws.srv.Metrics.Sessions.WithLabelValues("websocket").Dec()
			log.Printf("[%d] Websocket closed from %s", id, r.RemoteAddr)
		}()
		c.readLoop()
	}()
}

// wsConn is the per-connection state for the structured transport.
type wsConn struct {
	srv  *Server
	wc   *wsClient
	id   int
	out  *outbox.Outbox
	sess *game.Session
}

func (c *wsConn) readLoop() {
	for {
		_, raw, err := c.wc.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[%d] websocket read: %v", c.id, err)
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.wc.sendJSON(WSMessage{Type: "error", Text: "Invalid JSON message"})
			continue
		}

		switch msg.Type {
		case "command":
			if c.sess.State() != game.StateActive {
				c.handleLogin(msg.Command)
				continue
			}
			if c.execute(msg.Command) {
				return
			}
		case "login":
			c.handleLogin(msg.Command)
		default:
			c.wc.sendJSON(WSMessage{Type: "error", Text: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		}
	}
}

// execute runs one command and replies with the full structured result.
// Returns true when the session asked to quit.
func (c *wsConn) execute(line string) bool {
	c.srv.Metrics.CommandsTotal.Inc()
	c.record(scrollback.KindCommand, line)

	res := c.srv.Game.Execute(c.sess, line)
	if res.Text != "" {
		c.record(scrollback.KindOutput, res.Text)
	}
	// Through the outbox so results stay ordered with room notifications.
	c.out.Notify("result", map[string]any{"result": res})
	return res.Quit
}

// handleLogin authenticates an in-band "login <name> <password>" or
// "register <name> <password>" command string.
func (c *wsConn) handleLogin(input string) {
	fields := strings.Fields(input)
	st := c.srv.Game.Store
	if st == nil {
		c.login("")
		return
	}
	if len(fields) != 3 {
		c.wc.sendJSON(WSMessage{Type: "error", Text: "Use: login <name> <password> or register <name> <password>"})
		return
	}

	var acct *store.Account
	var err error
	switch strings.ToLower(fields[0]) {
	case "login", "connect":
		acct, err = st.Authenticate(fields[1], fields[2])
	case "register", "create":
		acct, err = st.CreateAccount(fields[1], fields[2])
	default:
		c.wc.sendJSON(WSMessage{Type: "error", Text: "Use: login <name> <password> or register <name> <password>"})
		return
	}
	if err != nil {
		c.wc.sendJSON(WSMessage{Type: "error", Text: "Invalid credentials"})
		return
	}
	c.login(acct.Name)
}

// login activates the session for the named account and shows the room.
func (c *wsConn) login(name string) {
	var acct *store.Account
	if name != "" && c.srv.Game.Store != nil {
		var err error
		acct, err = c.srv.Game.Store.GetAccount(name)
		if err != nil {
			c.wc.sendJSON(WSMessage{Type: "error", Text: "Account no longer exists"})
			return
		}
	}

	bpKey := c.srv.Config.EntryBlueprint
	room := ""
	if acct != nil && acct.Zone != "" && c.srv.Game.Library.Get(acct.Zone) != nil {
		bpKey = acct.Zone
		room = acct.Room
	}
	bp := c.srv.Game.Library.Get(bpKey)
	if bp == nil {
		c.wc.sendJSON(WSMessage{Type: "error", Text: "World not loaded"})
		return
	}
	if room == "" || bp.Rooms[room] == nil {
		room = bp.Entry
	}

	c.sess.Activate(acct, bpKey, room)
	c.srv.Game.Registry.Join(c.sess)
	log.Printf("[%d] Websocket login %q", c.id, c.sess.Name())
	c.wc.sendJSON(WSMessage{Type: "login", Data: map[string]any{
		"account": c.sess.Name(),
		"admin":   c.sess.Admin(),
	}})
	c.execute("look")
}

func (c *wsConn) record(kind, text string) {
	sc := c.srv.Scroll
	if sc == nil || c.sess.Account() == nil {
		return
	}
	if err := sc.Insert(c.sess.Name(), c.sess.Room(), kind, text); err != nil {
		log.Printf("[%d] scrollback: %v", c.id, err)
	}
}

// --- Auth HTTP handlers ---

func (ws *WebServer) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if ws.srv.Auth == nil {
		http.Error(w, `{"error":"accounts disabled"}`, http.StatusServiceUnavailable)
		return
	}
	token, acct, err := ws.srv.Auth.Login(req.Name, req.Password)
	if err != nil {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"token": token, "account": acct.Name, "admin": acct.Admin})
}

func (ws *WebServer) handleAuthRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if ws.srv.Auth == nil {
		http.Error(w, `{"error":"accounts disabled"}`, http.StatusServiceUnavailable)
		return
	}
	token, acct, err := ws.srv.Auth.Register(req.Name, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrAccountExists) {
			http.Error(w, `{"error":"name taken"}`, http.StatusConflict)
			return
		}
		http.Error(w, `{"error":"registration failed"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"token": token, "account": acct.Name})
}

func (ws *WebServer) handleAuthRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if ws.srv.Auth == nil {
		http.Error(w, `{"error":"accounts disabled"}`, http.StatusServiceUnavailable)
		return
	}
	token, err := ws.srv.Auth.RefreshToken(req.Token)
	if err != nil {
		http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, map[string]any{"token": token})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":   "ok",
		"sessions": ws.srv.Game.Registry.Count(),
		"zones":    ws.srv.Game.ZoneCount(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
