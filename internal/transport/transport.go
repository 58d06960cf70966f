// Package transport upgrades incoming HTTP requests to websockets and
// runs the per-connection read/write pumps, translating the
// named-event wire protocol of spec.md section 6 into calls on the
// Router and back. Grounded on jonradoff-chessmata's
// internal/handlers/websocket.go (upgrader config, read/write pump
// split, ping ticker, read-deadline refresh on pong) generalized from
// a session-keyed Hub to a single authenticated connection per
// player, since this engine's Router already keeps the player index.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vimsent/chessd/internal/events"
	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
	"github.com/vimsent/chessd/internal/router"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the wire shape for every message in both directions:
// a named event plus an arbitrary JSON payload.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Server owns the HTTP upgrade handler and the Authenticator used to
// resolve register/login against the durable store.
type Server struct {
	gateway *persistence.Gateway
	router  *router.Router
	auth    *Authenticator
}

func NewServer(gateway *persistence.Gateway, r *router.Router) *Server {
	return &Server{gateway: gateway, router: r, auth: NewAuthenticator(gateway)}
}

// conn adapts one live websocket to router.Conn and owns its
// read/write pumps.
type conn struct {
	ws   *websocket.Conn
	send chan envelope

	mu          sync.Mutex
	playerID    int64
	loggedIn    bool
	usernameVal string
}

// Send implements router.Conn. It never blocks the caller; when the
// outbound buffer is full the message is dropped and logged instead of
// stalling the Session's actor loop. The connection itself stays open.
func (c *conn) Send(event string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		logging.Error("failed to marshal outbound payload", "event", event, "error", err)
		return
	}
	select {
	case c.send <- envelope{Event: event, Payload: raw}:
	default:
		logging.Warn("dropping outbound message, send buffer full", "event", event)
	}
}

// HandleWebSocket upgrades the request and starts the pumps. It
// blocks until the connection closes.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &conn{ws: ws, send: make(chan envelope, sendBuffer)}
	c.Send(events.ConnectionConfirmed, events.ConnectionConfirmedPayload{
		Server:    "chessd",
		Timestamp: time.Now().UnixMilli(),
	})

	done := make(chan struct{})
	go s.writePump(c, done)
	s.readPump(c, done)
}

func (s *Server) writePump(c *conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (s *Server) readPump(c *conn, done chan struct{}) {
	defer func() {
		close(done)
		c.mu.Lock()
		pid, logged := c.playerID, c.loggedIn
		c.mu.Unlock()
		if logged {
			s.router.Unregister(pid)
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Warn("websocket read error", "error", err)
			}
			return
		}
		s.dispatch(c, env)
	}
}

// dispatch maps one inbound envelope to a Router call, normalizing
// the move payload's SAN-or-coordinate ambiguity per spec.md section 6.
func (s *Server) dispatch(c *conn, env envelope) {
	ctx := context.Background()

	switch env.Event {
	case events.Register:
		var p events.RegisterPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		s.handleRegister(c, p)
	case events.Login:
		var p events.LoginPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		s.handleLogin(c, p)
	case events.Heartbeat:
		if pid, ok := c.identity(); ok {
			s.router.Heartbeat(pid)
		}
	case events.CreateGame:
		var p events.CreateGamePayload
		_ = json.Unmarshal(env.Payload, &p) // timeControl is optional
		if info, ok := s.identityInfo(ctx, c); ok {
			s.router.HandleCreateGame(info, p.TimeControl)
		}
	case events.SearchForGame:
		if info, ok := s.identityInfo(ctx, c); ok {
			s.router.HandleSearchForGame(info)
		}
	case events.CancelMatchmaking:
		if info, ok := s.identityInfo(ctx, c); ok {
			s.router.HandleCancelMatchmaking(info)
		}
	case events.Move:
		var raw json.RawMessage
		var gameWrap struct {
			GameID string          `json:"gameId"`
			Move   json.RawMessage `json:"move"`
		}
		if err := json.Unmarshal(env.Payload, &gameWrap); err != nil {
			return
		}
		raw = gameWrap.Move
		move := decodeMove(gameWrap.GameID, raw)
		if pid, ok := c.identity(); ok {
			s.router.HandleMove(ctx, pid, move)
		}
	case events.Resign:
		var p events.ResignPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if pid, ok := c.identity(); ok {
			s.router.HandleResign(ctx, pid, p.GameID)
		}
	case events.ReconnectToGame:
		var p events.GameIDPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if pid, ok := c.identity(); ok {
			s.router.HandleReconnect(ctx, pid, p.GameID)
		}
	case events.RequestGameSync:
		var p events.GameIDPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if pid, ok := c.identity(); ok {
			s.router.HandleGameSync(ctx, pid, p.GameID)
		}
	case events.Chat:
		var p events.ChatPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return
		}
		if pid, ok := c.identity(); ok {
			s.router.HandleChat(pid, p.GameID, c.username(), p.Message)
		}
	default:
		logging.Debug("unrecognized event", "event", env.Event)
	}
}

// decodeMove normalizes the two wire shapes of "move": a bare SAN
// string, or a {from,to,promotion} object.
func decodeMove(gameID string, raw json.RawMessage) events.MoveIn {
	var san string
	if err := json.Unmarshal(raw, &san); err == nil {
		return events.MoveIn{GameID: gameID, SAN: san}
	}
	var coord struct {
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion"`
	}
	_ = json.Unmarshal(raw, &coord)
	return events.MoveIn{GameID: gameID, From: coord.From, To: coord.To, Promotion: coord.Promotion}
}

func (c *conn) identity() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID, c.loggedIn
}

func (c *conn) setIdentity(playerID int64, username string) {
	c.mu.Lock()
	c.playerID = playerID
	c.loggedIn = true
	c.usernameVal = username
	c.mu.Unlock()
}

func (c *conn) username() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usernameVal
}

func (s *Server) identityInfo(ctx context.Context, c *conn) (player.Info, bool) {
	pid, ok := c.identity()
	if !ok {
		return player.Info{}, false
	}
	u, found, err := s.gateway.Store.FindUserByID(ctx, pid)
	if err != nil || !found {
		return player.Info{}, false
	}
	return player.Info{ID: u.ID, Username: u.Username, Elo: u.Elo, GamesPlayed: u.GamesPlayed, GamesWon: u.GamesWon}, true
}

func (s *Server) handleRegister(c *conn, p events.RegisterPayload) {
	info, failReason, ok := s.auth.Register(context.Background(), p.Username, p.Password)
	if !ok {
		c.Send(events.RegistrationFailure, events.RegistrationFailurePayload{Reason: failReason})
		return
	}
	c.setIdentity(info.ID, info.Username)
	s.router.Register(info, c)
	c.Send(events.RegistrationSuccess, events.LoginSuccessPayload{
		UserID: int(info.ID), Username: info.Username, Elo: info.Elo,
	})
}

func (s *Server) handleLogin(c *conn, p events.LoginPayload) {
	info, failReason, ok := s.auth.Login(context.Background(), p.Username, p.Password)
	if !ok {
		c.Send(events.LoginFailure, events.LoginFailurePayload{Reason: failReason})
		return
	}
	c.setIdentity(info.ID, info.Username)
	s.router.Register(info, c)
	c.Send(events.LoginSuccess, events.LoginSuccessPayload{
		UserID:      int(info.ID),
		Username:    info.Username,
		Elo:         info.Elo,
		GamesPlayed: info.GamesPlayed,
		GamesWon:    info.GamesWon,
	})
}
