// Package router is the Client Registry & Router named in spec.md
// section 4.6: it maps connections to player identities, dispatches
// inbound events to the Matchmaker and the right Session, and fans
// outbound events back out to the right connections. It implements
// session.Broadcaster, matchmaker.PairedNotifier and
// lifecycle.RatingObserver so none of those packages need to know
// anything about connections — grounded on the teacher-adjacent
// Hub/Room split in rias-glitch-telegram-webapp's internal/ws (a
// RWMutex-guarded registry keyed by user id, with a periodic
// stale-entry sweep) and princechess-server's Room (per-game
// broadcast of move/clock/game-over to exactly two participants).
package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vimsent/chessd/internal/events"
	"github.com/vimsent/chessd/internal/lifecycle"
	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/matchmaker"
	"github.com/vimsent/chessd/internal/oracle"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
	"github.com/vimsent/chessd/internal/session"
)

// Conn is the narrow interface the Router needs from a live
// connection. internal/transport implements this over a
// gorilla/websocket connection; tests implement it in-memory.
type Conn interface {
	Send(event string, payload interface{})
}

const (
	livenessSweepPeriod = 60 * time.Second
	livenessTimeout      = 180 * time.Second
)

type registeredConn struct {
	conn       Conn
	playerID   int64
	info       player.Info
	lastSeen   time.Time
}

// gameMembership records which two players belong to a game, so the
// Router can address a broadcast without asking the Session.
type gameMembership struct {
	white, black int64
}

// Router owns the player <-> connection mapping.
type Router struct {
	gateway     *persistence.Gateway
	lifecycle   *lifecycle.Manager
	matchmaker  *matchmaker.Matchmaker

	mu       sync.RWMutex
	byPlayer map[int64]*registeredConn
	games    map[string]gameMembership

	done chan struct{}
}

func New(gateway *persistence.Gateway, lc *lifecycle.Manager) *Router {
	return &Router{
		gateway:   gateway,
		lifecycle: lc,
		byPlayer:  make(map[int64]*registeredConn),
		games:     make(map[string]gameMembership),
		done:      make(chan struct{}),
	}
}

// SetLifecycle wires the Lifecycle Manager in after construction,
// breaking the construction-order cycle between Router (which needs a
// *lifecycle.Manager to look up Sessions) and Lifecycle (which needs a
// RatingObserver that Router itself implements).
func (r *Router) SetLifecycle(lc *lifecycle.Manager) {
	r.lifecycle = lc
}

// AttachMatchmaker wires the Matchmaker in after construction, since
// Matchmaker itself needs a Router-implementing Broadcaster at
// construction time — broken by having cmd/chessd build Router first,
// Matchmaker second, then call this.
func (r *Router) AttachMatchmaker(mm *matchmaker.Matchmaker) {
	r.matchmaker = mm
}

// RunLivenessSweep periodically evicts connections that have not sent
// a heartbeat within livenessTimeout. Call in its own goroutine.
func (r *Router) RunLivenessSweep() {
	ticker := time.NewTicker(livenessSweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweepStale()
		case <-r.done:
			return
		}
	}
}

func (r *Router) Stop() {
	close(r.done)
}

func (r *Router) sweepStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for id, rc := range r.byPlayer {
		if now.Sub(rc.lastSeen) > livenessTimeout {
			logging.Warn("connection stale, evicting", "player", id)
			delete(r.byPlayer, id)
			if r.matchmaker != nil {
				r.matchmaker.Dequeue(id)
			}
		}
	}
}

// Register associates a live Conn with an authenticated player.
// Reconnecting replaces any prior connection for the same player.
func (r *Router) Register(p player.Info, conn Conn) {
	r.mu.Lock()
	r.byPlayer[p.ID] = &registeredConn{conn: conn, playerID: p.ID, info: p, lastSeen: time.Now()}
	r.mu.Unlock()
}

// Unregister drops the connection for playerID, e.g. on socket close.
func (r *Router) Unregister(playerID int64) {
	r.mu.Lock()
	delete(r.byPlayer, playerID)
	r.mu.Unlock()
	if r.matchmaker != nil {
		r.matchmaker.Dequeue(playerID)
	}
}

// Heartbeat refreshes liveness for playerID.
func (r *Router) Heartbeat(playerID int64) {
	r.mu.Lock()
	if rc, ok := r.byPlayer[playerID]; ok {
		rc.lastSeen = time.Now()
	}
	r.mu.Unlock()
}

// IsConnected implements matchmaker.ConnectionChecker: whether
// playerID currently has a live, registered connection.
func (r *Router) IsConnected(playerID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byPlayer[playerID]
	return ok
}

func (r *Router) sendTo(playerID int64, event string, payload interface{}) {
	r.mu.RLock()
	rc, ok := r.byPlayer[playerID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	rc.conn.Send(event, payload)
}

// --- session.Broadcaster ------------------------------------------------

func (r *Router) BroadcastMove(m session.MoveBroadcast) {
	r.mu.RLock()
	gm, ok := r.games[m.GameID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	for _, pid := range []int64{gm.white, gm.black} {
		var mine, theirs int64
		if pid == gm.white {
			mine, theirs = m.Clock.WhiteRemaining.Milliseconds(), m.Clock.BlackRemaining.Milliseconds()
		} else {
			mine, theirs = m.Clock.BlackRemaining.Milliseconds(), m.Clock.WhiteRemaining.Milliseconds()
		}
		r.sendTo(pid, events.MoveMade, events.MoveMadePayload{
			GameID:                m.GameID,
			SAN:                   m.SAN,
			From:                  m.From,
			To:                    m.To,
			FEN:                   m.ResultingFEN,
			Turn:                  string(m.SideToMove),
			Player:                moverTag(m.MoverPlayerID, gm),
			PlayerTimeRemaining:   mine,
			OpponentTimeRemaining: theirs,
			ServerTimestamp:       m.ServerInstant.UnixMilli(),
		})
	}
}

func moverTag(moverID int64, gm gameMembership) string {
	if moverID == gm.white {
		return "white"
	}
	return "black"
}

func (r *Router) BroadcastClockTick(c session.ClockTick) {
	r.mu.RLock()
	gm, ok := r.games[c.GameID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	payload := events.TimerUpdatePayload{
		GameID:          c.GameID,
		Player1Time:     c.Clock.WhiteRemaining.Milliseconds(),
		Player2Time:     c.Clock.BlackRemaining.Milliseconds(),
		CurrentPlayer:   string(c.Clock.Running),
		ServerTimestamp: c.Clock.ServerInstant.UnixMilli(),
	}
	r.sendTo(gm.white, events.TimerUpdate, payload)
	r.sendTo(gm.black, events.TimerUpdate, payload)
}

func (r *Router) BroadcastGameOver(g session.GameOver) {
	r.mu.Lock()
	gm, ok := r.games[g.GameID]
	delete(r.games, g.GameID)
	r.mu.Unlock()
	if !ok {
		return
	}

	result := "draw"
	var winner *string
	if g.WinnerID != nil {
		w := "white"
		if *g.WinnerID == gm.black {
			w = "black"
		}
		winner = &w
		result = w
	}

	payload := events.GameOverPayload{
		GameID:       g.GameID,
		Result:       result,
		Winner:       winner,
		Reason:       string(g.Reason),
		FinalFEN:     g.FinalFEN,
		TotalMoves:   g.TotalMoves,
		GameDuration: g.FinishedAt.Sub(g.StartedAt).Milliseconds(),
	}
	r.sendTo(gm.white, events.GameOver, payload)
	r.sendTo(gm.black, events.GameOver, payload)
}

func (r *Router) SendError(playerID int64, reason string) {
	r.sendTo(playerID, events.ErrorEvent, events.ErrorPayload{Message: reason})
}

// --- matchmaker.PairedNotifier -------------------------------------------

func (r *Router) MatchFound(gameID string, white, black player.Info, timeControl time.Duration) {
	r.mu.Lock()
	r.games[gameID] = gameMembership{white: white.ID, black: black.ID}
	r.mu.Unlock()

	tc := int(timeControl.Minutes())
	r.sendTo(white.ID, events.MatchFound, events.MatchFoundPayload{
		GameID:      gameID,
		YourColor:   "white",
		Opponent:    events.OpponentSummary{Username: black.Username, Elo: black.Elo},
		TimeControl: tc,
	})
	r.sendTo(black.ID, events.MatchFound, events.MatchFoundPayload{
		GameID:      gameID,
		YourColor:   "black",
		Opponent:    events.OpponentSummary{Username: white.Username, Elo: white.Elo},
		TimeControl: tc,
	})
}

// --- lifecycle.RatingObserver --------------------------------------------

func (r *Router) RatingUpdated(playerID int64, newElo int, delta int) {
	// No-op: rating changes are not pushed to clients, and game_over's
	// eloChanges is left empty. Updated ratings are visible through the
	// HTTP /leaderboard and /users/{id}/stats routes.
}

// --- inbound dispatch ------------------------------------------------

// HandleCreateGame opens a WaitingGame for p and tells only the
// creator to wait, as white (spec.md section 4.5: create-waiting).
func (r *Router) HandleCreateGame(p player.Info, timeControlMinutes int) {
	if r.matchmaker == nil {
		return
	}
	tc := matchmaker.DefaultTimeControl
	if timeControlMinutes > 0 {
		tc = time.Duration(timeControlMinutes) * time.Minute
	}
	gameID := r.matchmaker.CreateWaiting(context.Background(), p, tc)
	r.sendTo(p.ID, events.WaitingForOpponent, events.WaitingForOpponentPayload{
		GameID:      gameID,
		TimeControl: int(tc.Minutes()),
		Position:    "white",
	})
}

// HandleSearchForGame runs the rating-band search against the open
// WaitingGame pool (spec.md section 4.5: search). Pairing, if any,
// reaches both players through MatchFound; a miss across every band
// is reported directly to the searcher.
func (r *Router) HandleSearchForGame(p player.Info) {
	if r.matchmaker == nil {
		return
	}
	if !r.matchmaker.Search(context.Background(), p) {
		r.sendTo(p.ID, events.NoGamesFound, struct{}{})
	}
}

// HandleCancelMatchmaking withdraws p's open WaitingGame, if any.
func (r *Router) HandleCancelMatchmaking(p player.Info) {
	if r.matchmaker == nil {
		return
	}
	r.matchmaker.Dequeue(p.ID)
	r.sendTo(p.ID, events.MatchmakingCancelled, struct{}{})
}

// HandleMove looks up the Session for the move's gameId and applies
// it, translating a Session error into invalid_move.
func (r *Router) HandleMove(ctx context.Context, playerID int64, in events.MoveIn) {
	s, ok := r.lifecycle.Lookup(in.GameID)
	if !ok {
		r.sendTo(playerID, events.InvalidMove, events.InvalidMovePayload{Reason: "no such game"})
		return
	}
	err := s.ApplyMove(ctx, playerID, oracle.Descriptor{
		SAN:       in.SAN,
		From:      in.From,
		To:        in.To,
		Promotion: in.Promotion,
	})
	if err != nil {
		r.sendTo(playerID, events.InvalidMove, events.InvalidMovePayload{Reason: reasonFor(err)})
	}
}

// HandleResign forwards a resignation to the named game's Session.
func (r *Router) HandleResign(ctx context.Context, playerID int64, gameID string) {
	s, ok := r.lifecycle.Lookup(gameID)
	if !ok {
		return
	}
	if err := s.Resign(ctx, playerID); err != nil {
		r.sendTo(playerID, events.ErrorEvent, events.ErrorPayload{Message: reasonFor(err)})
	}
}

// HandleReconnect replies with a full game_state_sync for the
// reconnecting player.
func (r *Router) HandleReconnect(ctx context.Context, playerID int64, gameID string) {
	s, ok := r.lifecycle.Lookup(gameID)
	if !ok {
		r.sendTo(playerID, events.ErrorEvent, events.ErrorPayload{Message: "no such game"})
		return
	}
	snap, err := s.ReconnectSnapshot(ctx, playerID)
	if err != nil {
		r.sendTo(playerID, events.ErrorEvent, events.ErrorPayload{Message: reasonFor(err)})
		return
	}
	r.sendSync(playerID, gameID, snap)
}

// HandleGameSync is identical to reconnect's reply but does not imply
// the client was ever disconnected (spec.md section 6's
// request_game_sync is the read-only twin of reconnect_to_game).
func (r *Router) HandleGameSync(ctx context.Context, playerID int64, gameID string) {
	r.HandleReconnect(ctx, playerID, gameID)
}

func (r *Router) sendSync(playerID int64, gameID string, snap session.ReconnectSnapshot) {
	r.sendTo(playerID, events.GameStateSync, events.GameStateSyncPayload{
		GameID:        gameID,
		FEN:           snap.Position,
		Turn:          string(snap.SideToMove),
		Moves:         snap.History,
		IsPlayerWhite: snap.YourColor == oracle.White,
		TimerData: events.TimerData{
			WhiteRemainingMs: snap.Clock.WhiteRemaining.Milliseconds(),
			BlackRemainingMs: snap.Clock.BlackRemaining.Milliseconds(),
			Running:          string(snap.Clock.Running),
			ServerTimestamp:  snap.Clock.ServerInstant.UnixMilli(),
		},
		GameStatus: "inprogress",
	})
}

// HandleChat relays a chat message to both members of gameID, trimmed
// and capped at events.MaxChatLength characters (spec.md section 6).
func (r *Router) HandleChat(senderID int64, gameID, username, message string) {
	r.mu.RLock()
	gm, ok := r.games[gameID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	message = trimChatMessage(message)
	payload := events.ChatEventPayload{GameID: gameID, Username: username, Message: message, Timestamp: time.Now().UnixMilli()}
	r.sendTo(gm.white, events.ChatEvent, payload)
	r.sendTo(gm.black, events.ChatEvent, payload)
}

func trimChatMessage(message string) string {
	message = strings.TrimSpace(message)
	runes := []rune(message)
	if len(runes) > events.MaxChatLength {
		runes = runes[:events.MaxChatLength]
	}
	return string(runes)
}

func reasonFor(err error) string {
	var sessErr *session.Error
	if e, ok := err.(*session.Error); ok {
		sessErr = e
	}
	if sessErr == nil {
		return err.Error()
	}
	switch sessErr.Kind {
	case session.ErrNotYourTurn:
		return "not your turn"
	case session.ErrIllegal:
		return "Invalid move"
	case session.ErrNotActive:
		return "game is not active"
	default:
		return "rejected"
	}
}
