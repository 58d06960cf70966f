// Package session is the authoritative container for one active
// match (spec.md section 4.4). A Session is an actor: every inbound
// command is serialized through a single buffered inbox consumed by
// one goroutine, so the oracle position and the clock are never
// touched by two goroutines at once. This is the generalization of
// the teacher's matchmaker struct (a single mutex-guarded struct with
// a background loop) into a per-game actor with a channel inbox
// instead of a mutex, per the redesign flag in spec.md section 9.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/vimsent/chessd/internal/clock"
	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/oracle"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
)

// ErrorKind classifies why apply-move or resign was rejected.
type ErrorKind string

const (
	ErrNotYourTurn ErrorKind = "not-your-turn"
	ErrIllegal     ErrorKind = "illegal"
	ErrNotActive   ErrorKind = "not-active"
)

// Error is returned by Session methods on rejection; it is never
// returned for a successful command.
type Error struct {
	Kind ErrorKind
}

func (e *Error) Error() string { return string(e.Kind) }

// EndReason is the terminal reason recorded on a FinishedGame row.
type EndReason string

const (
	ReasonCheckmate            EndReason = "checkmate"
	ReasonStalemate            EndReason = "stalemate"
	ReasonInsufficientMaterial EndReason = "insufficient-material"
	ReasonThreefold            EndReason = "threefold"
	ReasonFiftyMove            EndReason = "fifty-move"
	ReasonResignation          EndReason = "resignation"
	ReasonTimeout              EndReason = "timeout"
	ReasonAgreedDraw           EndReason = "agreed-draw"
)

// MoveBroadcast is emitted to both participants on a legal,
// non-terminal move.
type MoveBroadcast struct {
	GameID          string
	SAN             string
	From            string
	To              string
	ResultingFEN    string
	SideToMove      oracle.Color
	Clock           clock.Snapshot
	ServerInstant   time.Time
	MoverPlayerID   int64
}

// GameOver is emitted to both participants exactly once, as the last
// event on a game's broadcast group (spec.md section 5).
type GameOver struct {
	GameID     string
	Reason     EndReason
	WinnerID   *int64
	FinalFEN   string
	TotalMoves int
	StartedAt  time.Time
	FinishedAt time.Time
}

// ClockTick is emitted roughly every 5s while the game is active, to
// keep clients' displayed time aligned with the authoritative Clock.
// A switch does not emit a ClockTick; the snapshot taken right after
// the switch travels in the MoveBroadcast instead.
type ClockTick struct {
	GameID string
	Clock  clock.Snapshot
}

// Broadcaster is how a Session tells the outside world about state
// changes. Session never knows about connections or transports;
// Router implements this.
type Broadcaster interface {
	BroadcastMove(MoveBroadcast)
	BroadcastClockTick(ClockTick)
	BroadcastGameOver(GameOver)
	SendError(playerID int64, reason string)
}

// FinalizeInput is what Session hands to the Lifecycle Manager when a
// game ends.
type FinalizeInput struct {
	GameID     string
	White      player.Info
	Black      player.Info
	WinnerID   *int64
	Reason     EndReason
	TotalMoves int
	FinishedAt time.Time
}

// Finalizer is implemented by the Lifecycle Manager: record the
// terminal row, apply rating deltas for decisive outcomes, and evict
// this Session from the active-games index.
type Finalizer interface {
	Finalize(ctx context.Context, in FinalizeInput)
}

// ReconnectSnapshot is the read-only reply to reconnect-snapshot.
type ReconnectSnapshot struct {
	Position   string
	SideToMove oracle.Color
	History    []string
	Clock      clock.Snapshot
	YourColor  oracle.Color
}

// Session is the authoritative in-memory state of one active match.
type Session struct {
	gameID      string
	white       player.Info
	black       player.Info
	timeControl time.Duration
	startedAt   time.Time

	gateway     *persistence.Gateway
	finalizer   Finalizer
	broadcaster Broadcaster

	inbox chan func(*state)

	done chan struct{}
}

// state is the mutable data only ever touched from the Session's
// single goroutine.
type state struct {
	position *oracle.Position
	clock    *clock.Clock
	finished bool
}

const inboxCapacity = 32

// New constructs a Session and starts its actor goroutine. White is
// always the creator; black is always the joiner (spec.md section
// 4.5).
func New(gameID string, white, black player.Info, timeControl time.Duration, gateway *persistence.Gateway, finalizer Finalizer, broadcaster Broadcaster) *Session {
	s := &Session{
		gameID:      gameID,
		white:       white,
		black:       black,
		timeControl: timeControl,
		startedAt:   time.Now(),
		gateway:     gateway,
		finalizer:   finalizer,
		broadcaster: broadcaster,
		inbox:       make(chan func(*state), inboxCapacity),
		done:        make(chan struct{}),
	}

	st := &state{position: oracle.New()}
	st.clock = clock.New(timeControl, s.postFlagFall)

	go s.run(st)
	return s
}

// run is the actor loop: the only goroutine allowed to touch state.
func (s *Session) run(st *state) {
	defer close(s.done)
	broadcastTicker := time.NewTicker(5 * time.Second)
	defer broadcastTicker.Stop()

	for {
		select {
		case cmd, ok := <-s.inbox:
			if !ok {
				return
			}
			cmd(st)
			if st.finished {
				return
			}
		case <-broadcastTicker.C:
			if !st.finished {
				s.broadcaster.BroadcastClockTick(ClockTick{GameID: s.gameID, Clock: st.clock.Snapshot()})
			}
		}
	}
}

// postFlagFall is the FlagFallSink passed to the Clock. It never
// dereferences Session state directly (spec.md section 9); it only
// posts a message onto the inbox, same as every other command.
func (s *Session) postFlagFall(losing clock.Side) {
	select {
	case s.inbox <- func(st *state) { s.handleFlagFall(st, losing) }:
	case <-s.done:
	}
}

func (s *Session) handleFlagFall(st *state, losing oracle.Color) {
	if st.finished {
		return
	}
	winnerColor := losing.Other()
	s.finalize(st, ReasonTimeout, winnerColor, true)
}

// send submits a command and blocks for its result, unless the
// Session has already terminated, in which case it returns
// ErrNotActive without the command ever running.
func (s *Session) send(fn func(*state) (interface{}, error)) (interface{}, error) {
	reply := make(chan struct {
		val interface{}
		err error
	}, 1)
	select {
	case s.inbox <- func(st *state) {
		val, err := fn(st)
		reply <- struct {
			val interface{}
			err error
		}{val, err}
	}:
	case <-s.done:
		return nil, &Error{Kind: ErrNotActive}
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-s.done:
		return nil, &Error{Kind: ErrNotActive}
	}
}

// ApplyMove validates and applies a move on behalf of playerID.
func (s *Session) ApplyMove(ctx context.Context, playerID int64, d oracle.Descriptor) error {
	_, err := s.send(func(st *state) (interface{}, error) {
		if st.finished {
			return nil, &Error{Kind: ErrNotActive}
		}
		side := s.sideFor(playerID)
		if side == "" {
			return nil, &Error{Kind: ErrNotActive}
		}
		if oracle.Turn(st.position) != side {
			return nil, &Error{Kind: ErrNotYourTurn}
		}

		applied, ok := oracle.Apply(st.position, d)
		if !ok {
			return nil, &Error{Kind: ErrIllegal}
		}

		st.position = applied.Position
		st.clock.Switch()
		snap := st.clock.Snapshot()

		moveNumber := len(oracle.History(st.position))
		s.gateway.AppendMove(ctx, s.gameID, moveNumber, applied.SAN, playerID, snap.ServerInstant)
		s.gateway.UpdateCache(ctx, s.gameID, oracle.FEN(st.position), string(oracle.Turn(st.position)))

		if reason := oracle.Terminal(st.position); reason != oracle.NotTerminal {
			s.finalizeFromOracle(st, reason)
			return nil, nil
		}

		s.broadcaster.BroadcastMove(MoveBroadcast{
			GameID:        s.gameID,
			SAN:           applied.SAN,
			From:          applied.From,
			To:            applied.To,
			ResultingFEN:  oracle.FEN(st.position),
			SideToMove:    oracle.Turn(st.position),
			Clock:         snap,
			ServerInstant: snap.ServerInstant,
			MoverPlayerID: playerID,
		})
		return nil, nil
	})
	return err
}

// Resign ends the game in favor of the other player.
func (s *Session) Resign(ctx context.Context, playerID int64) error {
	_, err := s.send(func(st *state) (interface{}, error) {
		if st.finished {
			return nil, &Error{Kind: ErrNotActive}
		}
		side := s.sideFor(playerID)
		if side == "" {
			return nil, &Error{Kind: ErrNotActive}
		}
		winnerColor := side.Other()
		s.finalize(st, ReasonResignation, winnerColor, true)
		return nil, nil
	})
	return err
}

// ReconnectSnapshot returns the read-only state needed to resynchronize
// a reconnecting client. Per spec.md section 9's open question, a
// finished game refuses reconnect with ErrNotActive rather than
// replaying the termination event.
func (s *Session) ReconnectSnapshot(ctx context.Context, playerID int64) (ReconnectSnapshot, error) {
	v, err := s.send(func(st *state) (interface{}, error) {
		if st.finished {
			return nil, &Error{Kind: ErrNotActive}
		}
		side := s.sideFor(playerID)
		if side == "" {
			return nil, &Error{Kind: ErrNotActive}
		}
		return ReconnectSnapshot{
			Position:   oracle.FEN(st.position),
			SideToMove: oracle.Turn(st.position),
			History:    oracle.History(st.position),
			Clock:      st.clock.Snapshot(),
			YourColor:  side,
		}, nil
	})
	if err != nil {
		return ReconnectSnapshot{}, err
	}
	return v.(ReconnectSnapshot), nil
}

// ForceTimeout lets an operator (or a test) declare flag-fall for a
// side directly, matching the force-timeout operation named in
// spec.md section 4.4.
func (s *Session) ForceTimeout(ctx context.Context, side oracle.Color) error {
	_, err := s.send(func(st *state) (interface{}, error) {
		if st.finished {
			return nil, &Error{Kind: ErrNotActive}
		}
		s.finalize(st, ReasonTimeout, side.Other(), true)
		return nil, nil
	})
	return err
}

func (s *Session) sideFor(playerID int64) oracle.Color {
	switch playerID {
	case s.white.ID:
		return oracle.White
	case s.black.ID:
		return oracle.Black
	default:
		return ""
	}
}

func (s *Session) finalizeFromOracle(st *state, reason oracle.TerminalReason) {
	winnerColor, decisive := oracle.Winner(st.position)
	var end EndReason
	switch reason {
	case oracle.Checkmate:
		end = ReasonCheckmate
	case oracle.Stalemate:
		end = ReasonStalemate
	case oracle.InsufficientMaterial:
		end = ReasonInsufficientMaterial
	case oracle.ThreefoldRepetition:
		end = ReasonThreefold
	case oracle.FiftyMoveRule:
		end = ReasonFiftyMove
	default:
		end = ReasonStalemate
	}
	s.finalize(st, end, winnerColor, decisive)
}

// finalize is single-shot: once st.finished is true, every subsequent
// command observes ErrNotActive without re-entering this function
// (spec.md section 4.4). Must be called from the actor goroutine.
func (s *Session) finalize(st *state, reason EndReason, winnerColor oracle.Color, decisive bool) {
	if st.finished {
		return
	}
	st.finished = true
	st.clock.Stop()

	var winnerID *int64
	if decisive {
		id := s.white.ID
		if winnerColor == oracle.Black {
			id = s.black.ID
		}
		winnerID = &id
	}

	totalMoves := len(oracle.History(st.position))
	finishedAt := time.Now()

	s.broadcaster.BroadcastGameOver(GameOver{
		GameID:     s.gameID,
		Reason:     reason,
		WinnerID:   winnerID,
		FinalFEN:   oracle.FEN(st.position),
		TotalMoves: totalMoves,
		StartedAt:  s.startedAt,
		FinishedAt: finishedAt,
	})

	s.finalizer.Finalize(context.Background(), FinalizeInput{
		GameID:     s.gameID,
		White:      s.white,
		Black:      s.black,
		WinnerID:   winnerID,
		Reason:     reason,
		TotalMoves: totalMoves,
		FinishedAt: finishedAt,
	})

	logging.Info("session finalized", "game", s.gameID, "reason", reason)
}

// GameID, White and Black are read-only accessors used by the Router
// and Lifecycle Manager, which never touch Session state directly.
func (s *Session) GameID() string     { return s.gameID }
func (s *Session) White() player.Info { return s.white }
func (s *Session) Black() player.Info { return s.black }

func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.gameID)
}
