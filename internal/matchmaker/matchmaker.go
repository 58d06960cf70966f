// Package matchmaker pairs a searching player against the pool of
// open WaitingGames by rating band (spec.md section 4.5). Structurally
// this is the teacher's matchmaker struct (matchmaker/main.go): a
// single mutex-guarded struct holding a waiting set — generalized from
// FIFO pairing to rating-band search, and from gRPC AssignMatch
// dispatch to constructing an in-process Session directly. Unlike the
// teacher, there is no background sweep: create-waiting and search are
// both synchronous, per-call operations against whatever WaitingGames
// currently exist.
package matchmaker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vimsent/chessd/internal/lifecycle"
	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
	"github.com/vimsent/chessd/internal/session"
)

// bands are the rating-difference tolerances a search tries in order
// against the current waiting pool, widening until a candidate turns
// up or the pool is exhausted (spec.md section 4.5: ±100, ±200, ±400,
// then unbounded). -1 marks the unbounded band.
var bands = []int{100, 200, 400, -1}

// DefaultTimeControl is used when a creator does not specify one.
const DefaultTimeControl = 30 * time.Minute

// PairedNotifier is told about a pairing so it can reach both players
// over their live connections; the Matchmaker never holds a
// connection reference itself.
type PairedNotifier interface {
	MatchFound(gameID string, white, black player.Info, timeControl time.Duration)
}

// ConnectionChecker reports whether a player currently has a live
// authenticated connection. Search uses it to skip WaitingGames whose
// creator has since dropped off without yet being dequeued.
type ConnectionChecker interface {
	IsConnected(playerID int64) bool
}

// waitingGame is one open invitation: a creator parked after
// create-waiting, not yet claimed by a search.
type waitingGame struct {
	gameID      string
	creator     player.Info
	timeControl time.Duration
	createdAt   time.Time
}

// Matchmaker holds every open WaitingGame and pairs them against
// incoming searches. The creator of a WaitingGame always plays white;
// whoever's search claims it always plays black (spec.md section
// 4.5).
type Matchmaker struct {
	gateway   *persistence.Gateway
	lifecycle *lifecycle.Manager
	broadcast session.Broadcaster
	notifier  PairedNotifier
	conns     ConnectionChecker

	mu        sync.Mutex
	waiting   map[string]*waitingGame // gameID -> entry
	byCreator map[int64]string        // creator playerID -> gameID
}

func New(gateway *persistence.Gateway, lc *lifecycle.Manager, broadcast session.Broadcaster, notifier PairedNotifier, conns ConnectionChecker) *Matchmaker {
	return &Matchmaker{
		gateway:   gateway,
		lifecycle: lc,
		broadcast: broadcast,
		notifier:  notifier,
		conns:     conns,
		waiting:   make(map[string]*waitingGame),
		byCreator: make(map[int64]string),
	}
}

// CreateWaiting allocates a game id, files a durable waiting row, and
// parks creator's WaitingGame in memory until some search claims it or
// it is cancelled. Returns the new game id.
func (m *Matchmaker) CreateWaiting(ctx context.Context, creator player.Info, timeControl time.Duration) string {
	gameID := fmt.Sprintf("g-%08x", rand.Uint32())

	if err := m.gateway.InsertWaitingGame(ctx, gameID, creator.ID, int(timeControl.Minutes())); err != nil {
		logging.Error("insert waiting game failed", "game", gameID, "error", err)
	}

	m.mu.Lock()
	m.waiting[gameID] = &waitingGame{
		gameID:      gameID,
		creator:     creator,
		timeControl: timeControl,
		createdAt:   time.Now(),
	}
	m.byCreator[creator.ID] = gameID
	m.mu.Unlock()

	logging.Info("waiting game created", "game", gameID, "creator", creator.ID, "elo", creator.Elo)
	return gameID
}

// Search tries bands ±100, ±200, ±400, then unbounded, in that order,
// against every WaitingGame currently open. Within the first band
// that yields any candidate, the one minimizing |creator.Elo -
// searcher.Elo| wins; ties go to the oldest WaitingGame. A
// WaitingGame whose creator is the searcher, or is not currently
// connected, is never a candidate. Reports false if no band ever
// yields one, in which case no_games_found is the caller's
// responsibility.
func (m *Matchmaker) Search(ctx context.Context, searcher player.Info) bool {
	m.mu.Lock()
	var best *waitingGame
	bestDist := 0
	for _, band := range bands {
		for _, wg := range m.waiting {
			if wg.creator.ID == searcher.ID {
				continue
			}
			if m.conns != nil && !m.conns.IsConnected(wg.creator.ID) {
				continue
			}
			dist := wg.creator.Elo - searcher.Elo
			if dist < 0 {
				dist = -dist
			}
			if band != -1 && dist > band {
				continue
			}
			if best == nil || dist < bestDist || (dist == bestDist && wg.createdAt.Before(best.createdAt)) {
				best = wg
				bestDist = dist
			}
		}
		if best != nil {
			break
		}
	}
	if best == nil {
		m.mu.Unlock()
		return false
	}
	delete(m.waiting, best.gameID)
	delete(m.byCreator, best.creator.ID)
	m.mu.Unlock()

	m.pair(ctx, best, searcher)
	return true
}

// pair promotes the durable waiting row to in-progress, constructs and
// registers the Session with creator as white and searcher as black,
// and notifies both sides.
func (m *Matchmaker) pair(ctx context.Context, wg *waitingGame, searcher player.Info) {
	white, black := wg.creator, searcher

	if err := m.gateway.PromoteToInProgress(ctx, wg.gameID, black.ID); err != nil {
		logging.Error("promote waiting game failed", "game", wg.gameID, "error", err)
	}

	s := session.New(wg.gameID, white, black, wg.timeControl, m.gateway, m.lifecycle, m.broadcast)
	m.lifecycle.Register(s)

	if m.notifier != nil {
		m.notifier.MatchFound(wg.gameID, white, black, wg.timeControl)
	}
	logging.Info("match created", "game", wg.gameID, "white", white.ID, "black", black.ID)
}

// Dequeue removes playerID's WaitingGame, if any, both in memory and
// durably — on explicit cancellation or creator disconnect (spec.md
// section 4.5).
func (m *Matchmaker) Dequeue(playerID int64) {
	m.mu.Lock()
	gameID, ok := m.byCreator[playerID]
	if ok {
		delete(m.waiting, gameID)
		delete(m.byCreator, playerID)
	}
	m.mu.Unlock()
	if ok {
		m.gateway.DeleteWaiting(context.Background(), gameID)
	}
}

// Waiting reports whether playerID currently has an open WaitingGame
// as creator.
func (m *Matchmaker) Waiting(playerID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byCreator[playerID]
	return ok
}
