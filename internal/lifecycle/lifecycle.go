// Package lifecycle owns the set of active Sessions and everything
// that happens at game end: rating computation, durable finalization
// and eviction. It implements session.Finalizer so a Session never
// needs to import this package (spec.md section 4.4/4.3).
package lifecycle

import (
	"context"
	"sync"

	"github.com/vimsent/chessd/internal/logging"
	"github.com/vimsent/chessd/internal/persistence"
	"github.com/vimsent/chessd/internal/player"
	"github.com/vimsent/chessd/internal/rating"
	"github.com/vimsent/chessd/internal/session"
)

// RatingObserver is notified with each player's post-game rating so
// the Router can push rating-updated events without Lifecycle knowing
// about connections.
type RatingObserver interface {
	RatingUpdated(playerID int64, newElo int, delta int)
}

// Manager is the active-games index plus the finalize pipeline.
type Manager struct {
	gateway  *persistence.Gateway
	observer RatingObserver

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func New(gateway *persistence.Gateway, observer RatingObserver) *Manager {
	return &Manager{
		gateway:  gateway,
		observer: observer,
		sessions: make(map[string]*session.Session),
	}
}

// Register adds a freshly paired Session to the active-games index.
// Matchmaker calls this once a Session has been constructed.
func (m *Manager) Register(s *session.Session) {
	m.mu.Lock()
	m.sessions[s.GameID()] = s
	m.mu.Unlock()
	logging.Info("session registered", "game", s.GameID())
}

// Lookup returns the active Session for gameID, if any.
func (m *Manager) Lookup(gameID string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[gameID]
	return s, ok
}

// Active returns a snapshot slice of every currently active Session,
// used by the HTTP observability surface (spec.md section 6).
func (m *Manager) Active() []*session.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Finalize implements session.Finalizer. It writes the durable record,
// computes rating deltas for decisive outcomes, and evicts the
// Session. A draw does not move either rating: both players get a
// zero delta, which still counts the game in games_played.
func (m *Manager) Finalize(ctx context.Context, in session.FinalizeInput) {
	defer m.evict(in.GameID)

	m.gateway.Finalize(ctx, persistence.FinalizeInput{
		GameID:     in.GameID,
		WinnerID:   in.WinnerID,
		EndReason:  string(in.Reason),
		FinishedAt: in.FinishedAt,
		TotalMoves: in.TotalMoves,
	})

	m.applyRatings(ctx, in)
}

func (m *Manager) applyRatings(ctx context.Context, in session.FinalizeInput) {
	result := rating.Draw
	switch {
	case in.WinnerID != nil && *in.WinnerID == in.White.ID:
		result = rating.AWins
	case in.WinnerID != nil && *in.WinnerID == in.Black.ID:
		result = rating.BWins
	}

	delta := rating.Compute(rating.Input{
		RatingA: in.White.Elo,
		GamesA:  in.White.GamesPlayed,
		RatingB: in.Black.Elo,
		GamesB:  in.Black.GamesPlayed,
		Result:  result,
	})
	if result == rating.Draw {
		delta = rating.Delta{}
	}

	m.applyOneRating(ctx, in.White, delta.A, result == rating.AWins)
	m.applyOneRating(ctx, in.Black, delta.B, result == rating.BWins)
}

func (m *Manager) applyOneRating(ctx context.Context, p player.Info, delta int, won bool) {
	u, err := m.gateway.ApplyRatingDelta(ctx, persistence.RatingDeltaInput{
		UserID: p.ID,
		Delta:  delta,
		Won:    won,
	})
	if err != nil {
		return
	}
	if m.observer != nil {
		m.observer.RatingUpdated(p.ID, u.Elo, delta)
	}
}

func (m *Manager) evict(gameID string) {
	m.mu.Lock()
	delete(m.sessions, gameID)
	m.mu.Unlock()
	logging.Info("session evicted", "game", gameID)
}
