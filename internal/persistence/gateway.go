package persistence

import (
	"context"
	"time"

	"github.com/vimsent/chessd/internal/logging"
)

// Gateway is the single entry point the rest of the engine uses to
// reach durable storage and the ephemeral cache, per spec.md section
// 4.7. It adds the retry and failure-tolerance policy from section 7
// on top of the raw DurableStore/Cache implementations.
type Gateway struct {
	Store DurableStore
	Cache Cache
}

func New(store DurableStore, cache Cache) *Gateway {
	return &Gateway{Store: store, Cache: cache}
}

// InsertWaitingGame files the durable row for a newly created
// WaitingGame. The Matchmaker's in-memory pool is authoritative for
// pairing, but the row must exist before AppendMove/FinalizeGame can
// reference gameID (spec.md section 4.5/4.7).
func (g *Gateway) InsertWaitingGame(ctx context.Context, gameID string, creatorID int64, timeControlMinutes int) error {
	if err := g.Store.InsertWaitingGame(ctx, gameID, creatorID, timeControlMinutes); err != nil {
		logging.Error("insert waiting game failed", "game", gameID, "error", err)
		return err
	}
	return nil
}

// PromoteToInProgress flips a WaitingGame's durable row to in-progress
// once the Matchmaker has paired it, recording the black player.
func (g *Gateway) PromoteToInProgress(ctx context.Context, gameID string, blackID int64) error {
	if err := g.Store.PromoteToInProgress(ctx, gameID, blackID); err != nil {
		logging.Error("promote to in-progress failed", "game", gameID, "error", err)
		return err
	}
	return nil
}

// DeleteWaiting removes a WaitingGame's durable row on cancellation or
// creator disconnect. Best-effort, like AppendMove: a failure here
// only leaves a stale waiting row behind, logged rather than retried.
func (g *Gateway) DeleteWaiting(ctx context.Context, gameID string) {
	if err := g.Store.DeleteWaiting(ctx, gameID); err != nil {
		logging.Error("delete waiting game failed", "game", gameID, "error", err)
	}
}

// AppendMove writes a move record. A failure here is logged but never
// rolls back in-memory Session state — the Session, not the
// Persistence Gateway, is authoritative (spec.md section 4.4).
func (g *Gateway) AppendMove(ctx context.Context, gameID string, moveNumber int, san string, playerID int64, at time.Time) {
	if err := g.Store.AppendMove(ctx, gameID, moveNumber, san, playerID, at); err != nil {
		logging.Error("append move failed", "game", gameID, "move", moveNumber, "error", err)
	}
}

// UpdateCache best-effort refreshes the ephemeral position/turn for a
// game. Never consulted during move validation; it only accelerates
// observability and cross-process reconnect.
func (g *Gateway) UpdateCache(ctx context.Context, gameID, fen, turn string) {
	_ = g.Cache.PutPosition(ctx, gameID, fen)
	_ = g.Cache.PutTurn(ctx, gameID, turn)
}

// Finalize writes the terminal game row. It is retried once inline on
// failure and then only logged — the in-memory Session is evicted
// regardless so clients still see game_over (spec.md section 4.4/7).
func (g *Gateway) Finalize(ctx context.Context, in FinalizeInput) {
	err := g.Store.FinalizeGame(ctx, in)
	if err != nil {
		logging.Warn("finalize write failed, retrying once", "game", in.GameID, "error", err)
		err = g.Store.FinalizeGame(ctx, in)
	}
	if err != nil {
		logging.Error("finalize write failed after retry", "game", in.GameID, "error", err)
	}
}

// ApplyRatingDelta applies one player's rating/games update atomically,
// retried once on failure to match Finalize's policy.
func (g *Gateway) ApplyRatingDelta(ctx context.Context, in RatingDeltaInput) (User, error) {
	u, err := g.Store.ApplyRatingDelta(ctx, in)
	if err != nil {
		logging.Warn("rating delta write failed, retrying once", "user", in.UserID, "error", err)
		u, err = g.Store.ApplyRatingDelta(ctx, in)
	}
	if err != nil {
		logging.Error("rating delta write failed after retry", "user", in.UserID, "error", err)
	}
	return u, err
}
