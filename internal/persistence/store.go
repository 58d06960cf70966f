// Package persistence mediates every durable write and every
// ephemeral cache access, per spec.md section 4.7. DurableStore is
// backed by PostgreSQL through sqlx (grounded on
// Byabasaija-playpool/internal/game/manager.go, which pairs *sqlx.DB
// with *redis.Client for the same matchmaking/game-record shape);
// Cache is backed by Redis. Reads are opportunistic and must tolerate
// a cache miss; writes go through DurableStore and are the sole
// source of truth.
package persistence

import (
	"context"
	"time"
)

// DurableStore is the relational store for users, games and moves.
type DurableStore interface {
	InsertUser(ctx context.Context, username, passwordHash string) (User, error)
	FindUserByName(ctx context.Context, username string) (User, bool, error)
	FindUserByID(ctx context.Context, id int64) (User, bool, error)
	TouchLastLogin(ctx context.Context, id int64) error

	InsertWaitingGame(ctx context.Context, gameID string, creatorID int64, timeControlMinutes int) error
	PromoteToInProgress(ctx context.Context, gameID string, blackID int64) error
	DeleteWaiting(ctx context.Context, gameID string) error

	AppendMove(ctx context.Context, gameID string, moveNumber int, san string, playerID int64, at time.Time) error
	FinalizeGame(ctx context.Context, in FinalizeInput) error
	ApplyRatingDelta(ctx context.Context, in RatingDeltaInput) (User, error)

	Leaderboard(ctx context.Context, limit, offset int) ([]User, error)
	GameMoves(ctx context.Context, gameID string) ([]MoveRecord, error)
	Games(ctx context.Context) ([]GameRecord, error)
	UserStats(ctx context.Context, id int64) (User, bool, error)
}

// Cache is the ephemeral key-value store for last-known position and
// turn per active game. Every read tolerates absence.
type Cache interface {
	PutPosition(ctx context.Context, gameID, fen string) error
	PutTurn(ctx context.Context, gameID, turn string) error
	GetPosition(ctx context.Context, gameID string) (fen string, ok bool)
}
