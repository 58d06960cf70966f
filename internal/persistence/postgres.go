package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Postgres is the DurableStore implementation backed by PostgreSQL.
type Postgres struct {
	db *sqlx.DB
}

// OpenPostgres opens and pings the database, matching spec.md section
// 7's "cannot open durable store" being a fatal startup error — the
// caller is expected to treat a non-nil error here as fatal.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) InsertUser(ctx context.Context, username, passwordHash string) (User, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `
		INSERT INTO users (username, password_hash, elo, created_at, games_played, games_won)
		VALUES ($1, $2, 1200, now(), 0, 0)
		RETURNING id, username, password_hash, elo, games_played, games_won, created_at, last_login
	`, username, passwordHash)
	return u, err
}

func (p *Postgres) FindUserByName(ctx context.Context, username string) (User, bool, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `SELECT * FROM users WHERE username = $1`, username)
	return found(u, err)
}

func (p *Postgres) FindUserByID(ctx context.Context, id int64) (User, bool, error) {
	var u User
	err := p.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = $1`, id)
	return found(u, err)
}

func found(u User, err error) (User, bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (p *Postgres) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE users SET last_login = now() WHERE id = $1`, id)
	return err
}

func (p *Postgres) InsertWaitingGame(ctx context.Context, gameID string, creatorID int64, timeControlMinutes int) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO games (id, player_white_id, status, created_at, time_control_minutes, total_moves)
		VALUES ($1, $2, 'waiting', now(), $3, 0)
	`, gameID, creatorID, timeControlMinutes)
	return err
}

func (p *Postgres) PromoteToInProgress(ctx context.Context, gameID string, blackID int64) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE games SET status = 'inprogress', player_black_id = $2 WHERE id = $1
	`, gameID, blackID)
	return err
}

func (p *Postgres) DeleteWaiting(ctx context.Context, gameID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1 AND status = 'waiting'`, gameID)
	return err
}

func (p *Postgres) AppendMove(ctx context.Context, gameID string, moveNumber int, san string, playerID int64, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO game_moves (game_id, move_number, move_notation, player_id, timestamp)
		VALUES ($1, $2, $3, $4, $5)
	`, gameID, moveNumber, san, playerID, at)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `UPDATE games SET total_moves = $2 WHERE id = $1`, gameID, moveNumber)
	return err
}

func (p *Postgres) FinalizeGame(ctx context.Context, in FinalizeInput) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE games
		SET status = 'finished', winner_id = $2, end_reason = $3, finished_at = $4, total_moves = $5
		WHERE id = $1
	`, in.GameID, in.WinnerID, in.EndReason, in.FinishedAt, in.TotalMoves)
	return err
}

// ApplyRatingDelta is the atomic increment named in spec.md section
// 4.7: rating = max(100, rating + delta); games_played += 1;
// games_won += win_flag. The floor is applied inside the same
// statement that reads the current rating, so interleaved
// finalizations touching the same user can never race each other
// (spec.md section 5).
func (p *Postgres) ApplyRatingDelta(ctx context.Context, in RatingDeltaInput) (User, error) {
	won := 0
	if in.Won {
		won = 1
	}
	var u User
	err := p.db.GetContext(ctx, &u, `
		UPDATE users
		SET elo = GREATEST(100, elo + $2),
		    games_played = games_played + 1,
		    games_won = games_won + $3
		WHERE id = $1
		RETURNING id, username, password_hash, elo, games_played, games_won, created_at, last_login
	`, in.UserID, in.Delta, won)
	return u, err
}

func (p *Postgres) Leaderboard(ctx context.Context, limit, offset int) ([]User, error) {
	var users []User
	err := p.db.SelectContext(ctx, &users, `
		SELECT * FROM users ORDER BY elo DESC LIMIT $1 OFFSET $2
	`, limit, offset)
	return users, err
}

func (p *Postgres) GameMoves(ctx context.Context, gameID string) ([]MoveRecord, error) {
	var moves []MoveRecord
	err := p.db.SelectContext(ctx, &moves, `
		SELECT * FROM game_moves WHERE game_id = $1 ORDER BY move_number ASC
	`, gameID)
	return moves, err
}

func (p *Postgres) Games(ctx context.Context) ([]GameRecord, error) {
	var games []GameRecord
	err := p.db.SelectContext(ctx, &games, `SELECT * FROM games ORDER BY created_at DESC`)
	return games, err
}

func (p *Postgres) UserStats(ctx context.Context, id int64) (User, bool, error) {
	return p.FindUserByID(ctx, id)
}
