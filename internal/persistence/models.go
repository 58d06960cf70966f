package persistence

import "time"

// GameStatus mirrors the waiting -> in-progress -> finished state
// machine of spec.md section 4.4.
type GameStatus string

const (
	StatusWaiting    GameStatus = "waiting"
	StatusInProgress GameStatus = "inprogress"
	StatusFinished   GameStatus = "finished"
)

// User is the durable row backing spec.md section 3's User entity.
type User struct {
	ID          int64     `db:"id"`
	Username    string    `db:"username"`
	PasswordHash string   `db:"password_hash"`
	Elo         int       `db:"elo"`
	GamesPlayed int       `db:"games_played"`
	GamesWon    int       `db:"games_won"`
	CreatedAt   time.Time `db:"created_at"`
	LastLogin   *time.Time `db:"last_login"`
}

// GameRecord is the durable games row.
type GameRecord struct {
	ID                 string     `db:"id"`
	PlayerWhiteID      int64      `db:"player_white_id"`
	PlayerBlackID      *int64     `db:"player_black_id"`
	Status             GameStatus `db:"status"`
	WinnerID           *int64     `db:"winner_id"`
	EndReason          *string    `db:"end_reason"`
	CreatedAt          time.Time  `db:"created_at"`
	FinishedAt         *time.Time `db:"finished_at"`
	TotalMoves         int        `db:"total_moves"`
	TimeControlMinutes int        `db:"time_control_minutes"`
}

// MoveRecord is one append-only row in game_moves.
type MoveRecord struct {
	ID           int64     `db:"id"`
	GameID       string    `db:"game_id"`
	MoveNumber   int       `db:"move_number"`
	MoveNotation string    `db:"move_notation"`
	PlayerID     int64     `db:"player_id"`
	Timestamp    time.Time `db:"timestamp"`
}

// FinalizeInput bundles everything FinalizeGame needs to write in one
// logical transaction.
type FinalizeInput struct {
	GameID     string
	WinnerID   *int64
	EndReason  string
	FinishedAt time.Time
	TotalMoves int
}

// RatingDeltaInput is one user's half of a rating update.
type RatingDeltaInput struct {
	UserID int64
	Delta  int
	Won    bool
}
