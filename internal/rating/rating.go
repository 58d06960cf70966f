// Package rating computes rating deltas for a finished game. It is a
// pure function package with no I/O. Compute applies no floor; the
// floor is enforced when a delta is written, by the Persistence
// Gateway's update (spec.md section 4.3). ApplyFloor is a standalone
// clamp helper that the write path does not call.
package rating

import "math"

// Result is the outcome of a two-player game from player A's
// perspective.
type Result int

const (
	AWins Result = iota
	BWins
	Draw
)

// Input bundles the two players' current rating and experience.
type Input struct {
	RatingA Int
	GamesA  int
	RatingB Int
	GamesB  int
	Result  Result
}

// Int is a plain rating value; defined as an alias so call sites read
// naturally as "rating.Int" without importing a numeric width choice.
type Int = int

// Delta holds the integer rating change for each player.
type Delta struct {
	A int
	B int
}

// kFactor returns the K-factor for a player with the given number of
// recorded games: 32 under 10 games, 24 under 30, else 16.
func kFactor(games int) int {
	switch {
	case games < 10:
		return 32
	case games < 30:
		return 24
	default:
		return 16
	}
}

func expected(ratingSelf, ratingOpponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(ratingOpponent-ratingSelf)/400))
}

func score(r Result, forA bool) float64 {
	switch r {
	case Draw:
		return 0.5
	case AWins:
		if forA {
			return 1
		}
		return 0
	case BWins:
		if forA {
			return 0
		}
		return 1
	default:
		return 0.5
	}
}

// Compute returns the rounded integer rating deltas for both players.
// No floor is applied here; spec.md section 4.3 requires the floor of
// 100 to be enforced where the delta is applied, not where it is
// calculated.
func Compute(in Input) Delta {
	expA := expected(in.RatingA, in.RatingB)
	expB := 1 - expA

	scoreA := score(in.Result, true)
	scoreB := score(in.Result, false)

	deltaA := round(float64(kFactor(in.GamesA)) * (scoreA - expA))
	deltaB := round(float64(kFactor(in.GamesB)) * (scoreB - expB))

	return Delta{A: deltaA, B: deltaB}
}

func round(f float64) int {
	if f >= 0 {
		return int(math.Floor(f + 0.5))
	}
	return -int(math.Floor(-f + 0.5))
}

// Floor is the minimum rating a user may be persisted with.
const Floor = 100

// ApplyFloor clamps a post-delta rating to Floor.
func ApplyFloor(rating int) int {
	if rating < Floor {
		return Floor
	}
	return rating
}
