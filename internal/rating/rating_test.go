package rating_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vimsent/chessd/internal/rating"
)

func TestEqualRatingsDecisiveGameIsSymmetric(t *testing.T) {
	d := rating.Compute(rating.Input{
		RatingA: 1200, GamesA: 5,
		RatingB: 1200, GamesB: 5,
		Result: rating.AWins,
	})
	assert.Equal(t, 16, d.A)
	assert.Equal(t, -16, d.B)
}

func TestDrawBetweenEqualsIsNoOp(t *testing.T) {
	d := rating.Compute(rating.Input{
		RatingA: 1500, GamesA: 40,
		RatingB: 1500, GamesB: 40,
		Result: rating.Draw,
	})
	assert.Equal(t, 0, d.A)
	assert.Equal(t, 0, d.B)
}

func TestUnderdogWinGainsMoreThanFavoriteWinGainsOnLoss(t *testing.T) {
	d := rating.Compute(rating.Input{
		RatingA: 1000, GamesA: 3,
		RatingB: 1600, GamesB: 3,
		Result: rating.AWins,
	})
	assert.Greater(t, d.A, 16)
}

func TestKFactorByExperience(t *testing.T) {
	veteran := rating.Compute(rating.Input{
		RatingA: 1200, GamesA: 50,
		RatingB: 1200, GamesB: 50,
		Result: rating.AWins,
	})
	novice := rating.Compute(rating.Input{
		RatingA: 1200, GamesA: 2,
		RatingB: 1200, GamesB: 2,
		Result: rating.AWins,
	})
	assert.Less(t, veteran.A, novice.A)
}

func TestApplyFloorClampsToFloor(t *testing.T) {
	assert.Equal(t, rating.Floor, rating.ApplyFloor(40))
	assert.Equal(t, 150, rating.ApplyFloor(150))
}
