package rating

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/internal/domain"
)

func testConfig() domain.ActivityTypeRatingConfig {
	return domain.ActivityTypeRatingConfig{
		ActivityTypeID: "tennis",
		StartingRating: 1200,
		RatingFloor:    100,
		KFactorTiers: []domain.KFactorTier{
			{MaxGames: 10, K: 40},
			{MaxGames: 50, K: 32},
			{MaxGames: 0, K: 24},
		},
		MinimumParticipants: 2,
	}
}

func record(userID string, rating, games int) domain.RatingRecord {
	return domain.RatingRecord{
		UserID:         userID,
		ActivityTypeID: "tennis",
		Rating:         rating,
		GamesPlayed:    games,
		PeakRating:     rating,
	}
}

func TestHeadToHeadFavoriteWins(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1400, 20),
		"bob":   record("bob", 1200, 20),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "bob", Outcome: domain.OutcomeLoss},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)
	require.Len(t, updated, 2)

	aliceDelta := updated[0].Rating - 1400
	bobDelta := updated[1].Rating - 1200

	// The favorite gains a small amount; at the K=32 tier the swing for a
	// 200-point favorite is well under 16 points.
	assert.Greater(t, aliceDelta, 0)
	assert.Less(t, aliceDelta, 16)
	assert.Less(t, bobDelta, 0)
	assert.Greater(t, bobDelta, -16)
}

func TestHeadToHeadConservation(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1350, 30),
		"bob":   record("bob", 1180, 30),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeLoss},
		{UserID: "bob", Outcome: domain.OutcomeWin},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	aliceDelta := updated[0].Rating - 1350
	bobDelta := updated[1].Rating - 1180

	// With equal K and no skill influence the two deltas cancel out
	// within rounding.
	assert.InDelta(t, 0, aliceDelta+bobDelta, 1.0)
}

func TestUpsetGainsMoreThanExpectedResult(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1400, 20),
		"bob":   record("bob", 1200, 20),
	}

	favoriteWins, err := ComputeRatingDeltas(cfg, current, []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "bob", Outcome: domain.OutcomeLoss},
	}, nil)
	require.NoError(t, err)

	upset, err := ComputeRatingDeltas(cfg, current, []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeLoss},
		{UserID: "bob", Outcome: domain.OutcomeWin},
	}, nil)
	require.NoError(t, err)

	favoriteGain := favoriteWins[0].Rating - 1400
	underdogGain := upset[1].Rating - 1200
	assert.Greater(t, underdogGain, favoriteGain)
}

func TestFreeForAllUnderdogWinnerGainsMost(t *testing.T) {
	cfg := testConfig()
	// Five-participant race; the eventual winner has the lowest rating.
	ratings := map[string]int{"ann": 1100, "ben": 1250, "cal": 1300, "dee": 1400, "eve": 1500}
	current := make(map[string]domain.RatingRecord, len(ratings))
	for id, r := range ratings {
		current[id] = record(id, r, 25)
	}
	results := []domain.ParticipantResult{
		{UserID: "ann", Outcome: domain.OutcomeWin},
		{UserID: "ben", Outcome: domain.OutcomeLoss},
		{UserID: "cal", Outcome: domain.OutcomeLoss},
		{UserID: "dee", Outcome: domain.OutcomeLoss},
		{UserID: "eve", Outcome: domain.OutcomeLoss},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	maxDelta := math.Inf(-1)
	maxUser := ""
	for _, rec := range updated {
		delta := float64(rec.Rating - ratings[rec.UserID])
		if delta > maxDelta {
			maxDelta = delta
			maxUser = rec.UserID
		}
	}
	assert.Equal(t, "ann", maxUser)
	assert.Greater(t, maxDelta, 0.0)
}

func TestTeamMembersShareEqualDeltas(t *testing.T) {
	cfg := testConfig()
	cfg.TeamBased = true
	current := map[string]domain.RatingRecord{
		"a1": record("a1", 1300, 20),
		"a2": record("a2", 1250, 20),
		"a3": record("a3", 1200, 20),
		"b1": record("b1", 1280, 20),
		"b2": record("b2", 1240, 20),
		"b3": record("b3", 1220, 20),
	}
	results := []domain.ParticipantResult{
		{UserID: "a1", Team: "red", Outcome: domain.OutcomeWin},
		{UserID: "a2", Team: "red", Outcome: domain.OutcomeWin},
		{UserID: "a3", Team: "red", Outcome: domain.OutcomeWin},
		{UserID: "b1", Team: "blue", Outcome: domain.OutcomeLoss},
		{UserID: "b2", Team: "blue", Outcome: domain.OutcomeLoss},
		{UserID: "b3", Team: "blue", Outcome: domain.OutcomeLoss},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	winnerDelta := updated[0].Rating - current["a1"].Rating
	for i := 0; i < 3; i++ {
		delta := updated[i].Rating - current[results[i].UserID].Rating
		assert.Equal(t, winnerDelta, delta, "winning team deltas must match")
		assert.Greater(t, delta, 0)
	}
	loserDelta := updated[3].Rating - current["b1"].Rating
	for i := 3; i < 6; i++ {
		delta := updated[i].Rating - current[results[i].UserID].Rating
		assert.Equal(t, loserDelta, delta, "losing team deltas must match")
		assert.Less(t, delta, 0)
	}
}

func TestDeterminism(t *testing.T) {
	cfg := testConfig()
	cfg.AllowDraws = true
	rng := rand.New(rand.NewSource(42))
	outcomes := []domain.Outcome{domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeDraw}

	for trial := 0; trial < 50; trial++ {
		n := 2 + rng.Intn(6)
		current := make(map[string]domain.RatingRecord, n)
		results := make([]domain.ParticipantResult, n)
		signals := make(map[string]float64, n)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("player-%d", i)
			current[id] = record(id, 800+rng.Intn(1200), rng.Intn(100))
			results[i] = domain.ParticipantResult{UserID: id, Outcome: outcomes[rng.Intn(len(outcomes))]}
			signals[id] = 1 + rng.Float64()*9
		}

		first, err := ComputeRatingDeltas(cfg, current, results, signals)
		require.NoError(t, err)
		second, err := ComputeRatingDeltas(cfg, current, results, signals)
		require.NoError(t, err)
		assert.Equal(t, first, second, "identical inputs must yield identical outputs")
	}
}

func TestRatingFloorAndPeakBounds(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 105, 5),
		"bob":   record("bob", 1600, 5),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeLoss},
		{UserID: "bob", Outcome: domain.OutcomeWin},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	for _, rec := range updated {
		assert.GreaterOrEqual(t, rec.Rating, cfg.RatingFloor)
		assert.GreaterOrEqual(t, rec.PeakRating, rec.Rating)
	}
}

func TestGamesPlayedAndPeakUpdated(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1200, 9),
		"bob":   record("bob", 1200, 9),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "bob", Outcome: domain.OutcomeLoss},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, updated[0].GamesPlayed)
	assert.Equal(t, 10, updated[1].GamesPlayed)
	assert.Equal(t, updated[0].Rating, updated[0].PeakRating, "winner's peak follows the new rating")
	assert.Equal(t, 1200, updated[1].PeakRating, "loser keeps the old peak")
}

func TestKFactorTierSelection(t *testing.T) {
	cfg := testConfig()
	assert.Equal(t, 40, cfg.KFor(0))
	assert.Equal(t, 40, cfg.KFor(9))
	assert.Equal(t, 32, cfg.KFor(10))
	assert.Equal(t, 32, cfg.KFor(49))
	assert.Equal(t, 24, cfg.KFor(50))
	assert.Equal(t, 24, cfg.KFor(500))
}

func TestNewPlayerMovesFasterThanVeteran(t *testing.T) {
	cfg := testConfig()

	newcomer := map[string]domain.RatingRecord{
		"new": record("new", 1200, 0),
		"opp": record("opp", 1200, 0),
	}
	veteran := map[string]domain.RatingRecord{
		"vet": record("vet", 1200, 200),
		"opp": record("opp", 1200, 200),
	}
	winLoss := func(winner, loser string) []domain.ParticipantResult {
		return []domain.ParticipantResult{
			{UserID: winner, Outcome: domain.OutcomeWin},
			{UserID: loser, Outcome: domain.OutcomeLoss},
		}
	}

	newRes, err := ComputeRatingDeltas(cfg, newcomer, winLoss("new", "opp"), nil)
	require.NoError(t, err)
	vetRes, err := ComputeRatingDeltas(cfg, veteran, winLoss("vet", "opp"), nil)
	require.NoError(t, err)

	assert.Greater(t, newRes[0].Rating-1200, vetRes[0].Rating-1200)
}

func TestSkillInfluenceIsBounded(t *testing.T) {
	cfg := testConfig()
	cfg.SkillInfluence = 1.0
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1200, 20),
		"bob":   record("bob", 1200, 20),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "bob", Outcome: domain.OutcomeLoss},
	}

	base, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	// Maximal positive feedback for the winner, maximal negative for the loser.
	boosted, err := ComputeRatingDeltas(cfg, current, results, map[string]float64{
		"alice": float64(domain.SkillScaleMax),
		"bob":   float64(domain.SkillScaleMin),
	})
	require.NoError(t, err)

	k := float64(cfg.KFor(20))
	for i := range base {
		diff := math.Abs(float64(boosted[i].Rating - base[i].Rating))
		assert.LessOrEqual(t, diff, math.Ceil(skillAdjustmentCap*k), "skill signal must never dominate the outcome")
	}
}

func TestZeroSkillInfluenceIgnoresSignals(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1200, 20),
		"bob":   record("bob", 1200, 20),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "bob", Outcome: domain.OutcomeLoss},
	}

	plain, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)
	withSignals, err := ComputeRatingDeltas(cfg, current, results, map[string]float64{"alice": 10, "bob": 1})
	require.NoError(t, err)
	assert.Equal(t, plain, withSignals)
}

func TestValidateResults(t *testing.T) {
	cfg := testConfig()

	t.Run("rejects unknown outcome", func(t *testing.T) {
		err := ValidateResults(cfg, []domain.ParticipantResult{
			{UserID: "a", Outcome: "crushed"},
			{UserID: "b", Outcome: domain.OutcomeLoss},
		})
		assert.ErrorIs(t, err, domain.ErrInvalidOutcome)
	})

	t.Run("rejects draw when not allowed", func(t *testing.T) {
		err := ValidateResults(cfg, []domain.ParticipantResult{
			{UserID: "a", Outcome: domain.OutcomeDraw},
			{UserID: "b", Outcome: domain.OutcomeDraw},
		})
		assert.ErrorIs(t, err, domain.ErrDrawsNotAllowed)
	})

	t.Run("accepts draw when allowed", func(t *testing.T) {
		allowed := cfg
		allowed.AllowDraws = true
		err := ValidateResults(allowed, []domain.ParticipantResult{
			{UserID: "a", Outcome: domain.OutcomeDraw},
			{UserID: "b", Outcome: domain.OutcomeDraw},
		})
		assert.NoError(t, err)
	})

	t.Run("rejects duplicate participant", func(t *testing.T) {
		err := ValidateResults(cfg, []domain.ParticipantResult{
			{UserID: "a", Outcome: domain.OutcomeWin},
			{UserID: "a", Outcome: domain.OutcomeLoss},
		})
		assert.ErrorIs(t, err, domain.ErrDuplicateResult)
	})

	t.Run("rejects mixed outcomes within a team", func(t *testing.T) {
		teamCfg := cfg
		teamCfg.TeamBased = true
		err := ValidateResults(teamCfg, []domain.ParticipantResult{
			{UserID: "a", Team: "red", Outcome: domain.OutcomeWin},
			{UserID: "b", Team: "red", Outcome: domain.OutcomeLoss},
			{UserID: "c", Team: "blue", Outcome: domain.OutcomeLoss},
		})
		assert.ErrorIs(t, err, domain.ErrTeamOutcomeMismatch)
	})

	t.Run("rejects missing team", func(t *testing.T) {
		teamCfg := cfg
		teamCfg.TeamBased = true
		err := ValidateResults(teamCfg, []domain.ParticipantResult{
			{UserID: "a", Team: "red", Outcome: domain.OutcomeWin},
			{UserID: "b", Outcome: domain.OutcomeLoss},
		})
		assert.ErrorIs(t, err, domain.ErrMissingTeam)
	})
}

func TestDrawMovesRatingsTowardEachOther(t *testing.T) {
	cfg := testConfig()
	cfg.AllowDraws = true
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1400, 20),
		"bob":   record("bob", 1200, 20),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeDraw},
		{UserID: "bob", Outcome: domain.OutcomeDraw},
	}

	updated, err := ComputeRatingDeltas(cfg, current, results, nil)
	require.NoError(t, err)

	assert.Less(t, updated[0].Rating, 1400, "higher-rated player loses ground on a draw")
	assert.Greater(t, updated[1].Rating, 1200, "lower-rated player gains ground on a draw")
}

func TestMissingRatingRecordIsAnError(t *testing.T) {
	cfg := testConfig()
	current := map[string]domain.RatingRecord{
		"alice": record("alice", 1200, 5),
	}
	results := []domain.ParticipantResult{
		{UserID: "alice", Outcome: domain.OutcomeWin},
		{UserID: "ghost", Outcome: domain.OutcomeLoss},
	}

	_, err := ComputeRatingDeltas(cfg, current, results, nil)
	assert.ErrorIs(t, err, domain.ErrRatingNotFound)
}
