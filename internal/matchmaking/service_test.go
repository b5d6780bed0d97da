package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/internal/domain"
)

type fakeRatings struct {
	records map[string]int // userID -> rating, single activity type
}

func (f *fakeRatings) GetRating(_ context.Context, userID, activityTypeID string) (*domain.RatingRecord, error) {
	r, ok := f.records[userID]
	if !ok {
		return nil, domain.ErrRatingNotFound
	}
	return &domain.RatingRecord{UserID: userID, ActivityTypeID: activityTypeID, Rating: r}, nil
}

func (f *fakeRatings) GetRatingsWithin(_ context.Context, _ string, minRating, maxRating int) ([]domain.RatingEntry, error) {
	var out []domain.RatingEntry
	for id, r := range f.records {
		if r >= minRating && r <= maxRating {
			out = append(out, domain.RatingEntry{UserID: id, Rating: r})
		}
	}
	return out, nil
}

type fakeMatchStore struct {
	activities   map[string]domain.Activity
	participants map[string][]domain.Participant
	social       map[string]map[string]bool
	recent       map[string]map[string]bool
	skills       map[string][]domain.SkillSignal
	savedTeams   []domain.Team
}

func (f *fakeMatchStore) GetActivity(_ context.Context, activityID string) (*domain.Activity, error) {
	act, ok := f.activities[activityID]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	return &act, nil
}

func (f *fakeMatchStore) GetActivityTypeConfig(_ context.Context, activityTypeID string) (*domain.ActivityTypeRatingConfig, error) {
	return &domain.ActivityTypeRatingConfig{ActivityTypeID: activityTypeID, StartingRating: 1200}, nil
}

func (f *fakeMatchStore) GetAcceptedParticipants(_ context.Context, activityID string) ([]domain.Participant, error) {
	return f.participants[activityID], nil
}

func (f *fakeMatchStore) GetSocialConnections(_ context.Context, userID string) (map[string]bool, error) {
	return f.social[userID], nil
}

func (f *fakeMatchStore) GetRecentOpponents(_ context.Context, userID, _ string) (map[string]bool, error) {
	return f.recent[userID], nil
}

func (f *fakeMatchStore) GetSkillSignalsForUsers(_ context.Context, userIDs []string) (map[string][]domain.SkillSignal, error) {
	out := make(map[string][]domain.SkillSignal)
	for _, id := range userIDs {
		if sigs, ok := f.skills[id]; ok {
			out[id] = sigs
		}
	}
	return out, nil
}

func (f *fakeMatchStore) SaveTeamAssignments(_ context.Context, _ string, teams []domain.Team) error {
	f.savedTeams = teams
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestService(ratings *fakeRatings, store *fakeMatchStore) *Service {
	return NewService(ratings, store, DefaultWeights(), 200, 50, quietLogger())
}

func TestFindCompatiblePlayersOrdering(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"me":    1300,
		"close": 1310,
		"mid":   1380,
		"far":   1480,
	}}
	store := &fakeMatchStore{}
	svc := newTestService(ratings, store)

	recs, err := svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, "close", recs[0].UserID, "smallest rating distance wins with equal everything else")
	assert.Equal(t, "mid", recs[1].UserID)
	assert.Equal(t, "far", recs[2].UserID)
	assert.NotContains(t, userIDs(recs), "me", "never recommend the player to themselves")
	for i := 1; i < len(recs); i++ {
		assert.GreaterOrEqual(t, recs[i-1].Score, recs[i].Score, "descending by composite score")
	}
}

func TestFindCompatiblePlayersSocialBonus(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"me":       1300,
		"friend":   1350,
		"stranger": 1340,
	}}
	store := &fakeMatchStore{
		social: map[string]map[string]bool{"me": {"friend": true}},
	}
	svc := newTestService(ratings, store)

	recs, err := svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "friend", recs[0].UserID, "social bonus outweighs a 10-point rating distance")
	assert.True(t, recs[0].SociallyConnected)
}

func TestFindCompatiblePlayersRecentPenalty(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"me":     1300,
		"rematch": 1305,
		"fresh":  1320,
	}}
	store := &fakeMatchStore{
		recent: map[string]map[string]bool{"me": {"rematch": true}},
	}
	svc := newTestService(ratings, store)

	// Without the penalty the closer player ranks first.
	recs, err := svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{})
	require.NoError(t, err)
	assert.Equal(t, "rematch", recs[0].UserID)

	// With the penalty requested the repeat opponent drops behind.
	recs, err = svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{PenalizeRecent: true})
	require.NoError(t, err)
	assert.Equal(t, "fresh", recs[0].UserID)
	assert.True(t, recs[1].RecentOpponent)
}

func TestFindCompatiblePlayersSkillOverlap(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"me":      1300,
		"similar": 1320,
		"other":   1320,
	}}
	store := &fakeMatchStore{
		skills: map[string][]domain.SkillSignal{
			"me":      {{SkillID: "serve", MeanRating: 7}, {SkillID: "stamina", MeanRating: 6}},
			"similar": {{SkillID: "serve", MeanRating: 7.5}, {SkillID: "stamina", MeanRating: 6}},
			"other":   {{SkillID: "serve", MeanRating: 1}},
		},
	}
	svc := newTestService(ratings, store)

	recs, err := svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "similar", recs[0].UserID)
	assert.Equal(t, 2, recs[0].SharedSkills)
	assert.Equal(t, 1, recs[1].SharedSkills)
}

func TestFindCompatiblePlayersToleranceWindow(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"me":      1300,
		"inside":  1340,
		"outside": 1600,
	}}
	store := &fakeMatchStore{}
	svc := newTestService(ratings, store)

	recs, err := svc.FindCompatiblePlayers(context.Background(), "me", "tennis", Options{Tolerance: 100})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "inside", recs[0].UserID)
}

func TestFindCompatiblePlayersUnratedUsesStartingRating(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"veteran": 1210,
	}}
	store := &fakeMatchStore{}
	svc := newTestService(ratings, store)

	recs, err := svc.FindCompatiblePlayers(context.Background(), "rookie", "tennis", Options{Tolerance: 50})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "veteran", recs[0].UserID)
	assert.Equal(t, 10, recs[0].RatingDistance, "rookie is treated as the 1200 starting rating")
}

func TestBalanceTeamsThreeVsThree(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{
		"p1": 1500, "p2": 1400, "p3": 1300, "p4": 1250, "p5": 1200, "p6": 1100,
	}}
	store := &fakeMatchStore{
		activities: map[string]domain.Activity{"act-1": {ID: "act-1", ActivityTypeID: "tennis"}},
		participants: map[string][]domain.Participant{
			"act-1": {{UserID: "p1"}, {UserID: "p2"}, {UserID: "p3"}, {UserID: "p4"}, {UserID: "p5"}, {UserID: "p6"}},
		},
	}
	svc := newTestService(ratings, store)

	assignment, err := svc.BalanceTeams(context.Background(), "act-1", 2, false)
	require.NoError(t, err)
	require.Len(t, assignment.Teams, 2)

	assert.Len(t, assignment.Teams[0].Members, 3)
	assert.Len(t, assignment.Teams[1].Members, 3)
	assert.False(t, assignment.Applied)
	assert.Nil(t, store.savedTeams, "preview must not persist")

	gap := math.Abs(assignment.Teams[0].AverageRating - assignment.Teams[1].AverageRating)
	assert.LessOrEqual(t, gap, 100.0, "LPT keeps the sides close for this set")
	assert.GreaterOrEqual(t, assignment.BalanceScore, 0.0)
	assert.LessOrEqual(t, assignment.BalanceScore, 1.0)
}

func TestBalanceTeamsApplyPersists(t *testing.T) {
	ratings := &fakeRatings{records: map[string]int{"p1": 1300, "p2": 1250, "p3": 1200, "p4": 1150}}
	store := &fakeMatchStore{
		activities: map[string]domain.Activity{"act-1": {ID: "act-1", ActivityTypeID: "tennis"}},
		participants: map[string][]domain.Participant{
			"act-1": {{UserID: "p1"}, {UserID: "p2"}, {UserID: "p3"}, {UserID: "p4"}},
		},
	}
	svc := newTestService(ratings, store)

	assignment, err := svc.BalanceTeams(context.Background(), "act-1", 2, true)
	require.NoError(t, err)
	assert.True(t, assignment.Applied)
	require.Len(t, store.savedTeams, 2)
}

func TestBalanceTeamsInvalidTeamCount(t *testing.T) {
	store := &fakeMatchStore{
		activities: map[string]domain.Activity{"act-1": {ID: "act-1", ActivityTypeID: "tennis"}},
		participants: map[string][]domain.Participant{
			"act-1": {{UserID: "p1"}, {UserID: "p2"}},
		},
	}
	svc := newTestService(&fakeRatings{records: map[string]int{}}, store)

	_, err := svc.BalanceTeams(context.Background(), "act-1", 1, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTeamCount)

	_, err = svc.BalanceTeams(context.Background(), "act-1", 3, false)
	assert.ErrorIs(t, err, domain.ErrInvalidTeamCount)
}

func TestPartitionGapBound(t *testing.T) {
	// The max/min team-average gap stays within the largest single rating
	// distance from the pool mean.
	cases := []struct {
		ratings   []int
		teamCount int
	}{
		{[]int{1500, 1400, 1300, 1250, 1200, 1100}, 2},
		{[]int{1500, 1400, 1300, 1250, 1200, 1100}, 3},
		{[]int{1800, 1650, 1500, 1450, 1400, 1350, 1300, 1200, 1150, 1000}, 2},
		{[]int{1800, 1650, 1500, 1450, 1400, 1350, 1300, 1200, 1150, 1000}, 5},
		{[]int{1220, 1210, 1205, 1200, 1195, 1190, 1185, 1180}, 4},
		{[]int{2000, 1200, 1200, 1200, 1200, 1200}, 2},
		{[]int{2000, 1900, 1300, 1250, 1200, 1150, 1100, 1050}, 2},
		{[]int{1600, 1580, 1560, 1540, 1220, 1200, 1180, 1160, 1140, 1120, 1100, 1080}, 3},
		{[]int{1400, 1399, 1200, 1201}, 2},
		{[]int{1750, 1500, 1500, 1250, 1250, 1000}, 3},
	}
	for _, tc := range cases {
		participants := make([]ratedParticipant, len(tc.ratings))
		var sum float64
		for i, r := range tc.ratings {
			participants[i] = ratedParticipant{userID: fmt.Sprintf("p%d", i), rating: r}
			sum += float64(r)
		}
		mean := sum / float64(len(tc.ratings))
		var maxDistance float64
		for _, p := range participants {
			if d := math.Abs(float64(p.rating) - mean); d > maxDistance {
				maxDistance = d
			}
		}

		assignment := partition(participants, tc.teamCount)
		minAvg, maxAvg := teamAvgRange(assignment)

		assert.LessOrEqual(t, maxAvg-minAvg, maxDistance+1e-9,
			"ratings=%v teams=%d", tc.ratings, tc.teamCount)
		assert.GreaterOrEqual(t, assignment.BalanceScore, 0.0)
		assert.LessOrEqual(t, assignment.BalanceScore, 1.0)
	}
}

func TestPartitionBalancedSizesAndSpread(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 200; trial++ {
		teamCount := 2 + rng.Intn(4)
		n := teamCount*2 + rng.Intn(40)

		participants := make([]ratedParticipant, n)
		lo, hi := math.MaxInt32, 0
		for i := range participants {
			r := 800 + rng.Intn(1400)
			participants[i] = ratedParticipant{userID: fmt.Sprintf("p%d", i), rating: r}
			if r < lo {
				lo = r
			}
			if r > hi {
				hi = r
			}
		}

		assignment := partition(participants, teamCount)

		maxSize := (n + teamCount - 1) / teamCount
		total := 0
		for _, team := range assignment.Teams {
			assert.LessOrEqual(t, len(team.Members), maxSize,
				"trial %d: n=%d teams=%d", trial, n, teamCount)
			total += len(team.Members)
		}
		assert.Equal(t, n, total)

		// Team averages can never escape the rating range of the pool.
		minAvg, maxAvg := teamAvgRange(assignment)
		assert.LessOrEqual(t, maxAvg-minAvg, float64(hi-lo)+1e-9)
		assert.GreaterOrEqual(t, assignment.BalanceScore, 0.0)
		assert.LessOrEqual(t, assignment.BalanceScore, 1.0)
	}
}

func teamAvgRange(assignment *domain.TeamAssignment) (minAvg, maxAvg float64) {
	first := true
	for _, team := range assignment.Teams {
		if len(team.Members) == 0 {
			continue
		}
		if first || team.AverageRating < minAvg {
			minAvg = team.AverageRating
		}
		if first || team.AverageRating > maxAvg {
			maxAvg = team.AverageRating
		}
		first = false
	}
	return minAvg, maxAvg
}

func TestPartitionDeterministic(t *testing.T) {
	participants := []ratedParticipant{
		{userID: "a", rating: 1400}, {userID: "b", rating: 1400},
		{userID: "c", rating: 1200}, {userID: "d", rating: 1200},
	}
	first := partition(participants, 2)
	second := partition(participants, 2)
	assert.Equal(t, first, second)
}

func userIDs(recs []domain.PlayerRecommendation) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.UserID
	}
	return out
}
