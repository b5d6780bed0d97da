package skills

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sportrank/internal/domain"
)

type fakeSkillStore struct {
	activities map[string]*domain.Activity
	ratings    map[string]domain.SkillRating
	upserts    int
}

func newFakeSkillStore() *fakeSkillStore {
	return &fakeSkillStore{
		activities: map[string]*domain.Activity{
			"act-1": {ID: "act-1", ActivityTypeID: "tennis"},
		},
		ratings: make(map[string]domain.SkillRating),
	}
}

func (s *fakeSkillStore) GetActivity(_ context.Context, activityID string) (*domain.Activity, error) {
	act, ok := s.activities[activityID]
	if !ok {
		return nil, domain.ErrActivityNotFound
	}
	return act, nil
}

func (s *fakeSkillStore) UpsertSkillRating(_ context.Context, rating domain.SkillRating) error {
	key := rating.RaterID + "|" + rating.RatedUserID + "|" + rating.ActivityID + "|" + rating.SkillID
	s.ratings[key] = rating
	s.upserts++
	return nil
}

func (s *fakeSkillStore) GetSkillSignals(_ context.Context, userID string) ([]domain.SkillSignal, error) {
	return s.aggregate()[userID], nil
}

func (s *fakeSkillStore) GetSkillSignalsForUsers(_ context.Context, userIDs []string) (map[string][]domain.SkillSignal, error) {
	all := s.aggregate()
	out := make(map[string][]domain.SkillSignal)
	for _, id := range userIDs {
		if signals, ok := all[id]; ok {
			out[id] = signals
		}
	}
	return out, nil
}

func (s *fakeSkillStore) aggregate() map[string][]domain.SkillSignal {
	type bucket struct {
		sum   int
		count int
	}
	buckets := make(map[string]map[string]*bucket)
	for _, r := range s.ratings {
		if buckets[r.RatedUserID] == nil {
			buckets[r.RatedUserID] = make(map[string]*bucket)
		}
		b := buckets[r.RatedUserID][r.SkillID]
		if b == nil {
			b = &bucket{}
			buckets[r.RatedUserID][r.SkillID] = b
		}
		b.sum += r.Value
		b.count++
	}
	out := make(map[string][]domain.SkillSignal)
	for userID, skills := range buckets {
		for skillID, b := range skills {
			out[userID] = append(out[userID], domain.SkillSignal{
				UserID:      userID,
				SkillID:     skillID,
				MeanRating:  float64(b.sum) / float64(b.count),
				SampleCount: b.count,
			})
		}
	}
	return out
}

func newAggregator(store Store) *Aggregator {
	return NewAggregator(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func submission(rater, rated, skill string, value int) domain.SkillRating {
	return domain.SkillRating{
		RaterID:     rater,
		RatedUserID: rated,
		ActivityID:  "act-1",
		SkillID:     skill,
		Value:       value,
	}
}

func TestSubmitRatingValidation(t *testing.T) {
	agg := newAggregator(newFakeSkillStore())
	ctx := context.Background()

	err := agg.SubmitRating(ctx, submission("alice", "alice", "serve", 7))
	assert.ErrorIs(t, err, domain.ErrSelfRating)

	err = agg.SubmitRating(ctx, submission("alice", "bob", "serve", 0))
	assert.ErrorIs(t, err, domain.ErrInvalidSkillValue)

	err = agg.SubmitRating(ctx, submission("alice", "bob", "serve", 11))
	assert.ErrorIs(t, err, domain.ErrInvalidSkillValue)

	err = agg.SubmitRating(ctx, submission("alice", "bob", "", 7))
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	bad := submission("alice", "bob", "serve", 7)
	bad.ActivityID = "missing"
	err = agg.SubmitRating(ctx, bad)
	assert.ErrorIs(t, err, domain.ErrActivityNotFound)
}

func TestSubmitRatingIdempotentUpsert(t *testing.T) {
	store := newFakeSkillStore()
	agg := newAggregator(store)
	ctx := context.Background()

	require.NoError(t, agg.SubmitRating(ctx, submission("alice", "bob", "serve", 4)))
	require.NoError(t, agg.SubmitRating(ctx, submission("alice", "bob", "serve", 9)))

	assert.Len(t, store.ratings, 1, "resubmission must overwrite, not duplicate")

	signals, err := agg.Signals(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, 9.0, signals[0].MeanRating, "last write wins")
	assert.Equal(t, 1, signals[0].SampleCount)
}

func TestSubmitRatingFillsTimestamp(t *testing.T) {
	store := newFakeSkillStore()
	agg := newAggregator(store)

	require.NoError(t, agg.SubmitRating(context.Background(), submission("alice", "bob", "serve", 6)))
	for _, r := range store.ratings {
		assert.WithinDuration(t, time.Now(), r.SubmittedAt, time.Minute)
	}
}

func TestBlendedSignalWeightsBySampleCount(t *testing.T) {
	store := newFakeSkillStore()
	agg := newAggregator(store)
	ctx := context.Background()

	// Three raters on "serve", one outlier on "positioning".
	require.NoError(t, agg.SubmitRating(ctx, submission("alice", "bob", "serve", 8)))
	require.NoError(t, agg.SubmitRating(ctx, submission("carol", "bob", "serve", 8)))
	require.NoError(t, agg.SubmitRating(ctx, submission("dave", "bob", "serve", 8)))
	require.NoError(t, agg.SubmitRating(ctx, submission("alice", "bob", "positioning", 2)))

	value, ok, err := agg.BlendedSignal(ctx, "bob")
	require.NoError(t, err)
	require.True(t, ok)
	// (8*3 + 2*1) / 4 = 6.5, not the unweighted skill mean of 5.
	assert.InDelta(t, 6.5, value, 1e-9)
}

func TestBlendedSignalAbsentWithoutFeedback(t *testing.T) {
	agg := newAggregator(newFakeSkillStore())

	_, ok, err := agg.BlendedSignal(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBlendedSignalsBulk(t *testing.T) {
	store := newFakeSkillStore()
	agg := newAggregator(store)
	ctx := context.Background()

	require.NoError(t, agg.SubmitRating(ctx, submission("alice", "bob", "serve", 7)))
	require.NoError(t, agg.SubmitRating(ctx, submission("bob", "alice", "serve", 3)))

	out, err := agg.BlendedSignals(ctx, []string{"alice", "bob", "carol"})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, out["alice"], 1e-9)
	assert.InDelta(t, 7.0, out["bob"], 1e-9)
	_, present := out["carol"]
	assert.False(t, present, "players without feedback stay absent")
}
