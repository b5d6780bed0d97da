package skills

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sportrank/internal/domain"
)

// Store persists peer skill ratings and their per-player aggregates.
// UpsertSkillRating must replace any prior rating with the same
// (rater, rated user, activity, skill) key and recompute the affected
// (user, skill) aggregate in the same transaction.
type Store interface {
	GetActivity(ctx context.Context, activityID string) (*domain.Activity, error)
	UpsertSkillRating(ctx context.Context, rating domain.SkillRating) error
	GetSkillSignals(ctx context.Context, userID string) ([]domain.SkillSignal, error)
	GetSkillSignalsForUsers(ctx context.Context, userIDs []string) (map[string][]domain.SkillSignal, error)
}

// Aggregator folds peer-submitted skill ratings into per-player signals.
// Submissions never touch ratings already committed; the blended signal is
// read fresh on each rating calculation, so late feedback only shifts
// future activities.
type Aggregator struct {
	store  Store
	logger *slog.Logger
}

func NewAggregator(store Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{store: store, logger: logger}
}

// SubmitRating records one peer rating on the 1-10 scale. Resubmitting the
// same (rater, rated user, activity, skill) overwrites the earlier value.
func (a *Aggregator) SubmitRating(ctx context.Context, rating domain.SkillRating) error {
	if rating.RaterID == "" || rating.RatedUserID == "" || rating.SkillID == "" {
		return fmt.Errorf("%w: rater, rated user and skill are required", domain.ErrInvalidRequest)
	}
	if rating.RaterID == rating.RatedUserID {
		return domain.ErrSelfRating
	}
	if rating.Value < domain.SkillScaleMin || rating.Value > domain.SkillScaleMax {
		return fmt.Errorf("%w: value %d outside %d-%d", domain.ErrInvalidSkillValue,
			rating.Value, domain.SkillScaleMin, domain.SkillScaleMax)
	}

	if _, err := a.store.GetActivity(ctx, rating.ActivityID); err != nil {
		return fmt.Errorf("looking up activity %s: %w", rating.ActivityID, err)
	}

	if rating.SubmittedAt.IsZero() {
		rating.SubmittedAt = time.Now().UTC()
	}
	if err := a.store.UpsertSkillRating(ctx, rating); err != nil {
		return fmt.Errorf("storing skill rating: %w", err)
	}

	a.logger.Debug("skill rating recorded",
		"rated_user_id", rating.RatedUserID,
		"skill_id", rating.SkillID,
		"value", rating.Value)
	return nil
}

// Signals returns the raw per-skill aggregates for one player.
func (a *Aggregator) Signals(ctx context.Context, userID string) ([]domain.SkillSignal, error) {
	signals, err := a.store.GetSkillSignals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading skill signals for %s: %w", userID, err)
	}
	return signals, nil
}

// BlendedSignal collapses a player's per-skill aggregates into one scalar on
// the rating scale, weighting each skill's mean by its sample count so a
// single noisy review cannot outvote well-sampled skills. Returns
// (0, false) when the player has no feedback yet.
func (a *Aggregator) BlendedSignal(ctx context.Context, userID string) (float64, bool, error) {
	signals, err := a.store.GetSkillSignals(ctx, userID)
	if err != nil {
		return 0, false, fmt.Errorf("loading skill signals for %s: %w", userID, err)
	}
	value, ok := blend(signals)
	return value, ok, nil
}

// BlendedSignals is the bulk form used by the completion pipeline. Players
// without any feedback are absent from the result.
func (a *Aggregator) BlendedSignals(ctx context.Context, userIDs []string) (map[string]float64, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	byUser, err := a.store.GetSkillSignalsForUsers(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("loading skill signals: %w", err)
	}
	out := make(map[string]float64, len(byUser))
	for userID, signals := range byUser {
		if value, ok := blend(signals); ok {
			out[userID] = value
		}
	}
	return out, nil
}

func blend(signals []domain.SkillSignal) (float64, bool) {
	var weighted float64
	var samples int
	for _, sig := range signals {
		if sig.SampleCount <= 0 {
			continue
		}
		weighted += sig.MeanRating * float64(sig.SampleCount)
		samples += sig.SampleCount
	}
	if samples == 0 {
		return 0, false
	}
	return weighted / float64(samples), true
}
