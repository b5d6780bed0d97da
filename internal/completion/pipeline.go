package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sportrank/internal/domain"
	"github.com/sportrank/internal/rating"
)

// Store is the persistence contract the pipeline drives. TryBeginProcessing
// must be an atomic conditional transition scoped to a single activity's
// status row, and CommitCompletion must apply the new ratings together with
// the terminal status in one transaction.
type Store interface {
	GetActivity(ctx context.Context, activityID string) (*domain.Activity, error)
	GetActivityTypeConfig(ctx context.Context, activityTypeID string) (*domain.ActivityTypeRatingConfig, error)
	GetAcceptedParticipants(ctx context.Context, activityID string) ([]domain.Participant, error)
	GetCompletionStatus(ctx context.Context, activityID string) (*domain.CompletionStatus, error)

	// TryBeginProcessing attempts the not_started -> processing transition
	// and reports whether this caller won the race.
	TryBeginProcessing(ctx context.Context, activityID string) (bool, error)

	// GetRating returns domain.ErrRatingNotFound for players without a record.
	GetRating(ctx context.Context, userID, activityTypeID string) (*domain.RatingRecord, error)

	// CommitCompletion persists the updated ratings, the audit trail and the
	// completed status atomically; either everything lands or nothing does.
	CommitCompletion(ctx context.Context, status domain.CompletionStatus, records []domain.RatingRecord, updates []domain.RatingUpdate) error

	// FailCompletion transitions processing -> error with operator detail.
	FailCompletion(ctx context.Context, activityID, detail string) error
}

// SkillSource supplies the blended peer skill signal per player
type SkillSource interface {
	BlendedSignals(ctx context.Context, userIDs []string) (map[string]float64, error)
}

// Notifier receives fire-and-forget change events after a successful commit.
// Implementations must not block; delivery failures never roll back ratings.
type Notifier interface {
	NotifyChange(ctx context.Context, event domain.ChangeEvent)
}

// Pipeline orchestrates an activity's transition into the rated state,
// guaranteeing the rating engine runs exactly once per activity under
// concurrent and duplicate invocations.
type Pipeline struct {
	store    Store
	skills   SkillSource
	notifier Notifier
	logger   *slog.Logger
}

// NewPipeline creates a completion pipeline. skills and notifier may be nil.
func NewPipeline(store Store, skills SkillSource, notifier Notifier, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		skills:   skills,
		notifier: notifier,
		logger:   logger,
	}
}

// CompleteActivity applies an activity's results to its participants'
// ratings. Exactly one concurrent caller wins the processing right; losers
// receive ErrAlreadyProcessing or ErrAlreadyCompleted. An activity with
// fewer accepted participants than the configured minimum is skipped with
// its status left at not_started.
func (p *Pipeline) CompleteActivity(ctx context.Context, activityID string, results []domain.ParticipantResult) (*domain.CompletionOutcome, error) {
	activity, err := p.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("loading activity: %w", err)
	}

	if status, err := p.store.GetCompletionStatus(ctx, activityID); err != nil {
		return nil, fmt.Errorf("loading completion status: %w", err)
	} else if status != nil {
		if err := conflictFor(status.State); err != nil {
			return nil, err
		}
	}

	cfg, err := p.store.GetActivityTypeConfig(ctx, activity.ActivityTypeID)
	if err != nil {
		return nil, fmt.Errorf("loading rating config: %w", err)
	}

	participants, err := p.store.GetAcceptedParticipants(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}

	minParticipants := cfg.MinimumParticipants
	if minParticipants < 2 {
		minParticipants = 2
	}
	if len(participants) < minParticipants {
		p.logger.Info("skipping completion, not enough participants",
			"activity_id", activityID,
			"participants", len(participants),
			"minimum", minParticipants,
		)
		return &domain.CompletionOutcome{
			ActivityID: activityID,
			State:      domain.CompletionNotStarted,
			Skipped:    true,
		}, nil
	}

	results, err = resolveResults(cfg, participants, results)
	if err != nil {
		return nil, err
	}
	if err := rating.ValidateResults(*cfg, results); err != nil {
		return nil, err
	}

	// The conditional transition is the idempotency linchpin: a single
	// winner proceeds, everyone else fails fast with a conflict.
	won, err := p.store.TryBeginProcessing(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("acquiring processing right: %w", err)
	}
	if !won {
		status, err := p.store.GetCompletionStatus(ctx, activityID)
		if err != nil {
			return nil, fmt.Errorf("loading completion status after lost race: %w", err)
		}
		if status != nil {
			if err := conflictFor(status.State); err != nil {
				return nil, err
			}
		}
		return nil, domain.ErrAlreadyProcessing
	}

	// Once processing is entered the computation runs to a terminal state;
	// a cancelled-and-retried run racing a late commit could apply ratings
	// twice.
	ctx = context.WithoutCancel(ctx)
	return p.process(ctx, activityID, cfg, results)
}

// process runs from the processing state to a terminal state
func (p *Pipeline) process(ctx context.Context, activityID string, cfg *domain.ActivityTypeRatingConfig, results []domain.ParticipantResult) (*domain.CompletionOutcome, error) {
	current, err := p.loadRatings(ctx, cfg, results)
	if err != nil {
		return p.fail(ctx, activityID, fmt.Sprintf("loading ratings: %v", err), err)
	}

	signals := p.loadSkillSignals(ctx, cfg, results)

	updated, err := rating.ComputeRatingDeltas(*cfg, current, results, signals)
	if err != nil {
		return p.fail(ctx, activityID, fmt.Sprintf("computing rating deltas: %v", err), err)
	}

	now := time.Now()
	updates := make([]domain.RatingUpdate, len(updated))
	for i := range updated {
		updated[i].UpdatedAt = now
		old := current[updated[i].UserID]
		updates[i] = domain.RatingUpdate{
			UserID:         updated[i].UserID,
			ActivityTypeID: cfg.ActivityTypeID,
			ActivityID:     activityID,
			OldRating:      old.Rating,
			NewRating:      updated[i].Rating,
			Delta:          updated[i].Rating - old.Rating,
		}
	}

	status := domain.CompletionStatus{
		ActivityID:           activityID,
		State:                domain.CompletionCompleted,
		ParticipantsAffected: len(updated),
		AverageRatingChange:  rating.AverageAbsoluteDelta(current, updated),
		UpdatedAt:            now,
	}

	if err := p.store.CommitCompletion(ctx, status, updated, updates); err != nil {
		return p.fail(ctx, activityID, fmt.Sprintf("persisting completion: %v", err), err)
	}

	p.logger.Info("activity completed",
		"activity_id", activityID,
		"activity_type_id", cfg.ActivityTypeID,
		"participants_affected", status.ParticipantsAffected,
		"average_rating_change", status.AverageRatingChange,
	)

	p.notify(ctx, activityID, status, updates)

	return &domain.CompletionOutcome{
		ActivityID:           activityID,
		State:                domain.CompletionCompleted,
		ParticipantsAffected: status.ParticipantsAffected,
		AverageRatingChange:  status.AverageRatingChange,
		Updates:              updates,
	}, nil
}

// GetStatus returns the completion status of an activity; activities that
// were never submitted report not_started
func (p *Pipeline) GetStatus(ctx context.Context, activityID string) (*domain.CompletionStatus, error) {
	if _, err := p.store.GetActivity(ctx, activityID); err != nil {
		return nil, err
	}
	status, err := p.store.GetCompletionStatus(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("loading completion status: %w", err)
	}
	if status == nil {
		return &domain.CompletionStatus{
			ActivityID: activityID,
			State:      domain.CompletionNotStarted,
		}, nil
	}
	return status, nil
}

// loadRatings reads the current rating records for every result, creating
// missing ones in memory at the configured starting rating. Lazily created
// records only become durable as part of the completion commit.
func (p *Pipeline) loadRatings(ctx context.Context, cfg *domain.ActivityTypeRatingConfig, results []domain.ParticipantResult) (map[string]domain.RatingRecord, error) {
	current := make(map[string]domain.RatingRecord, len(results))
	for _, res := range results {
		rec, err := p.store.GetRating(ctx, res.UserID, cfg.ActivityTypeID)
		switch {
		case err == nil:
			current[res.UserID] = *rec
		case isRatingNotFound(err):
			current[res.UserID] = domain.RatingRecord{
				UserID:         res.UserID,
				ActivityTypeID: cfg.ActivityTypeID,
				Rating:         cfg.StartingRating,
				PeakRating:     cfg.StartingRating,
			}
		default:
			return nil, err
		}
	}
	return current, nil
}

// loadSkillSignals fetches the optional peer-feedback adjustment input.
// Signal lookup failures degrade to a plain win/loss calculation.
func (p *Pipeline) loadSkillSignals(ctx context.Context, cfg *domain.ActivityTypeRatingConfig, results []domain.ParticipantResult) map[string]float64 {
	if p.skills == nil || cfg.SkillInfluence <= 0 {
		return nil
	}
	userIDs := make([]string, len(results))
	for i, res := range results {
		userIDs[i] = res.UserID
	}
	signals, err := p.skills.BlendedSignals(ctx, userIDs)
	if err != nil {
		p.logger.Warn("skill signals unavailable, computing without skill influence",
			"error", err,
		)
		return nil
	}
	return signals
}

// fail transitions the activity to the terminal error state. The error
// state requires manual intervention; it is never retried automatically.
func (p *Pipeline) fail(ctx context.Context, activityID, detail string, cause error) (*domain.CompletionOutcome, error) {
	p.logger.Error("completion failed",
		"activity_id", activityID,
		"detail", detail,
	)
	if err := p.store.FailCompletion(ctx, activityID, detail); err != nil {
		p.logger.Error("failed to record error state",
			"activity_id", activityID,
			"error", err,
		)
	}
	if p.notifier != nil {
		p.notifier.NotifyChange(ctx, domain.ChangeEvent{
			EntityType: domain.EntityCompletionStatus,
			EntityID:   activityID,
			ChangeType: domain.ChangeFailed,
			Payload:    map[string]interface{}{"detail": detail},
			Timestamp:  time.Now(),
		})
	}
	return nil, cause
}

// notify emits one change event per updated rating plus one for the status
// transition. Best effort only.
func (p *Pipeline) notify(ctx context.Context, activityID string, status domain.CompletionStatus, updates []domain.RatingUpdate) {
	if p.notifier == nil {
		return
	}
	for _, u := range updates {
		p.notifier.NotifyChange(ctx, domain.ChangeEvent{
			EntityType: domain.EntityRating,
			EntityID:   u.UserID,
			ChangeType: domain.ChangeUpdated,
			Payload: map[string]interface{}{
				"activity_id":      u.ActivityID,
				"activity_type_id": u.ActivityTypeID,
				"old_rating":       u.OldRating,
				"new_rating":       u.NewRating,
				"delta":            u.Delta,
			},
			Timestamp: status.UpdatedAt,
		})
	}
	p.notifier.NotifyChange(ctx, domain.ChangeEvent{
		EntityType: domain.EntityCompletionStatus,
		EntityID:   activityID,
		ChangeType: domain.ChangeCompleted,
		Payload: map[string]interface{}{
			"participants_affected": status.ParticipantsAffected,
			"average_rating_change": status.AverageRatingChange,
		},
		Timestamp: status.UpdatedAt,
	})
}

// resolveResults checks every result against the accepted participant list
// and fills in team assignments recorded at acceptance time when the result
// itself carries none
func resolveResults(cfg *domain.ActivityTypeRatingConfig, participants []domain.Participant, results []domain.ParticipantResult) ([]domain.ParticipantResult, error) {
	accepted := make(map[string]domain.Participant, len(participants))
	for _, part := range participants {
		accepted[part.UserID] = part
	}

	resolved := make([]domain.ParticipantResult, len(results))
	for i, res := range results {
		part, ok := accepted[res.UserID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrUnknownParticipant, res.UserID)
		}
		if cfg.TeamBased && res.Team == "" {
			res.Team = part.Team
		}
		resolved[i] = res
	}
	return resolved, nil
}

// conflictFor maps a non-initial completion state to its conflict error
func conflictFor(state domain.CompletionState) error {
	switch state {
	case domain.CompletionProcessing:
		return domain.ErrAlreadyProcessing
	case domain.CompletionCompleted:
		return domain.ErrAlreadyCompleted
	case domain.CompletionError:
		return domain.ErrCompletionFailed
	default:
		return nil
	}
}

func isRatingNotFound(err error) bool {
	return err != nil && domain.IsNotFoundError(err)
}
