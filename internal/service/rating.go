package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sportrank/internal/completion"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/domain"
	"github.com/sportrank/internal/matchmaking"
	"github.com/sportrank/internal/postgres"
	"github.com/sportrank/internal/redis"
	"github.com/sportrank/internal/skills"
	"github.com/sportrank/internal/websocket"
)

// RatingService ties the completion pipeline, the skill aggregator and the
// matchmaker together and keeps the Redis rating cache and connected
// WebSocket clients in step with committed completions.
type RatingService struct {
	pipeline   *completion.Pipeline
	matchmaker *matchmaking.Service
	skills     *skills.Aggregator
	postgres   *postgres.Repository
	cache      *redis.RatingCache
	hub        *websocket.Hub
	config     *config.RatingConfig
	logger     *slog.Logger
}

// NewRatingService creates the rating service. hub may be nil when no
// WebSocket surface is running.
func NewRatingService(
	pipeline *completion.Pipeline,
	matchmaker *matchmaking.Service,
	skillAggregator *skills.Aggregator,
	repo *postgres.Repository,
	cache *redis.RatingCache,
	hub *websocket.Hub,
	cfg *config.RatingConfig,
	logger *slog.Logger,
) *RatingService {
	return &RatingService{
		pipeline:   pipeline,
		matchmaker: matchmaker,
		skills:     skillAggregator,
		postgres:   repo,
		cache:      cache,
		hub:        hub,
		config:     cfg,
		logger:     logger,
	}
}

// CompleteActivity runs the completion pipeline and, when ratings were
// committed, refreshes the cache and broadcasts the changes. Cache and
// broadcast failures never undo a committed completion.
func (s *RatingService) CompleteActivity(ctx context.Context, activityID string, results []domain.ParticipantResult) (*domain.CompletionOutcome, error) {
	outcome, err := s.pipeline.CompleteActivity(ctx, activityID, results)
	if err != nil {
		return outcome, err
	}
	if outcome.State != domain.CompletionCompleted || outcome.Skipped {
		return outcome, nil
	}

	for _, update := range outcome.Updates {
		if err := s.cache.SetRating(ctx, update.ActivityTypeID, update.UserID, update.NewRating); err != nil {
			s.logger.Warn("failed to refresh cached rating",
				"user_id", update.UserID,
				"activity_type_id", update.ActivityTypeID,
				"error", err,
			)
		}
		if s.hub != nil {
			s.hub.BroadcastRatingUpdate(update.ActivityTypeID, update)
		}
	}

	if s.hub != nil && len(outcome.Updates) > 0 {
		s.hub.BroadcastCompletionUpdate(outcome.Updates[0].ActivityTypeID, domain.CompletionStatus{
			ActivityID:           outcome.ActivityID,
			State:                outcome.State,
			ParticipantsAffected: outcome.ParticipantsAffected,
			AverageRatingChange:  outcome.AverageRatingChange,
		})
	}

	return outcome, nil
}

// GetCompletionStatus returns an activity's completion state
func (s *RatingService) GetCompletionStatus(ctx context.Context, activityID string) (*domain.CompletionStatus, error) {
	return s.pipeline.GetStatus(ctx, activityID)
}

// SubmitSkillRating records one peer skill rating
func (s *RatingService) SubmitSkillRating(ctx context.Context, rating domain.SkillRating) error {
	return s.skills.SubmitRating(ctx, rating)
}

// GetSkillSignals returns a player's aggregated skill feedback
func (s *RatingService) GetSkillSignals(ctx context.Context, userID string) ([]domain.SkillSignal, error) {
	return s.skills.Signals(ctx, userID)
}

// FindCompatiblePlayers recommends opponents near a player's rating
func (s *RatingService) FindCompatiblePlayers(ctx context.Context, userID, activityTypeID string, opts matchmaking.Options) ([]domain.PlayerRecommendation, error) {
	return s.matchmaker.FindCompatiblePlayers(ctx, userID, activityTypeID, opts)
}

// BalanceTeams partitions an activity's roster into balanced teams
func (s *RatingService) BalanceTeams(ctx context.Context, activityID string, teamCount int, apply bool) (*domain.TeamAssignment, error) {
	return s.matchmaker.BalanceTeams(ctx, activityID, teamCount, apply)
}

// GetPlayerRating returns a player's durable rating record
func (s *RatingService) GetPlayerRating(ctx context.Context, userID, activityTypeID string) (*domain.RatingRecord, error) {
	return s.postgres.GetRating(ctx, userID, activityTypeID)
}

// GetPlayerRank returns a player's current rank from the cache
func (s *RatingService) GetPlayerRank(ctx context.Context, activityTypeID, userID string) (*domain.RatingEntry, error) {
	return s.cache.GetPlayerRank(ctx, activityTypeID, userID)
}

// GetTopRatings returns the N highest-rated players for an activity type
func (s *RatingService) GetTopRatings(ctx context.Context, activityTypeID string, n int) ([]domain.RatingEntry, error) {
	if n <= 0 {
		n = s.config.DefaultLimit
	}
	if n > s.config.MaxLimit {
		n = s.config.MaxLimit
	}

	entries, err := s.cache.GetTopN(ctx, activityTypeID, n)
	if err != nil {
		return nil, fmt.Errorf("getting top ratings from cache: %w", err)
	}
	return entries, nil
}

// GetRatingsAround returns players ranked around one player
func (s *RatingService) GetRatingsAround(ctx context.Context, activityTypeID, userID string, count int) ([]domain.RatingEntry, error) {
	if count <= 0 {
		count = 5
	}
	if count > 50 {
		count = 50
	}
	return s.cache.GetAroundPlayer(ctx, activityTypeID, userID, count)
}

// GetRatedPlayerCount returns how many players hold a cached rating
func (s *RatingService) GetRatedPlayerCount(ctx context.Context, activityTypeID string) (int64, error) {
	return s.cache.GetCount(ctx, activityTypeID)
}

// CreateActivityType registers or updates an activity type's rating constants
func (s *RatingService) CreateActivityType(ctx context.Context, cfg domain.ActivityTypeRatingConfig) error {
	if cfg.ActivityTypeID == "" {
		return fmt.Errorf("%w: activity type id is required", domain.ErrInvalidRequest)
	}
	if cfg.StartingRating <= 0 {
		return fmt.Errorf("%w: starting rating must be positive", domain.ErrInvalidRequest)
	}
	if cfg.RatingFloor < 0 || cfg.RatingFloor > cfg.StartingRating {
		return fmt.Errorf("%w: rating floor must sit between 0 and the starting rating", domain.ErrInvalidRequest)
	}
	if cfg.SkillInfluence < 0 || cfg.SkillInfluence > 1 {
		return fmt.Errorf("%w: skill influence must be within [0, 1]", domain.ErrInvalidRequest)
	}
	return s.postgres.UpsertActivityTypeConfig(ctx, cfg)
}

// GetActivityTypeConfig returns an activity type's rating constants
func (s *RatingService) GetActivityTypeConfig(ctx context.Context, activityTypeID string) (*domain.ActivityTypeRatingConfig, error) {
	return s.postgres.GetActivityTypeConfig(ctx, activityTypeID)
}

// CreateActivity registers an activity with its accepted roster
func (s *RatingService) CreateActivity(ctx context.Context, activity domain.Activity, participants []domain.Participant) error {
	if activity.ID == "" || activity.ActivityTypeID == "" {
		return fmt.Errorf("%w: activity id and activity type id are required", domain.ErrInvalidRequest)
	}
	if _, err := s.postgres.GetActivityTypeConfig(ctx, activity.ActivityTypeID); err != nil {
		return err
	}
	if err := s.postgres.CreateActivity(ctx, activity); err != nil {
		return err
	}
	for _, p := range participants {
		if err := s.postgres.AddParticipant(ctx, activity.ID, p); err != nil {
			return fmt.Errorf("adding participant %s: %w", p.UserID, err)
		}
	}
	return nil
}

// AddSocialConnection records a mutual social edge used by the matchmaker
func (s *RatingService) AddSocialConnection(ctx context.Context, userID, connectedUserID string) error {
	if userID == "" || connectedUserID == "" || userID == connectedUserID {
		return fmt.Errorf("%w: two distinct user ids are required", domain.ErrInvalidRequest)
	}
	return s.postgres.AddSocialConnection(ctx, userID, connectedUserID)
}
