package matchmaking

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/sportrank/internal/domain"
)

// RatingSource supplies current ratings for compatibility search and team
// balancing; reads are allowed to be stale by one update
type RatingSource interface {
	GetRating(ctx context.Context, userID, activityTypeID string) (*domain.RatingRecord, error)
	GetRatingsWithin(ctx context.Context, activityTypeID string, minRating, maxRating int) ([]domain.RatingEntry, error)
}

// Store supplies the social graph, history and participant data the
// matchmaker combines with ratings
type Store interface {
	GetActivity(ctx context.Context, activityID string) (*domain.Activity, error)
	GetActivityTypeConfig(ctx context.Context, activityTypeID string) (*domain.ActivityTypeRatingConfig, error)
	GetAcceptedParticipants(ctx context.Context, activityID string) ([]domain.Participant, error)
	GetSocialConnections(ctx context.Context, userID string) (map[string]bool, error)
	GetRecentOpponents(ctx context.Context, userID, activityTypeID string) (map[string]bool, error)
	GetSkillSignalsForUsers(ctx context.Context, userIDs []string) (map[string][]domain.SkillSignal, error)
	SaveTeamAssignments(ctx context.Context, activityID string, teams []domain.Team) error
}

// Weights configures the composite compatibility score
type Weights struct {
	Rating        float64
	Skills        float64
	Social        float64
	RecentPenalty float64
}

// DefaultWeights are used when the configuration leaves the weights zeroed
func DefaultWeights() Weights {
	return Weights{
		Rating:        0.6,
		Skills:        0.25,
		Social:        0.15,
		RecentPenalty: 0.2,
	}
}

// Options tunes a single compatibility search
type Options struct {
	Tolerance       int  // rating distance window; <= 0 uses the default
	Limit           int  // maximum results; <= 0 uses the default
	PenalizeRecent  bool // apply the repeat-opponent penalty
}

// Service computes player compatibility and balanced team partitions.
// It is read-only apart from the explicit team-assignment apply.
type Service struct {
	ratings          RatingSource
	store            Store
	weights          Weights
	defaultTolerance int
	maxCandidates    int
	logger           *slog.Logger
}

// NewService creates a matchmaking service
func NewService(ratings RatingSource, store Store, weights Weights, defaultTolerance, maxCandidates int, logger *slog.Logger) *Service {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	if defaultTolerance <= 0 {
		defaultTolerance = 200
	}
	if maxCandidates <= 0 {
		maxCandidates = 50
	}
	return &Service{
		ratings:          ratings,
		store:            store,
		weights:          weights,
		defaultTolerance: defaultTolerance,
		maxCandidates:    maxCandidates,
		logger:           logger,
	}
}

// FindCompatiblePlayers returns opponents ranked by composite compatibility:
// inverse normalized rating distance, skill-category overlap, a bonus for
// social connections and an optional penalty for recent repeat opponents.
// Results are ordered descending by score with ties broken by ascending
// rating distance.
func (s *Service) FindCompatiblePlayers(ctx context.Context, userID, activityTypeID string, opts Options) ([]domain.PlayerRecommendation, error) {
	tolerance := opts.Tolerance
	if tolerance <= 0 {
		tolerance = s.defaultTolerance
	}
	limit := opts.Limit
	if limit <= 0 || limit > s.maxCandidates {
		limit = s.maxCandidates
	}

	selfRating, err := s.playerRating(ctx, userID, activityTypeID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.ratings.GetRatingsWithin(ctx, activityTypeID, selfRating-tolerance, selfRating+tolerance)
	if err != nil {
		return nil, fmt.Errorf("loading candidate pool: %w", err)
	}

	social, err := s.store.GetSocialConnections(ctx, userID)
	if err != nil {
		s.logger.Warn("social connections unavailable", "user_id", userID, "error", err)
		social = nil
	}

	var recent map[string]bool
	if opts.PenalizeRecent {
		recent, err = s.store.GetRecentOpponents(ctx, userID, activityTypeID)
		if err != nil {
			s.logger.Warn("recent opponents unavailable", "user_id", userID, "error", err)
			recent = nil
		}
	}

	candidateIDs := make([]string, 0, len(candidates)+1)
	candidateIDs = append(candidateIDs, userID)
	for _, c := range candidates {
		if c.UserID != userID {
			candidateIDs = append(candidateIDs, c.UserID)
		}
	}
	skillsByUser, err := s.store.GetSkillSignalsForUsers(ctx, candidateIDs)
	if err != nil {
		s.logger.Warn("skill signals unavailable", "error", err)
		skillsByUser = nil
	}
	selfSkills := skillProfile(skillsByUser[userID])

	recommendations := make([]domain.PlayerRecommendation, 0, len(candidates))
	for _, candidate := range candidates {
		if candidate.UserID == userID {
			continue
		}
		distance := abs(candidate.Rating - selfRating)
		overlap, shared := skillOverlap(selfSkills, skillProfile(skillsByUser[candidate.UserID]))

		score := s.weights.Rating * (1 - float64(distance)/float64(tolerance))
		score += s.weights.Skills * overlap
		if social[candidate.UserID] {
			score += s.weights.Social
		}
		isRecent := recent[candidate.UserID]
		if isRecent {
			score -= s.weights.RecentPenalty
		}

		recommendations = append(recommendations, domain.PlayerRecommendation{
			UserID:            candidate.UserID,
			Rating:            candidate.Rating,
			RatingDistance:    distance,
			Score:             score,
			SharedSkills:      shared,
			SociallyConnected: social[candidate.UserID],
			RecentOpponent:    isRecent,
		})
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		if recommendations[i].Score != recommendations[j].Score {
			return recommendations[i].Score > recommendations[j].Score
		}
		if recommendations[i].RatingDistance != recommendations[j].RatingDistance {
			return recommendations[i].RatingDistance < recommendations[j].RatingDistance
		}
		return recommendations[i].UserID < recommendations[j].UserID
	})

	if len(recommendations) > limit {
		recommendations = recommendations[:limit]
	}
	return recommendations, nil
}

// BalanceTeams partitions an activity's accepted participants into
// teamCount teams using longest-processing-time-first bin balancing:
// participants are sorted descending by rating and each is assigned to the
// team with the lowest running rating sum. When apply is true the resulting
// assignments are persisted; otherwise the call is a preview.
func (s *Service) BalanceTeams(ctx context.Context, activityID string, teamCount int, apply bool) (*domain.TeamAssignment, error) {
	activity, err := s.store.GetActivity(ctx, activityID)
	if err != nil {
		return nil, err
	}
	participants, err := s.store.GetAcceptedParticipants(ctx, activityID)
	if err != nil {
		return nil, fmt.Errorf("loading participants: %w", err)
	}
	if teamCount < 2 || teamCount > len(participants) {
		return nil, fmt.Errorf("%w: %d teams for %d participants", domain.ErrInvalidTeamCount, teamCount, len(participants))
	}

	rated := make([]ratedParticipant, len(participants))
	for i, part := range participants {
		r, err := s.playerRating(ctx, part.UserID, activity.ActivityTypeID)
		if err != nil {
			return nil, err
		}
		rated[i] = ratedParticipant{userID: part.UserID, rating: r}
	}

	assignment := partition(rated, teamCount)
	assignment.ActivityID = activityID

	if apply {
		if err := s.store.SaveTeamAssignments(ctx, activityID, assignment.Teams); err != nil {
			return nil, fmt.Errorf("saving team assignments: %w", err)
		}
		assignment.Applied = true
		s.logger.Info("team assignments applied",
			"activity_id", activityID,
			"teams", teamCount,
			"balance_score", assignment.BalanceScore,
		)
	}
	return assignment, nil
}

// playerRating reads a player's current rating, falling back to the
// activity type's starting rating for players without a record yet
func (s *Service) playerRating(ctx context.Context, userID, activityTypeID string) (int, error) {
	rec, err := s.ratings.GetRating(ctx, userID, activityTypeID)
	if err == nil {
		return rec.Rating, nil
	}
	if !domain.IsNotFoundError(err) {
		return 0, fmt.Errorf("loading rating: %w", err)
	}
	cfg, err := s.store.GetActivityTypeConfig(ctx, activityTypeID)
	if err != nil {
		return 0, err
	}
	return cfg.StartingRating, nil
}

type ratedParticipant struct {
	userID string
	rating int
}

// partition assigns rated participants to teamCount teams with the LPT
// greedy heuristic, keeping team sizes within one of each other.
// Deterministic: ties in rating order break by user ID and ties in team
// load break by team index.
func partition(participants []ratedParticipant, teamCount int) *domain.TeamAssignment {
	sorted := make([]ratedParticipant, len(participants))
	copy(sorted, participants)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].rating != sorted[j].rating {
			return sorted[i].rating > sorted[j].rating
		}
		return sorted[i].userID < sorted[j].userID
	})

	teams := make([]domain.Team, teamCount)
	for i := range teams {
		teams[i].Name = fmt.Sprintf("team-%d", i+1)
	}

	maxSize := (len(sorted) + teamCount - 1) / teamCount
	for _, p := range sorted {
		lowest := -1
		for i := 0; i < teamCount; i++ {
			if len(teams[i].Members) >= maxSize {
				continue
			}
			if lowest < 0 || teams[i].TotalRating < teams[lowest].TotalRating {
				lowest = i
			}
		}
		teams[lowest].Members = append(teams[lowest].Members, p.userID)
		teams[lowest].TotalRating += p.rating
	}

	var minAvg, maxAvg, overallSum float64
	var overallCount int
	first := true
	for i := range teams {
		if len(teams[i].Members) == 0 {
			continue
		}
		teams[i].AverageRating = float64(teams[i].TotalRating) / float64(len(teams[i].Members))
		overallSum += float64(teams[i].TotalRating)
		overallCount += len(teams[i].Members)
		if first || teams[i].AverageRating < minAvg {
			minAvg = teams[i].AverageRating
		}
		if first || teams[i].AverageRating > maxAvg {
			maxAvg = teams[i].AverageRating
		}
		first = false
	}

	score := 1.0
	if overallCount > 0 {
		overallAvg := overallSum / float64(overallCount)
		if overallAvg > 0 {
			score = 1.0 - (maxAvg-minAvg)/overallAvg
		}
	}
	score = math.Max(0, math.Min(1, score))

	return &domain.TeamAssignment{Teams: teams, BalanceScore: score}
}

// skillProfile flattens signals into skillID -> mean rating
func skillProfile(signals []domain.SkillSignal) map[string]float64 {
	if len(signals) == 0 {
		return nil
	}
	profile := make(map[string]float64, len(signals))
	for _, sig := range signals {
		profile[sig.SkillID] = sig.MeanRating
	}
	return profile
}

// skillOverlap scores how closely two skill profiles match across shared
// skill categories: 1.0 for identical means, decreasing with distance.
// Returns 0 when the players share no rated skills.
func skillOverlap(a, b map[string]float64) (float64, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	scale := float64(domain.SkillScaleMax - domain.SkillScaleMin)
	var total float64
	shared := 0
	for skillID, av := range a {
		bv, ok := b[skillID]
		if !ok {
			continue
		}
		total += 1 - math.Abs(av-bv)/scale
		shared++
	}
	if shared == 0 {
		return 0, 0
	}
	return total / float64(shared), shared
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
