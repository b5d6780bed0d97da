package rating

import (
	"fmt"
	"math"

	"github.com/sportrank/internal/domain"
)

const (
	// skillAdjustmentCap bounds the skill-influence term to a fraction of K
	// so peer feedback can never dominate the win/loss signal
	skillAdjustmentCap = 0.05

	// ratingPerSkillPoint maps rating distance from the starting rating onto
	// the peer skill scale when deriving the expected skill for a rating
	ratingPerSkillPoint = 100.0

	// volatilitySmoothing is the EMA weight given to the latest swing
	volatilitySmoothing = 0.2
)

// entity is one side of the pairwise expansion: an individual participant,
// or a whole team collapsed to its effective rating
type entity struct {
	key     string
	rating  float64
	k       int
	outcome domain.Outcome
	members []int // indexes into the results slice
	sum     float64
}

// ComputeRatingDeltas computes the post-activity ratings for every
// participant in results. It is deterministic and side-effect free:
// identical inputs always produce identical outputs, in results order.
//
// current must hold exactly one record per result, keyed by user ID.
// skillSignals is an optional blended peer-feedback scalar per user on the
// 1-10 scale; missing entries mean no adjustment for that player.
func ComputeRatingDeltas(
	cfg domain.ActivityTypeRatingConfig,
	current map[string]domain.RatingRecord,
	results []domain.ParticipantResult,
	skillSignals map[string]float64,
) ([]domain.RatingRecord, error) {
	if err := ValidateResults(cfg, results); err != nil {
		return nil, err
	}
	for _, res := range results {
		if _, ok := current[res.UserID]; !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrRatingNotFound, res.UserID)
		}
	}

	entities := buildEntities(cfg, current, results)
	if len(entities) < 2 {
		return nil, fmt.Errorf("%w: need at least two opposing sides", domain.ErrInvalidRequest)
	}

	// Expand into all pairwise comparisons and accumulate actual - expected
	// per entity. Normalizing by (N-1) below keeps a participant's total
	// swing commensurate with a single head-to-head match.
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			expected := expectedScore(entities[i].rating, entities[j].rating)
			actual := entities[i].outcome.PairScore(entities[j].outcome)
			entities[i].sum += actual - expected
			entities[j].sum += (1 - actual) - (1 - expected)
		}
	}

	n := float64(len(entities))
	updated := make([]domain.RatingRecord, len(results))
	for _, ent := range entities {
		delta := float64(ent.k) * ent.sum / (n - 1)
		for _, idx := range ent.members {
			rec := current[results[idx].UserID]
			adj := skillAdjustment(cfg, rec.Rating, ent.k, skillSignals, rec.UserID)
			newRating := int(math.Round(float64(rec.Rating) + delta + adj))
			if newRating < cfg.RatingFloor {
				newRating = cfg.RatingFloor
			}
			swing := math.Abs(float64(newRating - rec.Rating))

			rec.Rating = newRating
			rec.GamesPlayed++
			if newRating > rec.PeakRating {
				rec.PeakRating = newRating
			}
			rec.Volatility = (1-volatilitySmoothing)*rec.Volatility + volatilitySmoothing*swing
			updated[idx] = rec
		}
	}

	return updated, nil
}

// ValidateResults checks the internal consistency of submitted results:
// known outcome values, draws only when allowed, no duplicate participants,
// and for team-based activities a team per participant with all members of
// a team sharing the same outcome.
func ValidateResults(cfg domain.ActivityTypeRatingConfig, results []domain.ParticipantResult) error {
	if len(results) == 0 {
		return fmt.Errorf("%w: no results submitted", domain.ErrInvalidRequest)
	}

	seen := make(map[string]bool, len(results))
	teamOutcomes := make(map[string]domain.Outcome)
	for _, res := range results {
		if !res.Outcome.Valid() {
			return fmt.Errorf("%w: %q for %s", domain.ErrInvalidOutcome, res.Outcome, res.UserID)
		}
		if res.Outcome == domain.OutcomeDraw && !cfg.AllowDraws {
			return fmt.Errorf("%w: %s", domain.ErrDrawsNotAllowed, res.UserID)
		}
		if seen[res.UserID] {
			return fmt.Errorf("%w: %s", domain.ErrDuplicateResult, res.UserID)
		}
		seen[res.UserID] = true

		if cfg.TeamBased {
			if res.Team == "" {
				return fmt.Errorf("%w: %s", domain.ErrMissingTeam, res.UserID)
			}
			if prev, ok := teamOutcomes[res.Team]; ok && prev != res.Outcome {
				return fmt.Errorf("%w: team %s", domain.ErrTeamOutcomeMismatch, res.Team)
			}
			teamOutcomes[res.Team] = res.Outcome
		}
	}
	return nil
}

// buildEntities collapses results into rating entities. For team-based
// activities each team becomes one entity with the arithmetic mean of its
// members' ratings; otherwise every participant stands alone. Entities keep
// first-appearance order so the computation stays deterministic.
func buildEntities(
	cfg domain.ActivityTypeRatingConfig,
	current map[string]domain.RatingRecord,
	results []domain.ParticipantResult,
) []*entity {
	if !cfg.TeamBased {
		entities := make([]*entity, len(results))
		for i, res := range results {
			rec := current[res.UserID]
			entities[i] = &entity{
				key:     res.UserID,
				rating:  float64(rec.Rating),
				k:       cfg.KFor(rec.GamesPlayed),
				outcome: res.Outcome,
				members: []int{i},
			}
		}
		return entities
	}

	byTeam := make(map[string]*entity)
	var order []string
	for i, res := range results {
		ent, ok := byTeam[res.Team]
		if !ok {
			ent = &entity{key: res.Team, outcome: res.Outcome}
			byTeam[res.Team] = ent
			order = append(order, res.Team)
		}
		ent.members = append(ent.members, i)
	}

	entities := make([]*entity, 0, len(order))
	for _, team := range order {
		ent := byTeam[team]
		var ratingSum, gamesSum float64
		for _, idx := range ent.members {
			rec := current[results[idx].UserID]
			ratingSum += float64(rec.Rating)
			gamesSum += float64(rec.GamesPlayed)
		}
		size := float64(len(ent.members))
		ent.rating = ratingSum / size
		ent.k = cfg.KFor(int(math.Round(gamesSum / size)))
		entities = append(entities, ent)
	}
	return entities
}

// expectedScore is the logistic Elo expectation of a against b
func expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10.0, (ratingB-ratingA)/400.0))
}

// skillAdjustment blends the peer skill signal into a bounded bonus or
// penalty. The signal is compared against the skill level the player's
// rating predicts; the difference, scaled by the configured influence, is
// clamped to +/- skillAdjustmentCap of K.
func skillAdjustment(
	cfg domain.ActivityTypeRatingConfig,
	currentRating, k int,
	skillSignals map[string]float64,
	userID string,
) float64 {
	if cfg.SkillInfluence <= 0 || skillSignals == nil {
		return 0
	}
	signal, ok := skillSignals[userID]
	if !ok {
		return 0
	}

	expected := expectedSkillForRating(cfg, currentRating)
	scale := float64(domain.SkillScaleMax - domain.SkillScaleMin)
	maxAdj := skillAdjustmentCap * float64(k)

	adj := (signal - expected) / scale * cfg.SkillInfluence * maxAdj
	return math.Max(-maxAdj, math.Min(maxAdj, adj))
}

// expectedSkillForRating maps a rating onto the peer skill scale: a player
// at the starting rating is expected to sit at the middle of the scale,
// moving one skill point per ratingPerSkillPoint of rating distance.
func expectedSkillForRating(cfg domain.ActivityTypeRatingConfig, rating int) float64 {
	mid := float64(domain.SkillScaleMin+domain.SkillScaleMax) / 2.0
	expected := mid + float64(rating-cfg.StartingRating)/ratingPerSkillPoint
	return math.Max(float64(domain.SkillScaleMin), math.Min(float64(domain.SkillScaleMax), expected))
}

// AverageAbsoluteDelta reports the mean absolute rating change between two
// record sets keyed to the same results order
func AverageAbsoluteDelta(before map[string]domain.RatingRecord, after []domain.RatingRecord) float64 {
	if len(after) == 0 {
		return 0
	}
	var total float64
	for _, rec := range after {
		total += math.Abs(float64(rec.Rating - before[rec.UserID].Rating))
	}
	return total / float64(len(after))
}
