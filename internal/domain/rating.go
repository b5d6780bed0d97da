package domain

import "time"

// Outcome represents a participant's result in a completed activity
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Valid reports whether the outcome is one of the known values
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLoss, OutcomeDraw:
		return true
	}
	return false
}

// rank orders outcomes for pairwise comparison: win beats draw beats loss
func (o Outcome) rank() int {
	switch o {
	case OutcomeWin:
		return 2
	case OutcomeDraw:
		return 1
	default:
		return 0
	}
}

// PairScore returns the Elo actual score of o against other:
// 1.0 for a better outcome, 0.0 for a worse one, 0.5 for equal outcomes
func (o Outcome) PairScore(other Outcome) float64 {
	switch {
	case o.rank() > other.rank():
		return 1.0
	case o.rank() < other.rank():
		return 0.0
	default:
		return 0.5
	}
}

// RatingRecord is the durable rating state for one player in one activity type.
// At most one record exists per (user, activity type); records are created
// lazily at the configured starting rating and mutated only by the
// completion pipeline.
type RatingRecord struct {
	UserID         string    `json:"user_id"`
	ActivityTypeID string    `json:"activity_type_id"`
	Rating         int       `json:"rating"`
	GamesPlayed    int       `json:"games_played"`
	PeakRating     int       `json:"peak_rating"`
	Volatility     float64   `json:"volatility"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// KFactorTier maps an experience bracket to a K-factor. A tier applies while
// the player's games played is below MaxGames; MaxGames of 0 means unbounded
// and should be the last tier.
type KFactorTier struct {
	MaxGames int `json:"max_games" yaml:"max_games"`
	K        int `json:"k" yaml:"k"`
}

// ActivityTypeRatingConfig holds the per activity-type rating constants.
// Configs are snapshotted at completion time so historical calculations
// stay reproducible.
type ActivityTypeRatingConfig struct {
	ActivityTypeID      string        `json:"activity_type_id"`
	StartingRating      int           `json:"starting_rating"`
	RatingFloor         int           `json:"rating_floor"`
	KFactorTiers        []KFactorTier `json:"k_factor_tiers"`
	TeamBased           bool          `json:"team_based"`
	AllowDraws          bool          `json:"allow_draws"`
	SkillInfluence      float64       `json:"skill_influence"`
	MinimumParticipants int           `json:"minimum_participants"`
}

// KFor selects the K-factor for a player with the given games played
func (c *ActivityTypeRatingConfig) KFor(gamesPlayed int) int {
	for _, tier := range c.KFactorTiers {
		if tier.MaxGames == 0 || gamesPlayed < tier.MaxGames {
			return tier.K
		}
	}
	if len(c.KFactorTiers) > 0 {
		return c.KFactorTiers[len(c.KFactorTiers)-1].K
	}
	return 32
}

// Participant is an accepted participant of an activity
type Participant struct {
	UserID string `json:"user_id"`
	Team   string `json:"team,omitempty"`
}

// ParticipantResult is a single participant's submitted outcome
type ParticipantResult struct {
	UserID  string  `json:"user_id"`
	Team    string  `json:"team,omitempty"`
	Outcome Outcome `json:"outcome"`
}

// Activity identifies an activity and the rating config it plays under
type Activity struct {
	ID             string    `json:"id"`
	ActivityTypeID string    `json:"activity_type_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// RatingUpdate captures a single rating change produced by a completion,
// recorded for audit and emitted to the change notifier
type RatingUpdate struct {
	UserID         string `json:"user_id"`
	ActivityTypeID string `json:"activity_type_id"`
	ActivityID     string `json:"activity_id"`
	OldRating      int    `json:"old_rating"`
	NewRating      int    `json:"new_rating"`
	Delta          int    `json:"delta"`
}
