package domain

import "time"

// Bounds of the peer skill rating scale
const (
	SkillScaleMin = 1
	SkillScaleMax = 10
)

// SkillRating is a single peer-submitted rating of one player's skill,
// tied to the activity it was observed in. Each rater may hold at most one
// rating per (rated user, skill) per activity; resubmission overwrites.
type SkillRating struct {
	RaterID     string    `json:"rater_id"`
	RatedUserID string    `json:"rated_user_id"`
	ActivityID  string    `json:"activity_id"`
	SkillID     string    `json:"skill_id"`
	Value       int       `json:"value"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SkillSignal is the aggregated peer feedback for one player and skill
type SkillSignal struct {
	UserID      string    `json:"user_id"`
	SkillID     string    `json:"skill_id"`
	MeanRating  float64   `json:"mean_rating"`
	SampleCount int       `json:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}
