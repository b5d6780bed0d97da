package domain

// RatingEntry is a single entry in an activity type's rating leaderboard
type RatingEntry struct {
	Rank   int64  `json:"rank"`
	UserID string `json:"user_id"`
	Rating int    `json:"rating"`
}

// PlayerRecommendation is one ranked entry returned by compatibility search
type PlayerRecommendation struct {
	UserID            string  `json:"user_id"`
	Rating            int     `json:"rating"`
	RatingDistance    int     `json:"rating_distance"`
	Score             float64 `json:"score"`
	SharedSkills      int     `json:"shared_skills"`
	SociallyConnected bool    `json:"socially_connected"`
	RecentOpponent    bool    `json:"recent_opponent"`
}

// Team is one side of a balanced team assignment
type Team struct {
	Name          string   `json:"name"`
	Members       []string `json:"members"`
	TotalRating   int      `json:"total_rating"`
	AverageRating float64  `json:"average_rating"`
}

// TeamAssignment is the result of balancing participants into teams.
// BalanceScore is 1 - (maxTeamAvg - minTeamAvg) / overallAvg, clamped to
// [0, 1]; 1.0 means perfectly even team averages.
type TeamAssignment struct {
	ActivityID   string  `json:"activity_id,omitempty"`
	Teams        []Team  `json:"teams"`
	BalanceScore float64 `json:"balance_score"`
	Applied      bool    `json:"applied"`
}
