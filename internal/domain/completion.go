package domain

import "time"

// CompletionState is the processing state of an activity's rating run
type CompletionState string

const (
	CompletionNotStarted CompletionState = "not_started"
	CompletionProcessing CompletionState = "processing"
	CompletionCompleted  CompletionState = "completed"
	CompletionError      CompletionState = "error"
)

// Terminal reports whether no further transitions are allowed from the state
func (s CompletionState) Terminal() bool {
	return s == CompletionCompleted || s == CompletionError
}

// CompletionStatus is the per-activity processing record. State transitions
// are monotonic: not_started -> processing -> {completed, error}. An activity
// never re-enters processing after reaching a terminal state.
type CompletionStatus struct {
	ActivityID           string          `json:"activity_id"`
	State                CompletionState `json:"state"`
	ErrorDetail          string          `json:"error_detail,omitempty"`
	ParticipantsAffected int             `json:"participants_affected"`
	AverageRatingChange  float64         `json:"average_rating_change"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// CompletionOutcome is returned to callers of CompleteActivity
type CompletionOutcome struct {
	ActivityID           string          `json:"activity_id"`
	State                CompletionState `json:"state"`
	ParticipantsAffected int             `json:"participants_affected"`
	AverageRatingChange  float64         `json:"average_rating_change"`
	Skipped              bool            `json:"skipped,omitempty"`
	Updates              []RatingUpdate  `json:"updates,omitempty"`
}

// CompletionRequest is a request to complete an activity, also the message
// format consumed from the completions topic
type CompletionRequest struct {
	ActivityID string              `json:"activity_id"`
	Results    []ParticipantResult `json:"results"`
}

// Change event types emitted to the change notifier
const (
	EntityRating           = "rating"
	EntityCompletionStatus = "completion_status"

	ChangeUpdated   = "updated"
	ChangeCompleted = "completed"
	ChangeFailed    = "failed"
)

// ChangeEvent is a fire-and-forget notification about an updated entity
type ChangeEvent struct {
	EntityType string                 `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	ChangeType string                 `json:"change_type"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}
