package domain

import "errors"

// Domain errors
var (
	ErrActivityNotFound     = errors.New("activity not found")
	ErrActivityTypeNotFound = errors.New("activity type config not found")
	ErrRatingNotFound       = errors.New("rating not found for player")
	ErrPlayerNotFound       = errors.New("player not found")

	ErrAlreadyProcessing = errors.New("activity is already being processed")
	ErrAlreadyCompleted  = errors.New("activity has already been rated")
	ErrCompletionFailed  = errors.New("activity completion previously failed and requires manual intervention")

	ErrInvalidOutcome      = errors.New("invalid participant outcome")
	ErrDrawsNotAllowed     = errors.New("draws are not allowed for this activity type")
	ErrTeamOutcomeMismatch = errors.New("participants on the same team reported different outcomes")
	ErrMissingTeam         = errors.New("team-based activity requires a team for every participant")
	ErrUnknownParticipant  = errors.New("result references a player that is not an accepted participant")
	ErrDuplicateResult     = errors.New("duplicate result for participant")

	ErrSelfRating        = errors.New("players cannot rate their own skills")
	ErrInvalidSkillValue = errors.New("skill rating value outside the allowed scale")

	ErrInvalidTeamCount = errors.New("team count must be at least 2 and not exceed the participant count")

	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalError  = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrActivityNotFound) ||
		errors.Is(err, ErrActivityTypeNotFound) ||
		errors.Is(err, ErrRatingNotFound) ||
		errors.Is(err, ErrPlayerNotFound)
}

// IsConflictError checks if an error represents losing the completion race
// or hitting a terminal completion state
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyProcessing) ||
		errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrCompletionFailed)
}

// IsValidationError checks if an error is a synchronous validation rejection
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrDrawsNotAllowed) ||
		errors.Is(err, ErrTeamOutcomeMismatch) ||
		errors.Is(err, ErrMissingTeam) ||
		errors.Is(err, ErrUnknownParticipant) ||
		errors.Is(err, ErrDuplicateResult) ||
		errors.Is(err, ErrSelfRating) ||
		errors.Is(err, ErrInvalidSkillValue) ||
		errors.Is(err, ErrInvalidTeamCount) ||
		errors.Is(err, ErrInvalidRequest)
}
