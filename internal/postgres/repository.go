package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/domain"
)

// Repository provides PostgreSQL-based data access
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS activity_type_configs (
			activity_type_id VARCHAR(64) PRIMARY KEY,
			starting_rating INT NOT NULL DEFAULT 1200,
			rating_floor INT NOT NULL DEFAULT 100,
			k_factor_tiers JSONB,
			team_based BOOLEAN NOT NULL DEFAULT FALSE,
			allow_draws BOOLEAN NOT NULL DEFAULT FALSE,
			skill_influence DOUBLE PRECISION NOT NULL DEFAULT 0,
			minimum_participants INT NOT NULL DEFAULT 2,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activities (
			id VARCHAR(64) PRIMARY KEY,
			activity_type_id VARCHAR(64) NOT NULL REFERENCES activity_type_configs(activity_type_id),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS activity_participants (
			activity_id VARCHAR(64) NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
			user_id VARCHAR(64) NOT NULL,
			team VARCHAR(64),
			status VARCHAR(20) NOT NULL DEFAULT 'accepted',
			PRIMARY KEY (activity_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS ratings (
			user_id VARCHAR(64) NOT NULL,
			activity_type_id VARCHAR(64) NOT NULL,
			rating INT NOT NULL,
			games_played INT NOT NULL DEFAULT 0,
			peak_rating INT NOT NULL,
			volatility DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, activity_type_id)
		)`,
		`CREATE TABLE IF NOT EXISTS completion_status (
			activity_id VARCHAR(64) PRIMARY KEY REFERENCES activities(id) ON DELETE CASCADE,
			state VARCHAR(20) NOT NULL,
			error_detail TEXT,
			participants_affected INT NOT NULL DEFAULT 0,
			average_rating_change DOUBLE PRECISION NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS rating_events (
			id BIGSERIAL PRIMARY KEY,
			activity_id VARCHAR(64) NOT NULL,
			user_id VARCHAR(64) NOT NULL,
			activity_type_id VARCHAR(64) NOT NULL,
			old_rating INT NOT NULL,
			new_rating INT NOT NULL,
			delta INT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS skill_ratings (
			rater_id VARCHAR(64) NOT NULL,
			rated_user_id VARCHAR(64) NOT NULL,
			activity_id VARCHAR(64) NOT NULL REFERENCES activities(id) ON DELETE CASCADE,
			skill_id VARCHAR(64) NOT NULL,
			value INT NOT NULL,
			submitted_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (rater_id, rated_user_id, activity_id, skill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS skill_signals (
			user_id VARCHAR(64) NOT NULL,
			skill_id VARCHAR(64) NOT NULL,
			mean_rating DOUBLE PRECISION NOT NULL,
			sample_count INT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (user_id, skill_id)
		)`,
		`CREATE TABLE IF NOT EXISTS social_connections (
			user_id VARCHAR(64) NOT NULL,
			connected_user_id VARCHAR(64) NOT NULL,
			PRIMARY KEY (user_id, connected_user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ratings_type_rating ON ratings(activity_type_id, rating DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_events_user ON rating_events(user_id, activity_type_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_rating_events_activity ON rating_events(activity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_skill_ratings_rated ON skill_ratings(rated_user_id, skill_id)`,
		`CREATE INDEX IF NOT EXISTS idx_participants_user ON activity_participants(user_id)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// UpsertActivityTypeConfig creates or replaces an activity type's rating constants
func (r *Repository) UpsertActivityTypeConfig(ctx context.Context, cfg domain.ActivityTypeRatingConfig) error {
	tiersJSON, err := json.Marshal(cfg.KFactorTiers)
	if err != nil {
		return fmt.Errorf("marshaling k-factor tiers: %w", err)
	}

	query := `
		INSERT INTO activity_type_configs
			(activity_type_id, starting_rating, rating_floor, k_factor_tiers, team_based, allow_draws, skill_influence, minimum_participants, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (activity_type_id)
		DO UPDATE SET
			starting_rating = $2,
			rating_floor = $3,
			k_factor_tiers = $4,
			team_based = $5,
			allow_draws = $6,
			skill_influence = $7,
			minimum_participants = $8,
			updated_at = $9
	`
	_, err = r.pool.Exec(ctx, query,
		cfg.ActivityTypeID,
		cfg.StartingRating,
		cfg.RatingFloor,
		tiersJSON,
		cfg.TeamBased,
		cfg.AllowDraws,
		cfg.SkillInfluence,
		cfg.MinimumParticipants,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("upserting activity type config: %w", err)
	}
	return nil
}

// GetActivityTypeConfig retrieves the rating constants for one activity type
func (r *Repository) GetActivityTypeConfig(ctx context.Context, activityTypeID string) (*domain.ActivityTypeRatingConfig, error) {
	query := `
		SELECT activity_type_id, starting_rating, rating_floor, k_factor_tiers, team_based, allow_draws, skill_influence, minimum_participants
		FROM activity_type_configs
		WHERE activity_type_id = $1
	`
	var cfg domain.ActivityTypeRatingConfig
	var tiersJSON []byte
	err := r.pool.QueryRow(ctx, query, activityTypeID).Scan(
		&cfg.ActivityTypeID,
		&cfg.StartingRating,
		&cfg.RatingFloor,
		&tiersJSON,
		&cfg.TeamBased,
		&cfg.AllowDraws,
		&cfg.SkillInfluence,
		&cfg.MinimumParticipants,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityTypeNotFound
		}
		return nil, fmt.Errorf("getting activity type config: %w", err)
	}
	if len(tiersJSON) > 0 {
		if err := json.Unmarshal(tiersJSON, &cfg.KFactorTiers); err != nil {
			return nil, fmt.Errorf("unmarshaling k-factor tiers: %w", err)
		}
	}
	return &cfg, nil
}

// ListActivityTypes returns every configured activity type ID
func (r *Repository) ListActivityTypes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT activity_type_id FROM activity_type_configs ORDER BY activity_type_id`)
	if err != nil {
		return nil, fmt.Errorf("listing activity types: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning activity type: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CreateActivity registers an activity for later completion
func (r *Repository) CreateActivity(ctx context.Context, activity domain.Activity) error {
	createdAt := activity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO activities (id, activity_type_id, created_at) VALUES ($1, $2, $3)`,
		activity.ID, activity.ActivityTypeID, createdAt,
	)
	if err != nil {
		return fmt.Errorf("creating activity: %w", err)
	}
	return nil
}

// GetActivity retrieves an activity by ID
func (r *Repository) GetActivity(ctx context.Context, activityID string) (*domain.Activity, error) {
	var activity domain.Activity
	err := r.pool.QueryRow(ctx,
		`SELECT id, activity_type_id, created_at FROM activities WHERE id = $1`,
		activityID,
	).Scan(&activity.ID, &activity.ActivityTypeID, &activity.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrActivityNotFound
		}
		return nil, fmt.Errorf("getting activity: %w", err)
	}
	return &activity, nil
}

// AddParticipant records a user on an activity roster
func (r *Repository) AddParticipant(ctx context.Context, activityID string, participant domain.Participant) error {
	query := `
		INSERT INTO activity_participants (activity_id, user_id, team, status)
		VALUES ($1, $2, NULLIF($3, ''), 'accepted')
		ON CONFLICT (activity_id, user_id)
		DO UPDATE SET team = NULLIF($3, ''), status = 'accepted'
	`
	_, err := r.pool.Exec(ctx, query, activityID, participant.UserID, participant.Team)
	if err != nil {
		return fmt.Errorf("adding participant: %w", err)
	}
	return nil
}

// GetAcceptedParticipants returns the accepted roster of an activity
func (r *Repository) GetAcceptedParticipants(ctx context.Context, activityID string) ([]domain.Participant, error) {
	query := `
		SELECT user_id, COALESCE(team, '')
		FROM activity_participants
		WHERE activity_id = $1 AND status = 'accepted'
		ORDER BY user_id
	`
	rows, err := r.pool.Query(ctx, query, activityID)
	if err != nil {
		return nil, fmt.Errorf("getting participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.UserID, &p.Team); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		participants = append(participants, p)
	}
	return participants, nil
}

// GetCompletionStatus returns an activity's completion row, or nil when the
// activity was never touched by the pipeline
func (r *Repository) GetCompletionStatus(ctx context.Context, activityID string) (*domain.CompletionStatus, error) {
	query := `
		SELECT activity_id, state, COALESCE(error_detail, ''), participants_affected, average_rating_change, updated_at
		FROM completion_status
		WHERE activity_id = $1
	`
	var status domain.CompletionStatus
	err := r.pool.QueryRow(ctx, query, activityID).Scan(
		&status.ActivityID,
		&status.State,
		&status.ErrorDetail,
		&status.ParticipantsAffected,
		&status.AverageRatingChange,
		&status.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting completion status: %w", err)
	}
	return &status, nil
}

// TryBeginProcessing attempts the not_started -> processing transition.
// Exactly one concurrent caller observes true; everyone else false.
func (r *Repository) TryBeginProcessing(ctx context.Context, activityID string) (bool, error) {
	now := time.Now()

	// Make sure a row exists without disturbing one that does.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO completion_status (activity_id, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (activity_id) DO NOTHING
	`, activityID, domain.CompletionNotStarted, now)
	if err != nil {
		return false, fmt.Errorf("seeding completion status: %w", err)
	}

	// The conditional update is the actual lock: RowsAffected tells the
	// winner apart from everyone who raced it.
	tag, err := r.pool.Exec(ctx, `
		UPDATE completion_status
		SET state = $2, updated_at = $3
		WHERE activity_id = $1 AND state = $4
	`, activityID, domain.CompletionProcessing, now, domain.CompletionNotStarted)
	if err != nil {
		return false, fmt.Errorf("claiming completion processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetRating retrieves one player's rating record for an activity type
func (r *Repository) GetRating(ctx context.Context, userID, activityTypeID string) (*domain.RatingRecord, error) {
	query := `
		SELECT user_id, activity_type_id, rating, games_played, peak_rating, volatility, updated_at
		FROM ratings
		WHERE user_id = $1 AND activity_type_id = $2
	`
	var rec domain.RatingRecord
	err := r.pool.QueryRow(ctx, query, userID, activityTypeID).Scan(
		&rec.UserID,
		&rec.ActivityTypeID,
		&rec.Rating,
		&rec.GamesPlayed,
		&rec.PeakRating,
		&rec.Volatility,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRatingNotFound
		}
		return nil, fmt.Errorf("getting rating: %w", err)
	}
	return &rec, nil
}

// CommitCompletion persists the new rating records, the audit events and the
// completed status in one transaction. The status update is guarded on the
// processing state so a commit can never overwrite a terminal row.
func (r *Repository) CommitCompletion(ctx context.Context, status domain.CompletionStatus, records []domain.RatingRecord, updates []domain.RatingUpdate) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now()
	for _, rec := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO ratings (user_id, activity_type_id, rating, games_played, peak_rating, volatility, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id, activity_type_id)
			DO UPDATE SET rating = $3, games_played = $4, peak_rating = $5, volatility = $6, updated_at = $7
		`, rec.UserID, rec.ActivityTypeID, rec.Rating, rec.GamesPlayed, rec.PeakRating, rec.Volatility, now)
		if err != nil {
			return fmt.Errorf("upserting rating for %s: %w", rec.UserID, err)
		}
	}

	for _, upd := range updates {
		_, err := tx.Exec(ctx, `
			INSERT INTO rating_events (activity_id, user_id, activity_type_id, old_rating, new_rating, delta, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, upd.ActivityID, upd.UserID, upd.ActivityTypeID, upd.OldRating, upd.NewRating, upd.Delta, now)
		if err != nil {
			return fmt.Errorf("recording rating event for %s: %w", upd.UserID, err)
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE completion_status
		SET state = $2, participants_affected = $3, average_rating_change = $4, error_detail = NULL, updated_at = $5
		WHERE activity_id = $1 AND state = $6
	`, status.ActivityID, status.State, status.ParticipantsAffected, status.AverageRatingChange, now, domain.CompletionProcessing)
	if err != nil {
		return fmt.Errorf("finalizing completion status: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("finalizing completion status: %w", domain.ErrAlreadyCompleted)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing completion: %w", err)
	}
	return nil
}

// FailCompletion transitions processing -> error with operator detail
func (r *Repository) FailCompletion(ctx context.Context, activityID, detail string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE completion_status
		SET state = $2, error_detail = $3, updated_at = $4
		WHERE activity_id = $1 AND state = $5
	`, activityID, domain.CompletionError, detail, time.Now(), domain.CompletionProcessing)
	if err != nil {
		return fmt.Errorf("marking completion failed: %w", err)
	}
	return nil
}

// GetAllRatings retrieves every rating for one activity type (for cache rebuilds)
func (r *Repository) GetAllRatings(ctx context.Context, activityTypeID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, rating FROM ratings WHERE activity_type_id = $1`,
		activityTypeID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting all ratings: %w", err)
	}
	defer rows.Close()

	ratings := make(map[string]int)
	for rows.Next() {
		var userID string
		var rating int
		if err := rows.Scan(&userID, &rating); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		ratings[userID] = rating
	}
	return ratings, nil
}

// GetRatedPlayerCount returns how many players hold a rating for an activity type
func (r *Repository) GetRatedPlayerCount(ctx context.Context, activityTypeID string) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM ratings WHERE activity_type_id = $1`,
		activityTypeID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("getting rated player count: %w", err)
	}
	return count, nil
}

// UpsertSkillRating stores one peer skill rating and recomputes the rated
// player's (user, skill) aggregate in the same transaction
func (r *Repository) UpsertSkillRating(ctx context.Context, rating domain.SkillRating) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning skill rating transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO skill_ratings (rater_id, rated_user_id, activity_id, skill_id, value, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (rater_id, rated_user_id, activity_id, skill_id)
		DO UPDATE SET value = $5, submitted_at = $6
	`, rating.RaterID, rating.RatedUserID, rating.ActivityID, rating.SkillID, rating.Value, rating.SubmittedAt)
	if err != nil {
		return fmt.Errorf("upserting skill rating: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO skill_signals (user_id, skill_id, mean_rating, sample_count, updated_at)
		SELECT rated_user_id, skill_id, AVG(value), COUNT(*), $3
		FROM skill_ratings
		WHERE rated_user_id = $1 AND skill_id = $2
		GROUP BY rated_user_id, skill_id
		ON CONFLICT (user_id, skill_id)
		DO UPDATE SET mean_rating = EXCLUDED.mean_rating, sample_count = EXCLUDED.sample_count, updated_at = EXCLUDED.updated_at
	`, rating.RatedUserID, rating.SkillID, time.Now())
	if err != nil {
		return fmt.Errorf("recomputing skill signal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing skill rating: %w", err)
	}
	return nil
}

// GetSkillSignals returns the aggregated skill feedback for one player
func (r *Repository) GetSkillSignals(ctx context.Context, userID string) ([]domain.SkillSignal, error) {
	query := `
		SELECT user_id, skill_id, mean_rating, sample_count, updated_at
		FROM skill_signals
		WHERE user_id = $1
		ORDER BY skill_id
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("getting skill signals: %w", err)
	}
	defer rows.Close()
	return scanSkillSignals(rows)
}

// GetSkillSignalsForUsers returns aggregated skill feedback for a set of players
func (r *Repository) GetSkillSignalsForUsers(ctx context.Context, userIDs []string) (map[string][]domain.SkillSignal, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT user_id, skill_id, mean_rating, sample_count, updated_at
		FROM skill_signals
		WHERE user_id = ANY($1)
		ORDER BY user_id, skill_id
	`
	rows, err := r.pool.Query(ctx, query, userIDs)
	if err != nil {
		return nil, fmt.Errorf("getting skill signals: %w", err)
	}
	defer rows.Close()

	signals, err := scanSkillSignals(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]domain.SkillSignal)
	for _, sig := range signals {
		out[sig.UserID] = append(out[sig.UserID], sig)
	}
	return out, nil
}

func scanSkillSignals(rows pgx.Rows) ([]domain.SkillSignal, error) {
	var signals []domain.SkillSignal
	for rows.Next() {
		var sig domain.SkillSignal
		if err := rows.Scan(&sig.UserID, &sig.SkillID, &sig.MeanRating, &sig.SampleCount, &sig.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning skill signal: %w", err)
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

// AddSocialConnection records a bidirectional social edge
func (r *Repository) AddSocialConnection(ctx context.Context, userID, connectedUserID string) error {
	batch := &pgx.Batch{}
	query := `
		INSERT INTO social_connections (user_id, connected_user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	batch.Queue(query, userID, connectedUserID)
	batch.Queue(query, connectedUserID, userID)

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < 2; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("adding social connection: %w", err)
		}
	}
	return nil
}

// GetSocialConnections returns the set of users connected to one player
func (r *Repository) GetSocialConnections(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT connected_user_id FROM social_connections WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("getting social connections: %w", err)
	}
	defer rows.Close()

	connections := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning social connection: %w", err)
		}
		connections[id] = true
	}
	return connections, nil
}

// GetRecentOpponents returns players who shared one of the user's most
// recent rated activities of the given type
func (r *Repository) GetRecentOpponents(ctx context.Context, userID, activityTypeID string) (map[string]bool, error) {
	query := `
		SELECT DISTINCT other.user_id
		FROM rating_events own
		JOIN rating_events other ON other.activity_id = own.activity_id AND other.user_id != own.user_id
		WHERE own.user_id = $1 AND own.activity_type_id = $2
		  AND own.activity_id IN (
			SELECT activity_id FROM rating_events
			WHERE user_id = $1 AND activity_type_id = $2
			ORDER BY created_at DESC
			LIMIT $3
		  )
	`
	rows, err := r.pool.Query(ctx, query, userID, activityTypeID, recentOpponentActivities)
	if err != nil {
		return nil, fmt.Errorf("getting recent opponents: %w", err)
	}
	defer rows.Close()

	opponents := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning recent opponent: %w", err)
		}
		opponents[id] = true
	}
	return opponents, nil
}

// recentOpponentActivities bounds the history window for the recent-opponent
// matchmaking penalty
const recentOpponentActivities = 10

// SaveTeamAssignments persists balanced team memberships onto the roster
func (r *Repository) SaveTeamAssignments(ctx context.Context, activityID string, teams []domain.Team) error {
	batch := &pgx.Batch{}
	query := `
		UPDATE activity_participants
		SET team = $3
		WHERE activity_id = $1 AND user_id = $2
	`
	queued := 0
	for _, team := range teams {
		for _, userID := range team.Members {
			batch.Queue(query, activityID, userID, team.Name)
			queued++
		}
	}
	if queued == 0 {
		return nil
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("saving team assignments: %w", err)
		}
	}
	return nil
}
