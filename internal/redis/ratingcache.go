package redis

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sportrank/internal/config"
	"github.com/sportrank/internal/domain"
)

// RatingCache keeps the current rating of every rated player in one sorted
// set per activity type. It backs the read API and the matchmaker's
// candidate search; Postgres stays the source of truth.
type RatingCache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRatingCache creates a Redis-backed rating cache
func NewRatingCache(cfg *config.RedisConfig, logger *slog.Logger) (*RatingCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RatingCache{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the Redis connection
func (c *RatingCache) Close() error {
	return c.client.Close()
}

// Client returns the underlying Redis client
func (c *RatingCache) Client() *redis.Client {
	return c.client
}

// ratingKey returns the Redis key for an activity type's rating sorted set
func (c *RatingCache) ratingKey(activityTypeID string) string {
	return fmt.Sprintf("ratings:%s:current", activityTypeID)
}

// SetRating writes one player's current rating
func (c *RatingCache) SetRating(ctx context.Context, activityTypeID, userID string, rating int) error {
	key := c.ratingKey(activityTypeID)
	err := c.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(rating),
		Member: userID,
	}).Err()
	if err != nil {
		return fmt.Errorf("setting rating: %w", err)
	}
	return nil
}

// BatchSetRatings writes multiple ratings using pipelining
func (c *RatingCache) BatchSetRatings(ctx context.Context, activityTypeID string, ratings map[string]int) error {
	if len(ratings) == 0 {
		return nil
	}
	key := c.ratingKey(activityTypeID)
	pipe := c.client.Pipeline()

	for userID, rating := range ratings {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(rating),
			Member: userID,
		})
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("batch setting ratings: %w", err)
	}
	return nil
}

// Rebuild atomically replaces an activity type's cached ratings with a
// fresh snapshot. The swap happens under RENAME so readers never observe a
// half-filled set.
func (c *RatingCache) Rebuild(ctx context.Context, activityTypeID string, ratings map[string]int) error {
	key := c.ratingKey(activityTypeID)
	if len(ratings) == 0 {
		if err := c.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("clearing ratings: %w", err)
		}
		return nil
	}

	staging := key + ":rebuild"
	pipe := c.client.Pipeline()
	pipe.Del(ctx, staging)
	for userID, rating := range ratings {
		pipe.ZAdd(ctx, staging, redis.Z{
			Score:  float64(rating),
			Member: userID,
		})
	}
	pipe.Rename(ctx, staging, key)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuilding ratings: %w", err)
	}

	c.logger.Info("rating cache rebuilt",
		"activity_type_id", activityTypeID,
		"players", len(ratings))
	return nil
}

// RemovePlayer removes a player from an activity type's cache
func (c *RatingCache) RemovePlayer(ctx context.Context, activityTypeID, userID string) error {
	err := c.client.ZRem(ctx, c.ratingKey(activityTypeID), userID).Err()
	if err != nil {
		return fmt.Errorf("removing player: %w", err)
	}
	return nil
}

// GetTopN returns the N highest-rated players (descending)
func (c *RatingCache) GetTopN(ctx context.Context, activityTypeID string, n int) ([]domain.RatingEntry, error) {
	key := c.ratingKey(activityTypeID)
	results, err := c.client.ZRevRangeWithScores(ctx, key, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top n: %w", err)
	}
	return entriesFrom(results, 0), nil
}

// GetRange returns players within a rank range (0-indexed, descending)
func (c *RatingCache) GetRange(ctx context.Context, activityTypeID string, start, end int) ([]domain.RatingEntry, error) {
	key := c.ratingKey(activityTypeID)
	results, err := c.client.ZRevRangeWithScores(ctx, key, int64(start), int64(end)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting range: %w", err)
	}
	return entriesFrom(results, start), nil
}

// GetPlayerRank returns one player's rank and cached rating
func (c *RatingCache) GetPlayerRank(ctx context.Context, activityTypeID, userID string) (*domain.RatingEntry, error) {
	key := c.ratingKey(activityTypeID)

	// Pipeline rank and score together
	pipe := c.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, userID)
	scoreCmd := pipe.ZScore(ctx, key, userID)
	_, err := pipe.Exec(ctx)
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player rank: %w", err)
	}

	rank, err := rankCmd.Result()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting rank result: %w", err)
	}

	score, err := scoreCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("getting score result: %w", err)
	}

	return &domain.RatingEntry{
		Rank:   rank + 1, // Convert 0-indexed to 1-indexed
		UserID: userID,
		Rating: int(score),
	}, nil
}

// GetAroundPlayer returns players ranked around a specific player
func (c *RatingCache) GetAroundPlayer(ctx context.Context, activityTypeID, userID string, count int) ([]domain.RatingEntry, error) {
	entry, err := c.GetPlayerRank(ctx, activityTypeID, userID)
	if err != nil {
		return nil, err
	}

	start := entry.Rank - int64(count) - 1 // rank is 1-indexed
	if start < 0 {
		start = 0
	}
	end := entry.Rank + int64(count) - 1

	return c.GetRange(ctx, activityTypeID, int(start), int(end))
}

// GetRatingsWithin returns every cached player whose rating falls inside
// [minRating, maxRating], best first. This is the matchmaker's candidate
// pool query.
func (c *RatingCache) GetRatingsWithin(ctx context.Context, activityTypeID string, minRating, maxRating int) ([]domain.RatingEntry, error) {
	key := c.ratingKey(activityTypeID)
	results, err := c.client.ZRevRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minRating),
		Max: fmt.Sprintf("%d", maxRating),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("getting ratings within range: %w", err)
	}

	entries := make([]domain.RatingEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RatingEntry{
			UserID: result.Member.(string),
			Rating: int(result.Score),
		}
	}
	return entries, nil
}

// GetCount returns how many players are cached for an activity type
func (c *RatingCache) GetCount(ctx context.Context, activityTypeID string) (int64, error) {
	count, err := c.client.ZCard(ctx, c.ratingKey(activityTypeID)).Result()
	if err != nil {
		return 0, fmt.Errorf("getting count: %w", err)
	}
	return count, nil
}

// Exists checks if an activity type has any cached ratings
func (c *RatingCache) Exists(ctx context.Context, activityTypeID string) (bool, error) {
	exists, err := c.client.Exists(ctx, c.ratingKey(activityTypeID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking existence: %w", err)
	}
	return exists > 0, nil
}

func entriesFrom(results []redis.Z, start int) []domain.RatingEntry {
	entries := make([]domain.RatingEntry, len(results))
	for i, result := range results {
		entries[i] = domain.RatingEntry{
			Rank:   int64(start + i + 1), // 1-indexed rank
			UserID: result.Member.(string),
			Rating: int(result.Score),
		}
	}
	return entries
}
