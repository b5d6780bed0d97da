package service

import (
	"context"

	"github.com/sportrank/internal/domain"
	"github.com/sportrank/internal/postgres"
	"github.com/sportrank/internal/redis"
)

// RatingSource adapts the durable store and the cache into the matchmaker's
// read interface: point lookups hit Postgres, range scans hit the Redis
// sorted sets.
type RatingSource struct {
	repo  *postgres.Repository
	cache *redis.RatingCache
}

func NewRatingSource(repo *postgres.Repository, cache *redis.RatingCache) *RatingSource {
	return &RatingSource{repo: repo, cache: cache}
}

func (s *RatingSource) GetRating(ctx context.Context, userID, activityTypeID string) (*domain.RatingRecord, error) {
	return s.repo.GetRating(ctx, userID, activityTypeID)
}

func (s *RatingSource) GetRatingsWithin(ctx context.Context, activityTypeID string, minRating, maxRating int) ([]domain.RatingEntry, error) {
	return s.cache.GetRatingsWithin(ctx, activityTypeID, minRating, maxRating)
}
