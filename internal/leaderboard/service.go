// Package leaderboard serves ranking and stats queries. Reads go to the hot
// Redis cache first and fall back to the store, rebuilding the cache on the
// way out; advance commits keep the cache fresh incrementally.
package leaderboard

import (
	"context"
	"log/slog"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	redisstore "github.com/bookfeed-bot/bookfeed/internal/store/redis"
)

// DefaultLimit bounds a leaderboard page when the caller asks for nothing
// specific.
const DefaultLimit = 10

// rebuildLimit is how many entries a fallback rebuild pushes into the cache.
const rebuildLimit = 100

// Service answers leaderboard and stats queries.
type Service struct {
	store  reading.ProgressStore
	cache  *redisstore.LeaderboardCache // nil when Redis is disabled
	logger *slog.Logger
}

// NewService creates a Service. cache may be nil; every read then goes to
// the store directly.
func NewService(store reading.ProgressStore, cache *redisstore.LeaderboardCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// Top returns the first limit leaderboard entries ordered by total points.
func (s *Service) Top(ctx context.Context, limit int) ([]reading.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}

	if s.cache != nil {
		entries, err := s.cache.GetTop(ctx, limit)
		if err == nil {
			return entries, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// Miss or Redis trouble: the store is the source of truth.
	}

	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	s.refreshCache(ctx, limit)
	return entries, nil
}

// Rank returns the 1-based position of a user, or ErrNotRanked when the
// user has no points yet.
func (s *Service) Rank(ctx context.Context, userID reading.UserID) (int, error) {
	if s.cache != nil {
		rank, err := s.cache.GetRank(ctx, userID)
		if err == nil {
			return rank, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}

	entries, err := s.store.Leaderboard(ctx, rebuildLimit)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.UserID == userID {
			return e.Rank, nil
		}
	}
	return 0, redisstore.ErrNotRanked
}

// Stats returns the full gamification snapshot for a user.
func (s *Service) Stats(ctx context.Context, userID reading.UserID) (*reading.UserStats, error) {
	return s.store.UserStats(ctx, userID)
}

// AdvanceCommitted implements delivery.AdvanceObserver: a committed advance
// bumps the user's cached score without a full rebuild.
func (s *Service) AdvanceCommitted(ctx context.Context, user *reading.User) {
	if s.cache == nil {
		return
	}

	entry := reading.LeaderboardEntry{
		UserID:      user.ID,
		Username:    user.Username,
		TotalPoints: user.Gamification.TotalPoints,
		Level:       user.Gamification.Level(),
		PagesRead:   user.Gamification.PagesRead,
	}
	if err := s.cache.UpdateUser(ctx, entry); err != nil {
		// The next rebuild heals the cache.
		s.logger.Warn("leaderboard cache update failed",
			"user_id", int64(user.ID),
			"error", err,
		)
	}
}

// refreshCache repopulates the cache from the store, best effort.
func (s *Service) refreshCache(ctx context.Context, limit int) {
	if s.cache == nil {
		return
	}
	if limit < rebuildLimit {
		limit = rebuildLimit
	}

	entries, err := s.store.Leaderboard(ctx, limit)
	if err != nil {
		return
	}
	if err := s.cache.Rebuild(ctx, entries, redisstore.TTLLeaderboard); err != nil {
		s.logger.Warn("leaderboard cache rebuild failed", "error", err)
	}
}
