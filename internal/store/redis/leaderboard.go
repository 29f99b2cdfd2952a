// Package redis implements Redis caching for bookfeed.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEADERBOARD CACHE
// ══════════════════════════════════════════════════════════════════════════════

// ErrNotRanked is returned when a user is not present in the cached ranking.
var ErrNotRanked = errors.New("leaderboard_cache: user not ranked")

// Key patterns for leaderboard cache.
const (
	// keyLeaderboardPoints is the sorted set mapping user ID to points.
	keyLeaderboardPoints = "leaderboard:points"

	// keyLeaderboardInfo is the hash holding entry details as JSON.
	keyLeaderboardInfo = "leaderboard:info"
)

// LeaderboardCache keeps the points ranking in a Redis sorted set.
//
// Architecture:
//   - Sorted set "leaderboard:points" stores userID -> total points
//   - Hash "leaderboard:info" stores userID -> entry JSON
//
// Rank lookups are O(log N), top-N reads are O(log N + M).
type LeaderboardCache struct {
	cache *Cache
}

// NewLeaderboardCache creates a new LeaderboardCache.
func NewLeaderboardCache(cache *Cache) *LeaderboardCache {
	return &LeaderboardCache{cache: cache}
}

// cachedEntry is the JSON shape stored in the info hash. Rank is derived
// from the sorted set at read time, never stored.
type cachedEntry struct {
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
	TotalPoints int    `json:"total_points"`
	Level       int    `json:"level"`
	PagesRead   int    `json:"pages_read"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Write operations
// ─────────────────────────────────────────────────────────────────────────────

// Rebuild atomically replaces the cached ranking with a fresh snapshot.
func (l *LeaderboardCache) Rebuild(ctx context.Context, entries []reading.LeaderboardEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = TTLLeaderboard
	}

	pipe := l.cache.Client().TxPipeline()
	pipe.Del(ctx, keyLeaderboardPoints, keyLeaderboardInfo)

	if len(entries) > 0 {
		zMembers := make([]redis.Z, 0, len(entries))
		hashData := make(map[string]interface{}, len(entries))

		for _, e := range entries {
			member := strconv.FormatInt(int64(e.UserID), 10)
			zMembers = append(zMembers, redis.Z{
				Score:  float64(e.TotalPoints),
				Member: member,
			})

			data, err := json.Marshal(cachedEntry{
				UserID:      int64(e.UserID),
				Username:    e.Username,
				TotalPoints: int(e.TotalPoints),
				Level:       int(e.Level),
				PagesRead:   e.PagesRead,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal entry: %w", err)
			}
			hashData[member] = data
		}

		pipe.ZAdd(ctx, keyLeaderboardPoints, zMembers...)
		pipe.HSet(ctx, keyLeaderboardInfo, hashData)
		pipe.Expire(ctx, keyLeaderboardPoints, ttl)
		pipe.Expire(ctx, keyLeaderboardInfo, ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// UpdateUser updates a single user's score and details after a commit.
// O(log N); the sweep does not rebuild the whole board on every advance.
func (l *LeaderboardCache) UpdateUser(ctx context.Context, entry reading.LeaderboardEntry) error {
	member := strconv.FormatInt(int64(entry.UserID), 10)

	data, err := json.Marshal(cachedEntry{
		UserID:      int64(entry.UserID),
		Username:    entry.Username,
		TotalPoints: int(entry.TotalPoints),
		Level:       int(entry.Level),
		PagesRead:   entry.PagesRead,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	pipe := l.cache.Client().Pipeline()
	pipe.ZAdd(ctx, keyLeaderboardPoints, redis.Z{
		Score:  float64(entry.TotalPoints),
		Member: member,
	})
	pipe.HSet(ctx, keyLeaderboardInfo, member, data)
	pipe.Expire(ctx, keyLeaderboardPoints, TTLLeaderboard)
	pipe.Expire(ctx, keyLeaderboardInfo, TTLLeaderboard)

	_, err = pipe.Exec(ctx)
	return err
}

// Invalidate drops the cached ranking entirely.
func (l *LeaderboardCache) Invalidate(ctx context.Context) error {
	return l.cache.Client().Del(ctx, keyLeaderboardPoints, keyLeaderboardInfo).Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Read operations
// ─────────────────────────────────────────────────────────────────────────────

// Exists reports whether a cached ranking is present.
func (l *LeaderboardCache) Exists(ctx context.Context) (bool, error) {
	count, err := l.cache.Client().Exists(ctx, keyLeaderboardPoints).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetTop returns the top N cached entries with ranks populated.
func (l *LeaderboardCache) GetTop(ctx context.Context, count int) ([]reading.LeaderboardEntry, error) {
	if count <= 0 {
		count = 10
	}

	members, err := l.cache.Client().ZRevRange(ctx, keyLeaderboardPoints, 0, int64(count-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, ErrCacheMiss
	}

	raw, err := l.cache.Client().HMGet(ctx, keyLeaderboardInfo, members...).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]reading.LeaderboardEntry, 0, len(members))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}

		var cached cachedEntry
		if err := json.Unmarshal([]byte(str), &cached); err != nil {
			continue
		}

		entries = append(entries, reading.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      reading.UserID(cached.UserID),
			Username:    cached.Username,
			TotalPoints: reading.Points(cached.TotalPoints),
			Level:       reading.Level(cached.Level),
			PagesRead:   cached.PagesRead,
		})
	}

	return entries, nil
}

// GetRank returns the 1-based rank of a user in the cached ranking.
func (l *LeaderboardCache) GetRank(ctx context.Context, userID reading.UserID) (int, error) {
	member := strconv.FormatInt(int64(userID), 10)

	rank, err := l.cache.Client().ZRevRank(ctx, keyLeaderboardPoints, member).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrNotRanked
		}
		return 0, err
	}

	return int(rank) + 1, nil
}
