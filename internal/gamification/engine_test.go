package gamification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

func newUser(g reading.GamificationSummary) *reading.User {
	return &reading.User{
		ID:           42,
		Username:     "reader",
		Gamification: g,
	}
}

func newSession(pages int, ts time.Time) *reading.ReadingSession {
	return &reading.ReadingSession{
		ID:         "11111111-1111-1111-1111-111111111111",
		UserID:     42,
		DocumentID: "doc-1",
		PagesRead:  pages,
		Timestamp:  ts,
	}
}

// Noon keeps the night-owl rule out of tests that are not about it.
var noon = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestApply_PointsPerPage(t *testing.T) {
	e := New(time.UTC)

	// Enough history that no threshold achievements fire.
	user := newUser(reading.GamificationSummary{
		PagesRead:    600,
		LastReadDate: "2025-03-10",
		CurrentStreak: 3,
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	d := e.Apply(user, newSession(3, noon))
	assert.Equal(t, reading.Points(15), d.PointsDelta)
	assert.False(t, d.CompletionBonus)
	assert.Empty(t, d.AchievementsUnlocked)
}

func TestApply_CompletionBonus(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		PagesRead:    600,
		LastReadDate: "2025-03-10",
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	s := newSession(2, noon)
	s.CompletedBook = true

	d := e.Apply(user, s)
	assert.True(t, d.CompletionBonus)
	// 2 pages * 5 + 300 bonus + 300 book_complete achievement.
	assert.Equal(t, reading.Points(2*5+300+300), d.PointsDelta)
	assert.Contains(t, d.AchievementsUnlocked, "book_complete")
}

func TestApply_StreakRules(t *testing.T) {
	e := New(time.UTC)

	tests := []struct {
		name         string
		lastReadDate string
		streakBefore int
		wantStreak   int
	}{
		{"consecutive day extends", "2025-03-09", 4, 5},
		{"same day unchanged", "2025-03-10", 4, 4},
		{"gap resets", "2025-03-07", 4, 1},
		{"first ever read", "", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := newUser(reading.GamificationSummary{
				PagesRead:     600,
				CurrentStreak: tt.streakBefore,
				LongestStreak: 6,
				LastReadDate:  tt.lastReadDate,
				UnlockedAchievements: []string{
					"first_page", "page_10", "page_50", "page_100", "page_500",
				},
			})

			d := e.Apply(user, newSession(1, noon))
			assert.Equal(t, tt.wantStreak, d.StreakAfter)
			assert.Equal(t, "2025-03-10", d.LastReadDate)
		})
	}
}

func TestApply_LongestStreakTracksCurrent(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		PagesRead:     600,
		CurrentStreak: 6,
		LongestStreak: 6,
		LastReadDate:  "2025-03-09",
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	d := e.Apply(user, newSession(1, noon))
	assert.Equal(t, 7, d.StreakAfter)
	assert.Equal(t, 7, d.LongestStreakAfter)
	assert.Contains(t, d.AchievementsUnlocked, "daily_streak_7")
}

func TestApply_LevelRecomputedFromExperience(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		Experience:   95,
		PagesRead:    600,
		LastReadDate: "2025-03-10",
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	// 3 pages * 5 = 15 points: 95 -> 110 experience crosses a level boundary.
	d := e.Apply(user, newSession(3, noon))
	assert.Equal(t, reading.Level(1), d.LevelBefore)
	assert.Equal(t, reading.Level(2), d.LevelAfter)
	assert.True(t, d.LevelChanged())
}

func TestApply_FirstPageAchievement(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{})

	d := e.Apply(user, newSession(1, noon))
	assert.Contains(t, d.AchievementsUnlocked, "first_page")
	// 5 reading points + 10 achievement points.
	assert.Equal(t, reading.Points(15), d.PointsDelta)
}

func TestApply_UnlockedAchievementsNotRepeated(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		PagesRead:            5,
		LastReadDate:         "2025-03-10",
		UnlockedAchievements: []string{"first_page"},
	})

	d := e.Apply(user, newSession(2, noon))
	assert.NotContains(t, d.AchievementsUnlocked, "first_page")
}

func TestApply_SpeedReaderAndNightOwl(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		PagesRead:    600,
		LastReadDate: "2025-03-10",
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	late := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	d := e.Apply(user, newSession(20, late))

	assert.Contains(t, d.AchievementsUnlocked, "speed_reader")
	assert.Contains(t, d.AchievementsUnlocked, "night_owl")
}

func TestApply_NightOwlRespectsLocation(t *testing.T) {
	almaty := time.FixedZone("Asia/Almaty", 5*60*60)
	e := New(almaty)

	user := newUser(reading.GamificationSummary{
		PagesRead:    600,
		LastReadDate: "2025-03-10",
		UnlockedAchievements: []string{
			"first_page", "page_10", "page_50", "page_100", "page_500",
		},
	})

	// 18:00 UTC is 23:00 in Almaty.
	evening := time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC)
	d := e.Apply(user, newSession(1, evening))
	assert.Contains(t, d.AchievementsUnlocked, "night_owl")
}

func TestApply_IsPureAndDeterministic(t *testing.T) {
	e := New(time.UTC)
	user := newUser(reading.GamificationSummary{
		PagesRead:     9,
		CurrentStreak: 2,
		LastReadDate:  "2025-03-09",
		UnlockedAchievements: []string{"first_page"},
	})
	before := *user

	s := newSession(1, noon)
	d1 := e.Apply(user, s)
	d2 := e.Apply(user, s)

	require.Equal(t, d1, d2)
	assert.Equal(t, before.Gamification, user.Gamification, "Apply must not mutate the user")
	assert.Contains(t, d1.AchievementsUnlocked, "page_10")
}
