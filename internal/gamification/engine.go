// Package gamification derives point, level, streak and achievement changes
// from committed reading sessions. The engine is pure computation: it never
// touches storage, so the store can run it inside the commit transaction and
// the result is reproducible for any (user, session) pair.
package gamification

import (
	"time"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// Scoring constants, matching the original bot economy.
const (
	// PointsPerPage is awarded for every page delivered.
	PointsPerPage = 5

	// CompletionBonus is awarded once when a session finishes a book.
	CompletionBonus = 300
)

// Engine computes gamification deltas for committed advances.
type Engine struct {
	catalogue []reading.Achievement
	loc       *time.Location
}

// New creates an Engine. Day boundaries for streaks and the night-owl rule
// are evaluated in loc.
func New(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		catalogue: reading.Catalogue(),
		loc:       loc,
	}
}

// Apply computes the deltas for one session against the user's current
// state. It does not mutate the user. The caller (ProgressStore) persists
// the result atomically with the session itself; invoking Apply twice for
// the same session against the same prior state yields identical deltas,
// and the store's session-id dedup prevents double-award on retries.
func (e *Engine) Apply(user *reading.User, session *reading.ReadingSession) reading.Deltas {
	g := user.Gamification

	// Streak: same day - unchanged; consecutive day - extended; else reset.
	today := timeutil.DateString(session.Timestamp, e.loc)
	yesterday := timeutil.DateString(session.Timestamp.AddDate(0, 0, -1), e.loc)

	streak := g.CurrentStreak
	switch g.LastReadDate {
	case today:
		// Already counted for today.
	case yesterday:
		streak++
	default:
		streak = 1
	}

	longest := g.LongestStreak
	if streak > longest {
		longest = streak
	}

	points := reading.Points(session.PagesRead * PointsPerPage)
	if session.CompletedBook {
		points += CompletionBonus
	}

	booksCompleted := g.BooksCompleted
	if session.CompletedBook {
		booksCompleted++
	}

	achCtx := reading.AchievementContext{
		PagesRead:      g.PagesRead + session.PagesRead,
		CurrentStreak:  streak,
		BooksCompleted: booksCompleted,
		SessionPages:   session.PagesRead,
		SessionHour:    timeutil.HourIn(session.Timestamp, e.loc),
	}

	var unlocked []string
	for _, a := range e.catalogue {
		if g.HasAchievement(a.Key) {
			continue
		}
		if a.Rule(achCtx) {
			unlocked = append(unlocked, a.Key)
			points += a.Points
		}
	}

	expBefore := g.Experience
	expAfter := expBefore + reading.Experience(points)

	return reading.Deltas{
		PointsDelta:          points,
		LevelBefore:          reading.LevelForExperience(expBefore),
		LevelAfter:           reading.LevelForExperience(expAfter),
		StreakAfter:          streak,
		LongestStreakAfter:   longest,
		LastReadDate:         today,
		CompletionBonus:      session.CompletedBook,
		AchievementsUnlocked: unlocked,
	}
}
