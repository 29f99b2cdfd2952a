package reading

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ДОСТИЖЕНИЯ
// ══════════════════════════════════════════════════════════════════════════════

// AchievementContext - счётчики после применения сессии, по которым
// проверяются правила достижений.
type AchievementContext struct {
	// PagesRead - всего прочитано страниц (после сессии).
	PagesRead int

	// CurrentStreak - серия дней (после обновления).
	CurrentStreak int

	// BooksCompleted - завершено книг (после сессии).
	BooksCompleted int

	// SessionPages - страниц в этой сессии.
	SessionPages int

	// SessionHour - час фиксации сессии (0-23, в поясе пользователя).
	SessionHour int
}

// Achievement - статическая запись каталога достижений.
type Achievement struct {
	// Key - уникальный ключ ("first_page", "daily_streak_7", ...).
	Key string

	// Name - отображаемое название.
	Name string

	// Description - описание условия.
	Description string

	// Points - очки за открытие.
	Points Points

	// Icon - эмодзи для уведомления.
	Icon string

	// Rule - правило открытия по счётчикам после сессии.
	Rule func(AchievementContext) bool
}

// UnlockedAchievement - факт открытия достижения пользователем.
// Уникально по паре (user, achievement).
type UnlockedAchievement struct {
	UserID         UserID
	AchievementKey string
	UnlockedAt     time.Time
}

// Catalogue возвращает полный каталог достижений. Порядок стабилен -
// от него зависит порядок проверки и уведомлений.
func Catalogue() []Achievement {
	return []Achievement{
		{
			Key: "first_page", Name: "First Steps", Icon: "🎯", Points: 10,
			Description: "Read your first page",
			Rule:        func(c AchievementContext) bool { return c.PagesRead >= 1 },
		},
		{
			Key: "page_10", Name: "Getting Started", Icon: "📖", Points: 50,
			Description: "Read 10 pages",
			Rule:        func(c AchievementContext) bool { return c.PagesRead >= 10 },
		},
		{
			Key: "page_50", Name: "Bookworm", Icon: "🐛", Points: 100,
			Description: "Read 50 pages",
			Rule:        func(c AchievementContext) bool { return c.PagesRead >= 50 },
		},
		{
			Key: "page_100", Name: "Dedicated Reader", Icon: "📚", Points: 200,
			Description: "Read 100 pages",
			Rule:        func(c AchievementContext) bool { return c.PagesRead >= 100 },
		},
		{
			Key: "page_500", Name: "Scholar", Icon: "🎓", Points: 500,
			Description: "Read 500 pages",
			Rule:        func(c AchievementContext) bool { return c.PagesRead >= 500 },
		},
		{
			Key: "daily_streak_7", Name: "Week Warrior", Icon: "🔥", Points: 150,
			Description: "Read for 7 days in a row",
			Rule:        func(c AchievementContext) bool { return c.CurrentStreak >= 7 },
		},
		{
			Key: "daily_streak_30", Name: "Monthly Master", Icon: "👑", Points: 1000,
			Description: "Read for 30 days in a row",
			Rule:        func(c AchievementContext) bool { return c.CurrentStreak >= 30 },
		},
		{
			Key: "book_complete", Name: "Book Finisher", Icon: "🏆", Points: 300,
			Description: "Complete your first book",
			Rule:        func(c AchievementContext) bool { return c.BooksCompleted >= 1 },
		},
		{
			Key: "speed_reader", Name: "Speed Reader", Icon: "⚡", Points: 100,
			Description: "Read 20 pages in one session",
			Rule:        func(c AchievementContext) bool { return c.SessionPages >= 20 },
		},
		{
			Key: "night_owl", Name: "Night Owl", Icon: "🦉", Points: 25,
			Description: "Read after 10 PM",
			Rule:        func(c AchievementContext) bool { return c.SessionHour >= 22 },
		},
	}
}

// AchievementByKey находит достижение в каталоге.
func AchievementByKey(key string) (Achievement, bool) {
	for _, a := range Catalogue() {
		if a.Key == key {
			return a, true
		}
	}
	return Achievement{}, false
}
