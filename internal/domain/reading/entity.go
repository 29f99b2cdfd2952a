// Package reading содержит доменную модель читательского прогресса bookfeed.
// Это ядро бизнес-логики - здесь нет внешних зависимостей.
package reading

import (
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// UserID представляет числовой идентификатор пользователя.
// Аутентификация выполняется транспортом (Telegram), ядро получает уже
// проверенный ID.
type UserID int64

// IsValid проверяет, что UserID положительный.
func (u UserID) IsValid() bool {
	return u > 0
}

// DocumentID представляет уникальный идентификатор документа (UUID).
type DocumentID string

// IsValid проверяет, что ID не пустой.
func (d DocumentID) IsValid() bool {
	return len(d) > 0
}

// String возвращает строковое представление ID.
func (d DocumentID) String() string {
	return string(d)
}

// Points представляет игровые очки пользователя.
type Points int

// IsValid проверяет, что очки неотрицательные.
func (p Points) IsValid() bool {
	return p >= 0
}

// Experience представляет накопленный опыт. Опыт растёт вместе с очками
// и никогда не убывает.
type Experience int

// Level представляет уровень пользователя, вычисляемый из опыта.
type Level int

// LevelForExperience вычисляет уровень по накопленному опыту.
// Формула: каждые 100 очков опыта = +1 уровень, старт с уровня 1.
// Уровень нигде не хранится как независимое поле - всегда пересчитывается.
func LevelForExperience(exp Experience) Level {
	if exp < 0 {
		return 1
	}
	return Level(int(exp)/100 + 1)
}

// NextLevelExperience возвращает, сколько опыта не хватает до следующего уровня.
func NextLevelExperience(exp Experience) Experience {
	level := LevelForExperience(exp)
	return Experience(int(level)*100) - exp
}

// ══════════════════════════════════════════════════════════════════════════════
// ГЕЙМИФИКАЦИОННАЯ СВОДКА
// ══════════════════════════════════════════════════════════════════════════════

// GamificationSummary - агрегированное игровое состояние пользователя.
// Инвариант: Level == LevelForExperience(Experience).
type GamificationSummary struct {
	// TotalPoints - суммарные очки (чтение + бонусы + достижения).
	TotalPoints Points

	// Experience - накопленный опыт.
	Experience Experience

	// PagesRead - всего прочитано страниц.
	PagesRead int

	// BooksCompleted - всего завершено книг.
	BooksCompleted int

	// CurrentStreak - текущая серия дней чтения подряд.
	CurrentStreak int

	// LongestStreak - лучшая серия за всё время.
	LongestStreak int

	// LastReadDate - дата последнего чтения в формате YYYY-MM-DD
	// (в часовом поясе пользователя). Пустая строка - ещё не читал.
	LastReadDate string

	// UnlockedAchievements - ключи уже открытых достижений.
	// Хранилище заполняет список при загрузке пользователя, чтобы
	// геймификация не предлагала повторных открытий.
	UnlockedAchievements []string
}

// HasAchievement проверяет, открыто ли достижение.
func (g GamificationSummary) HasAchievement(key string) bool {
	for _, k := range g.UnlockedAchievements {
		if k == key {
			return true
		}
	}
	return false
}

// Level возвращает уровень, вычисленный из опыта.
func (g GamificationSummary) Level() Level {
	return LevelForExperience(g.Experience)
}

// ══════════════════════════════════════════════════════════════════════════════
// ПОЛЬЗОВАТЕЛЬ
// ══════════════════════════════════════════════════════════════════════════════

// User - читатель, получающий страницы по расписанию.
type User struct {
	// ID - идентификатор пользователя (Telegram chat ID).
	ID UserID

	// Username - отображаемое имя (может быть пустым).
	Username string

	// JoinedAt - время первого взаимодействия.
	JoinedAt time.Time

	// ActiveDocumentID - текущая книга пользователя.
	// Пустой ID означает, что книга не загружена.
	ActiveDocumentID DocumentID

	// Settings - настройки доставки.
	Settings DeliverySettings

	// Gamification - игровое состояние.
	Gamification GamificationSummary

	// CreatedAt/UpdatedAt - служебные отметки времени.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasActiveDocument сообщает, есть ли у пользователя загруженная книга.
func (u *User) HasActiveDocument() bool {
	return u.ActiveDocumentID.IsValid()
}

// NewUser создаёт пользователя с настройками по умолчанию.
func NewUser(id UserID, username string, now time.Time) *User {
	return &User{
		ID:        id,
		Username:  username,
		JoinedAt:  now,
		Settings:  DefaultDeliverySettings(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
