package reading

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ПРОГРЕСС ЧТЕНИЯ
// ══════════════════════════════════════════════════════════════════════════════

// Progress - позиция пользователя в конкретном документе.
// Инвариант: 1 <= CurrentPage <= PageCount документа. Страница монотонно
// не убывает, кроме явного прыжка пользователя (SetPage).
type Progress struct {
	// UserID - читатель.
	UserID UserID

	// DocumentID - документ.
	DocumentID DocumentID

	// CurrentPage - следующая страница к отправке.
	CurrentPage int

	// Completed - документ дочитан до конца.
	Completed bool

	// LastSentAt - время последней отправки страниц (nil - ещё не было).
	LastSentAt *time.Time

	// UpdatedAt - время последнего изменения.
	UpdatedAt time.Time
}

// NewProgress создаёт прогресс с начальной позиции.
func NewProgress(userID UserID, docID DocumentID, now time.Time) *Progress {
	return &Progress{
		UserID:      userID,
		DocumentID:  docID,
		CurrentPage: 1,
		UpdatedAt:   now,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// СЕССИЯ ЧТЕНИЯ (запись журнала)
// ══════════════════════════════════════════════════════════════════════════════

// ReadingSession - неизменяемая запись журнала о зафиксированном продвижении.
// Журнал только дописывается; одна фиксация = ровно одна запись. По ID сессии
// геймификация гарантирует идемпотентность начислений.
type ReadingSession struct {
	// ID - уникальный идентификатор сессии (UUID, создаётся вызывающим).
	ID string

	// UserID - читатель.
	UserID UserID

	// DocumentID - документ.
	DocumentID DocumentID

	// PagesRead - сколько страниц отправлено в этой сессии.
	PagesRead int

	// PointsEarned - очки, начисленные за сессию (заполняется при фиксации).
	PointsEarned Points

	// CompletedBook - эта сессия дочитала книгу до конца.
	CompletedBook bool

	// Timestamp - момент фиксации.
	Timestamp time.Time
}

// Validate проверяет корректность сессии перед фиксацией.
func (s *ReadingSession) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}
	if !s.UserID.IsValid() {
		return fmt.Errorf("%w: invalid user id %d", ErrInvalidSession, s.UserID)
	}
	if !s.DocumentID.IsValid() {
		return fmt.Errorf("%w: empty document id", ErrInvalidSession)
	}
	if s.PagesRead < 1 {
		return fmt.Errorf("%w: pages read must be >= 1, got %d", ErrInvalidSession, s.PagesRead)
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ФИКСАЦИЯ ПРОДВИЖЕНИЯ
// ══════════════════════════════════════════════════════════════════════════════

// Advance - запрос на фиксацию продвижения по документу.
type Advance struct {
	// UserID и DocumentID задают прогресс.
	UserID     UserID
	DocumentID DocumentID

	// ExpectedPage - страница, которую вызывающий прочитал перед рендерингом.
	// Если к моменту фиксации текущая страница иная, фиксация отклоняется
	// с ErrConcurrentModification.
	ExpectedPage int

	// NewPage - новая текущая страница (первая неотправленная).
	NewPage int

	// PagesSent - сколько страниц фактически отправлено.
	PagesSent int

	// SessionID - идентификатор сессии журнала (UUID).
	SessionID string

	// Timestamp - момент фиксации.
	Timestamp time.Time
}

// Deltas - результат работы геймификации для одной сессии.
type Deltas struct {
	// PointsDelta - начислено очков всего (чтение + бонусы + достижения).
	PointsDelta Points

	// LevelBefore/LevelAfter - уровень до и после начисления.
	LevelBefore Level
	LevelAfter  Level

	// StreakAfter - серия после обновления.
	StreakAfter int

	// LongestStreakAfter - лучшая серия после обновления.
	LongestStreakAfter int

	// LastReadDate - новая дата последнего чтения (YYYY-MM-DD).
	LastReadDate string

	// CompletionBonus - начислен бонус за завершение книги.
	CompletionBonus bool

	// AchievementsUnlocked - ключи достижений, открытых этой сессией.
	AchievementsUnlocked []string
}

// LevelChanged сообщает, изменился ли уровень.
func (d Deltas) LevelChanged() bool {
	return d.LevelAfter != d.LevelBefore
}

// AdvanceResult - итог успешной фиксации.
type AdvanceResult struct {
	// Progress - обновлённый прогресс.
	Progress *Progress

	// Session - записанная сессия журнала.
	Session *ReadingSession

	// User - пользователь после применения геймификации.
	User *User

	// Deltas - применённые игровые изменения.
	Deltas Deltas

	// Completed - документ помечен завершённым этой фиксацией.
	Completed bool
}
