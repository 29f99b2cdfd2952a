package reading

import (
	"context"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ИНТЕРФЕЙСЫ ХРАНИЛИЩА
// ══════════════════════════════════════════════════════════════════════════════

// ProgressStore - единственная точка мутации долговременного состояния.
// Все операции атомарны относительно конкурентных вызовов по тому же
// пользователю/документу; запись долговечна к моменту возврата.
type ProgressStore interface {
	// ── Пользователи ────────────────────────────────────────────────────────

	// GetUser возвращает пользователя или ErrUserNotFound.
	GetUser(ctx context.Context, id UserID) (*User, error)

	// UpsertUser создаёт пользователя или обновляет имя существующего.
	UpsertUser(ctx context.Context, user *User) error

	// ListActiveUsers возвращает пользователей с загруженной книгой и
	// включённой автодоставкой. Именно их обходит диспетчер.
	ListActiveUsers(ctx context.Context) ([]*User, error)

	// UpdateSettings сохраняет проверенные настройки доставки.
	UpdateSettings(ctx context.Context, id UserID, settings DeliverySettings) error

	// ── Документы ───────────────────────────────────────────────────────────

	// CreateDocument регистрирует документ и делает его активным для
	// владельца. Прогресс создаётся заново со страницы 1.
	CreateDocument(ctx context.Context, doc *Document) error

	// GetDocument возвращает документ или ErrDocumentNotFound.
	GetDocument(ctx context.Context, id DocumentID) (*Document, error)

	// DeleteDocument удаляет документ и его прогресс. Журнал сессий
	// не трогается - он только дописывается.
	DeleteDocument(ctx context.Context, id DocumentID) error

	// ── Прогресс ────────────────────────────────────────────────────────────

	// GetProgress возвращает прогресс пары (user, document), создавая
	// запись со страницей 1 при первом обращении.
	GetProgress(ctx context.Context, userID UserID, docID DocumentID) (*Progress, error)

	// CommitAdvance атомарно фиксирует продвижение: проверка ожидаемой
	// страницы, запись новой позиции, ровно одна запись журнала и
	// применение геймификации - всё в одной транзакции.
	// Возвращает ErrConcurrentModification при несовпадении ожидаемой
	// страницы и ErrSessionAlreadyRecorded при повторе SessionID.
	CommitAdvance(ctx context.Context, adv Advance) (*AdvanceResult, error)

	// SetPage - явный прыжок пользователя. Монотонность не требуется,
	// диапазон проверяется. Запись журнала не создаётся (без очков).
	SetPage(ctx context.Context, userID UserID, docID DocumentID, page int) error

	// MarkCompleted помечает документ завершённым, когда текущая страница
	// равна последней. Идемпотентна.
	MarkCompleted(ctx context.Context, userID UserID, docID DocumentID) error

	// UnlockAchievement открывает достижение. Возвращает false, если оно
	// уже было открыто (очки не начисляются повторно).
	UnlockAchievement(ctx context.Context, userID UserID, key string) (bool, error)

	// ── Статистика ──────────────────────────────────────────────────────────

	// UserStats возвращает сводку пользователя для команды /stats.
	UserStats(ctx context.Context, id UserID) (*UserStats, error)

	// Leaderboard возвращает топ пользователей по суммарным очкам.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
}

// Gamifier вычисляет игровые изменения для зафиксированной сессии.
// Чистая функция состояния пользователя: хранилище вызывает её внутри
// транзакции фиксации.
type Gamifier interface {
	Apply(user *User, session *ReadingSession) Deltas
}

// ══════════════════════════════════════════════════════════════════════════════
// СТАТИСТИКА
// ══════════════════════════════════════════════════════════════════════════════

// UserStats - сводка прогресса и игрового состояния пользователя.
type UserStats struct {
	UserID         UserID
	Username       string
	TotalPoints    Points
	Experience     Experience
	Level          Level
	NextLevelExp   Experience
	PagesRead      int
	BooksCompleted int
	CurrentStreak  int
	LongestStreak  int
	CurrentPage    int
	TotalPages     int
	ProgressPct    float64
	Achievements   []UnlockedAchievement
}

// LeaderboardEntry - строка таблицы лидеров.
type LeaderboardEntry struct {
	Rank        int
	UserID      UserID
	Username    string
	TotalPoints Points
	Level       Level
	PagesRead   int
}

// Clock - источник времени ядра. Абстрагирован для тестов.
type Clock interface {
	Now() time.Time
}
