// Package postgres implements the PostgreSQL progress store for bookfeed.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// Store implements reading.ProgressStore for PostgreSQL. The gamifier is
// consulted inside the advance transaction so points and progress commit
// together or not at all.
type Store struct {
	conn     *Connection
	gamifier reading.Gamifier
	clock    reading.Clock
}

// NewStore creates a new Store.
func NewStore(conn *Connection, gamifier reading.Gamifier, clock reading.Clock) *Store {
	return &Store{conn: conn, gamifier: gamifier, clock: clock}
}

// ─────────────────────────────────────────────────────────────────────────────
// Settings serialization
// ─────────────────────────────────────────────────────────────────────────────

// settingsDoc is the JSONB shape of delivery settings.
type settingsDoc struct {
	PagesPerSend  int     `json:"pages_per_send"`
	Mode          string  `json:"mode"`
	ScheduleTime  string  `json:"schedule_time"`
	IntervalHours float64 `json:"interval_hours"`
	Quality       string  `json:"quality"`
	AutoSend      bool    `json:"auto_send"`
}

func settingsToDoc(s reading.DeliverySettings) settingsDoc {
	return settingsDoc{
		PagesPerSend:  s.PagesPerSend,
		Mode:          string(s.Mode),
		ScheduleTime:  s.ScheduleTime.String(),
		IntervalHours: s.IntervalHours,
		Quality:       string(s.Quality),
		AutoSend:      s.AutoSend,
	}
}

func docToSettings(d settingsDoc) (reading.DeliverySettings, error) {
	schedule, err := timeutil.ParseClockTime(d.ScheduleTime)
	if err != nil {
		return reading.DeliverySettings{}, fmt.Errorf("failed to parse schedule time: %w", err)
	}

	return reading.DeliverySettings{
		PagesPerSend:  d.PagesPerSend,
		Mode:          reading.DeliveryMode(d.Mode),
		ScheduleTime:  schedule,
		IntervalHours: d.IntervalHours,
		Quality:       reading.RenderQuality(d.Quality),
		AutoSend:      d.AutoSend,
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

const userColumns = `
	id, username, joined_at, active_document_id, settings,
	total_points, experience, pages_read, books_completed,
	current_streak, longest_streak, last_read_date,
	created_at, updated_at
`

// GetUser returns a user with their unlocked achievement keys loaded.
func (s *Store) GetUser(ctx context.Context, id reading.UserID) (*reading.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)

	user, err := s.scanUser(s.conn.QueryRow(ctx, query, int64(id)))
	if err != nil {
		return nil, err
	}

	keys, err := s.achievementKeys(ctx, s.conn, id)
	if err != nil {
		return nil, err
	}
	user.Gamification.UnlockedAchievements = keys

	return user, nil
}

// UpsertUser creates a user or refreshes the username of an existing one.
func (s *Store) UpsertUser(ctx context.Context, user *reading.User) error {
	query := `
		INSERT INTO users (id, username, joined_at, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			updated_at = EXCLUDED.updated_at
	`

	settingsJSON, err := json.Marshal(settingsToDoc(user.Settings))
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	now := s.clock.Now().UTC()
	_, err = s.conn.Exec(ctx, query,
		int64(user.ID),
		user.Username,
		user.JoinedAt,
		settingsJSON,
		now,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to upsert user: %v", reading.ErrStorage, err)
	}

	return nil
}

// ListActiveUsers returns users with an active book and auto delivery on.
// These are the users the delivery sweep visits.
func (s *Store) ListActiveUsers(ctx context.Context) ([]*reading.User, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM users
		WHERE active_document_id IS NOT NULL
		  AND (settings->>'auto_send')::boolean = TRUE
		ORDER BY id
	`, userColumns)

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list active users: %v", reading.ErrStorage, err)
	}
	defer rows.Close()

	var users []*reading.User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// UpdateSettings persists validated delivery settings.
func (s *Store) UpdateSettings(ctx context.Context, id reading.UserID, settings reading.DeliverySettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	settingsJSON, err := json.Marshal(settingsToDoc(settings))
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `UPDATE users SET settings = $1, updated_at = $2 WHERE id = $3`

	result, err := s.conn.Exec(ctx, query, settingsJSON, s.clock.Now().UTC(), int64(id))
	if err != nil {
		return fmt.Errorf("%w: failed to update settings: %v", reading.ErrStorage, err)
	}
	if result.RowsAffected() == 0 {
		return reading.ErrUserNotFound
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Documents
// ─────────────────────────────────────────────────────────────────────────────

// CreateDocument registers a document, makes it the owner's active book and
// resets progress to page 1, all in one transaction.
func (s *Store) CreateDocument(ctx context.Context, doc *reading.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	now := s.clock.Now().UTC()

	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		insertDoc := `
			INSERT INTO documents (id, owner_id, source_path, title, page_count, uploaded_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`
		_, err := tx.Exec(ctx, insertDoc,
			doc.ID.String(),
			int64(doc.OwnerID),
			doc.SourcePath,
			doc.Title,
			doc.PageCount,
			doc.UploadedAt,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return reading.ErrAlreadyExists
			}
			return fmt.Errorf("%w: failed to create document: %v", reading.ErrStorage, err)
		}

		setActive := `UPDATE users SET active_document_id = $1, updated_at = $2 WHERE id = $3`
		result, err := tx.Exec(ctx, setActive, doc.ID.String(), now, int64(doc.OwnerID))
		if err != nil {
			return fmt.Errorf("%w: failed to set active document: %v", reading.ErrStorage, err)
		}
		if result.RowsAffected() == 0 {
			return reading.ErrUserNotFound
		}

		// A fresh upload always starts from page 1.
		insertProgress := `
			INSERT INTO reading_progress (user_id, document_id, current_page, completed, updated_at)
			VALUES ($1, $2, 1, FALSE, $3)
			ON CONFLICT (user_id, document_id) DO UPDATE SET
				current_page = 1,
				completed = FALSE,
				last_sent_at = NULL,
				updated_at = EXCLUDED.updated_at
		`
		_, err = tx.Exec(ctx, insertProgress, int64(doc.OwnerID), doc.ID.String(), now)
		if err != nil {
			return fmt.Errorf("%w: failed to create progress: %v", reading.ErrStorage, err)
		}

		return nil
	})
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(ctx context.Context, id reading.DocumentID) (*reading.Document, error) {
	query := `
		SELECT id, owner_id, source_path, title, page_count, uploaded_at
		FROM documents
		WHERE id = $1
	`

	var (
		doc     reading.Document
		docID   string
		ownerID int64
	)
	err := s.conn.QueryRow(ctx, query, id.String()).Scan(
		&docID,
		&ownerID,
		&doc.SourcePath,
		&doc.Title,
		&doc.PageCount,
		&doc.UploadedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, reading.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: failed to get document: %v", reading.ErrStorage, err)
	}

	doc.ID = reading.DocumentID(docID)
	doc.OwnerID = reading.UserID(ownerID)
	return &doc, nil
}

// DeleteDocument removes a document and its progress rows. The session
// ledger is append-only and is never touched.
func (s *Store) DeleteDocument(ctx context.Context, id reading.DocumentID) error {
	return s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		clearActive := `
			UPDATE users SET active_document_id = NULL, updated_at = $1
			WHERE active_document_id = $2
		`
		if _, err := tx.Exec(ctx, clearActive, s.clock.Now().UTC(), id.String()); err != nil {
			return fmt.Errorf("%w: failed to clear active document: %v", reading.ErrStorage, err)
		}

		// Progress rows go with the document via ON DELETE CASCADE.
		result, err := tx.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id.String())
		if err != nil {
			return fmt.Errorf("%w: failed to delete document: %v", reading.ErrStorage, err)
		}
		if result.RowsAffected() == 0 {
			return reading.ErrDocumentNotFound
		}

		return nil
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the progress for a (user, document) pair, creating the
// page-1 record on first access.
func (s *Store) GetProgress(ctx context.Context, userID reading.UserID, docID reading.DocumentID) (*reading.Progress, error) {
	progress, err := s.queryProgress(ctx, s.conn, userID, docID)
	if err == nil {
		return progress, nil
	}
	if !IsNoRows(err) {
		return nil, fmt.Errorf("%w: failed to get progress: %v", reading.ErrStorage, err)
	}

	// First access: the document must exist before a default row appears.
	if _, err := s.GetDocument(ctx, docID); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	insert := `
		INSERT INTO reading_progress (user_id, document_id, current_page, completed, updated_at)
		VALUES ($1, $2, 1, FALSE, $3)
		ON CONFLICT (user_id, document_id) DO NOTHING
	`
	if _, err := s.conn.Exec(ctx, insert, int64(userID), docID.String(), now); err != nil {
		return nil, fmt.Errorf("%w: failed to create progress: %v", reading.ErrStorage, err)
	}

	// Re-read instead of assuming: a concurrent first access may have won.
	progress, err = s.queryProgress(ctx, s.conn, userID, docID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to re-read progress: %v", reading.ErrStorage, err)
	}
	return progress, nil
}

// CommitAdvance atomically commits a delivery advance: expected-page check,
// new position, exactly one ledger record and the gamification update run in
// a single transaction.
func (s *Store) CommitAdvance(ctx context.Context, adv reading.Advance) (*reading.AdvanceResult, error) {
	var result *reading.AdvanceResult

	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		doc, err := s.queryDocumentTx(ctx, tx, adv.DocumentID)
		if err != nil {
			return err
		}

		// Lock the user row: the gamification state must not move under us.
		user, err := s.queryUserForUpdate(ctx, tx, adv.UserID)
		if err != nil {
			return err
		}
		keys, err := s.achievementKeys(ctx, tx, adv.UserID)
		if err != nil {
			return err
		}
		user.Gamification.UnlockedAchievements = keys

		progress, err := s.queryProgressForUpdate(ctx, tx, adv.UserID, adv.DocumentID)
		if err != nil {
			return err
		}

		// Optimistic check: the caller rendered against ExpectedPage.
		if progress.CurrentPage != adv.ExpectedPage {
			return reading.ErrConcurrentModification
		}

		completed := adv.NewPage > doc.PageCount
		storedPage := adv.NewPage
		if storedPage > doc.PageCount {
			storedPage = doc.PageCount
		}

		session := &reading.ReadingSession{
			ID:            adv.SessionID,
			UserID:        adv.UserID,
			DocumentID:    adv.DocumentID,
			PagesRead:     adv.PagesSent,
			CompletedBook: completed,
			Timestamp:     adv.Timestamp,
		}
		if err := session.Validate(); err != nil {
			return err
		}

		deltas := s.gamifier.Apply(user, session)
		session.PointsEarned = deltas.PointsDelta

		insertSession := `
			INSERT INTO reading_sessions (id, user_id, document_id, pages_read, points_earned, completed_book, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`
		_, err = tx.Exec(ctx, insertSession,
			session.ID,
			int64(session.UserID),
			session.DocumentID.String(),
			session.PagesRead,
			int(session.PointsEarned),
			session.CompletedBook,
			session.Timestamp,
		)
		if err != nil {
			if IsUniqueViolation(err) {
				return reading.ErrSessionAlreadyRecorded
			}
			return fmt.Errorf("%w: failed to record session: %v", reading.ErrStorage, err)
		}

		now := s.clock.Now().UTC()

		booksDelta := 0
		if completed {
			booksDelta = 1
		}

		updateUser := `
			UPDATE users SET
				total_points = total_points + $1,
				experience = experience + $1,
				pages_read = pages_read + $2,
				books_completed = books_completed + $3,
				current_streak = $4,
				longest_streak = $5,
				last_read_date = $6,
				updated_at = $7
			WHERE id = $8
		`
		_, err = tx.Exec(ctx, updateUser,
			int(deltas.PointsDelta),
			adv.PagesSent,
			booksDelta,
			deltas.StreakAfter,
			deltas.LongestStreakAfter,
			deltas.LastReadDate,
			now,
			int64(adv.UserID),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to update gamification state: %v", reading.ErrStorage, err)
		}

		for _, key := range deltas.AchievementsUnlocked {
			insertAch := `
				INSERT INTO user_achievements (user_id, achievement_key, unlocked_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (user_id, achievement_key) DO NOTHING
			`
			if _, err := tx.Exec(ctx, insertAch, int64(adv.UserID), key, now); err != nil {
				return fmt.Errorf("%w: failed to unlock achievement %s: %v", reading.ErrStorage, key, err)
			}
		}

		updateProgress := `
			UPDATE reading_progress SET
				current_page = $1,
				completed = $2,
				last_sent_at = $3,
				updated_at = $4
			WHERE user_id = $5 AND document_id = $6
		`
		_, err = tx.Exec(ctx, updateProgress,
			storedPage,
			completed,
			adv.Timestamp,
			now,
			int64(adv.UserID),
			adv.DocumentID.String(),
		)
		if err != nil {
			return fmt.Errorf("%w: failed to update progress: %v", reading.ErrStorage, err)
		}

		// Assemble the post-commit view without re-reading.
		sentAt := adv.Timestamp
		progress.CurrentPage = storedPage
		progress.Completed = completed
		progress.LastSentAt = &sentAt
		progress.UpdatedAt = now

		user.Gamification.TotalPoints += deltas.PointsDelta
		user.Gamification.Experience += reading.Experience(deltas.PointsDelta)
		user.Gamification.PagesRead += adv.PagesSent
		user.Gamification.BooksCompleted += booksDelta
		user.Gamification.CurrentStreak = deltas.StreakAfter
		user.Gamification.LongestStreak = deltas.LongestStreakAfter
		user.Gamification.LastReadDate = deltas.LastReadDate
		user.Gamification.UnlockedAchievements = append(user.Gamification.UnlockedAchievements, deltas.AchievementsUnlocked...)
		user.UpdatedAt = now

		result = &reading.AdvanceResult{
			Progress:  progress,
			Session:   session,
			User:      user,
			Deltas:    deltas,
			Completed: completed,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SetPage is an explicit user jump. The range is validated against the
// document; no ledger record is written and no points are awarded.
func (s *Store) SetPage(ctx context.Context, userID reading.UserID, docID reading.DocumentID, page int) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}
	if !doc.ContainsPage(page) {
		return fmt.Errorf("%w: page %d of %d", reading.ErrPageOutOfRange, page, doc.PageCount)
	}

	now := s.clock.Now().UTC()
	query := `
		INSERT INTO reading_progress (user_id, document_id, current_page, completed, updated_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (user_id, document_id) DO UPDATE SET
			current_page = EXCLUDED.current_page,
			completed = FALSE,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.conn.Exec(ctx, query, int64(userID), docID.String(), page, now); err != nil {
		return fmt.Errorf("%w: failed to set page: %v", reading.ErrStorage, err)
	}

	return nil
}

// MarkCompleted flags the document as finished once the current page reached
// the last page. Idempotent; a no-op when the reader is not there yet.
func (s *Store) MarkCompleted(ctx context.Context, userID reading.UserID, docID reading.DocumentID) error {
	doc, err := s.GetDocument(ctx, docID)
	if err != nil {
		return err
	}

	query := `
		UPDATE reading_progress SET completed = TRUE, updated_at = $1
		WHERE user_id = $2 AND document_id = $3 AND current_page >= $4
	`
	if _, err := s.conn.Exec(ctx, query, s.clock.Now().UTC(), int64(userID), docID.String(), doc.PageCount); err != nil {
		return fmt.Errorf("%w: failed to mark completed: %v", reading.ErrStorage, err)
	}

	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Achievements
// ─────────────────────────────────────────────────────────────────────────────

// UnlockAchievement unlocks an achievement and awards its points. Returns
// false when it was already unlocked; points are never awarded twice.
func (s *Store) UnlockAchievement(ctx context.Context, userID reading.UserID, key string) (bool, error) {
	achievement, ok := reading.AchievementByKey(key)
	if !ok {
		return false, fmt.Errorf("%w: unknown achievement %q", reading.ErrValidation, key)
	}

	var unlocked bool
	err := s.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		now := s.clock.Now().UTC()

		insert := `
			INSERT INTO user_achievements (user_id, achievement_key, unlocked_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, achievement_key) DO NOTHING
		`
		result, err := tx.Exec(ctx, insert, int64(userID), key, now)
		if err != nil {
			return fmt.Errorf("%w: failed to unlock achievement: %v", reading.ErrStorage, err)
		}
		if result.RowsAffected() == 0 {
			return nil // already unlocked
		}
		unlocked = true

		award := `
			UPDATE users SET
				total_points = total_points + $1,
				experience = experience + $1,
				updated_at = $2
			WHERE id = $3
		`
		awardResult, err := tx.Exec(ctx, award, int(achievement.Points), now, int64(userID))
		if err != nil {
			return fmt.Errorf("%w: failed to award achievement points: %v", reading.ErrStorage, err)
		}
		if awardResult.RowsAffected() == 0 {
			return reading.ErrUserNotFound
		}

		return nil
	})
	if err != nil {
		return false, err
	}

	return unlocked, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Statistics
// ─────────────────────────────────────────────────────────────────────────────

// UserStats returns the aggregated view backing the /stats command.
func (s *Store) UserStats(ctx context.Context, id reading.UserID) (*reading.UserStats, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := &reading.UserStats{
		UserID:         user.ID,
		Username:       user.Username,
		TotalPoints:    user.Gamification.TotalPoints,
		Experience:     user.Gamification.Experience,
		Level:          user.Gamification.Level(),
		NextLevelExp:   reading.NextLevelExperience(user.Gamification.Experience),
		PagesRead:      user.Gamification.PagesRead,
		BooksCompleted: user.Gamification.BooksCompleted,
		CurrentStreak:  user.Gamification.CurrentStreak,
		LongestStreak:  user.Gamification.LongestStreak,
	}

	achQuery := `
		SELECT achievement_key, unlocked_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY unlocked_at
	`
	rows, err := s.conn.Query(ctx, achQuery, int64(id))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query achievements: %v", reading.ErrStorage, err)
	}
	defer rows.Close()

	for rows.Next() {
		unlocked := reading.UnlockedAchievement{UserID: id}
		if err := rows.Scan(&unlocked.AchievementKey, &unlocked.UnlockedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan achievement: %v", reading.ErrStorage, err)
		}
		stats.Achievements = append(stats.Achievements, unlocked)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to read achievements: %v", reading.ErrStorage, err)
	}

	// Position in the active book, if any.
	if user.HasActiveDocument() {
		posQuery := `
			SELECT p.current_page, d.page_count
			FROM reading_progress p
			JOIN documents d ON d.id = p.document_id
			WHERE p.user_id = $1 AND p.document_id = $2
		`
		err := s.conn.QueryRow(ctx, posQuery, int64(id), user.ActiveDocumentID.String()).
			Scan(&stats.CurrentPage, &stats.TotalPages)
		if err != nil && !IsNoRows(err) {
			return nil, fmt.Errorf("%w: failed to query position: %v", reading.ErrStorage, err)
		}
		if stats.TotalPages > 0 {
			stats.ProgressPct = float64(stats.CurrentPage) / float64(stats.TotalPages) * 100
		}
	}

	return stats, nil
}

// Leaderboard returns the top users by total points.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]reading.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, username, total_points, experience, pages_read
		FROM users
		ORDER BY total_points DESC, id
		LIMIT $1
	`

	rows, err := s.conn.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query leaderboard: %v", reading.ErrStorage, err)
	}
	defer rows.Close()

	var entries []reading.LeaderboardEntry
	rank := 0
	for rows.Next() {
		rank++

		var (
			userID     int64
			username   string
			points     int
			experience int
			pagesRead  int
		)
		if err := rows.Scan(&userID, &username, &points, &experience, &pagesRead); err != nil {
			return nil, fmt.Errorf("%w: failed to scan leaderboard row: %v", reading.ErrStorage, err)
		}

		entries = append(entries, reading.LeaderboardEntry{
			Rank:        rank,
			UserID:      reading.UserID(userID),
			Username:    username,
			TotalPoints: reading.Points(points),
			Level:       reading.LevelForExperience(reading.Experience(experience)),
			PagesRead:   pagesRead,
		})
	}

	return entries, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Scan helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Store) scanUser(row pgx.Row) (*reading.User, error) {
	var (
		user         reading.User
		userID       int64
		activeDocID  *string
		settingsJSON []byte
		points       int
		experience   int
	)

	err := row.Scan(
		&userID,
		&user.Username,
		&user.JoinedAt,
		&activeDocID,
		&settingsJSON,
		&points,
		&experience,
		&user.Gamification.PagesRead,
		&user.Gamification.BooksCompleted,
		&user.Gamification.CurrentStreak,
		&user.Gamification.LongestStreak,
		&user.Gamification.LastReadDate,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, reading.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: failed to scan user: %v", reading.ErrStorage, err)
	}

	user.ID = reading.UserID(userID)
	if activeDocID != nil {
		user.ActiveDocumentID = reading.DocumentID(*activeDocID)
	}
	user.Gamification.TotalPoints = reading.Points(points)
	user.Gamification.Experience = reading.Experience(experience)

	var doc settingsDoc
	if err := json.Unmarshal(settingsJSON, &doc); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal settings: %v", reading.ErrStorage, err)
	}
	settings, err := docToSettings(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", reading.ErrStorage, err)
	}
	user.Settings = settings

	return &user, nil
}

func (s *Store) achievementKeys(ctx context.Context, q Querier, id reading.UserID) ([]string, error) {
	query := `
		SELECT achievement_key FROM user_achievements
		WHERE user_id = $1
		ORDER BY unlocked_at
	`

	rows, err := q.Query(ctx, query, int64(id))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query achievement keys: %v", reading.ErrStorage, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("%w: failed to scan achievement key: %v", reading.ErrStorage, err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

func (s *Store) queryProgress(ctx context.Context, q Querier, userID reading.UserID, docID reading.DocumentID) (*reading.Progress, error) {
	query := `
		SELECT current_page, completed, last_sent_at, updated_at
		FROM reading_progress
		WHERE user_id = $1 AND document_id = $2
	`
	return scanProgress(q.QueryRow(ctx, query, int64(userID), docID.String()), userID, docID)
}

func (s *Store) queryProgressForUpdate(ctx context.Context, tx pgx.Tx, userID reading.UserID, docID reading.DocumentID) (*reading.Progress, error) {
	query := `
		SELECT current_page, completed, last_sent_at, updated_at
		FROM reading_progress
		WHERE user_id = $1 AND document_id = $2
		FOR UPDATE
	`
	progress, err := scanProgress(tx.QueryRow(ctx, query, int64(userID), docID.String()), userID, docID)
	if err != nil {
		if IsNoRows(err) {
			return nil, reading.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: failed to lock progress: %v", reading.ErrStorage, err)
	}
	return progress, nil
}

func (s *Store) queryUserForUpdate(ctx context.Context, tx pgx.Tx, id reading.UserID) (*reading.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 FOR UPDATE", userColumns)
	return s.scanUser(tx.QueryRow(ctx, query, int64(id)))
}

func (s *Store) queryDocumentTx(ctx context.Context, tx pgx.Tx, id reading.DocumentID) (*reading.Document, error) {
	query := `
		SELECT id, owner_id, source_path, title, page_count, uploaded_at
		FROM documents
		WHERE id = $1
	`

	var (
		doc     reading.Document
		docID   string
		ownerID int64
	)
	err := tx.QueryRow(ctx, query, id.String()).Scan(
		&docID,
		&ownerID,
		&doc.SourcePath,
		&doc.Title,
		&doc.PageCount,
		&doc.UploadedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, reading.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("%w: failed to get document: %v", reading.ErrStorage, err)
	}

	doc.ID = reading.DocumentID(docID)
	doc.OwnerID = reading.UserID(ownerID)
	return &doc, nil
}

func scanProgress(row pgx.Row, userID reading.UserID, docID reading.DocumentID) (*reading.Progress, error) {
	progress := &reading.Progress{UserID: userID, DocumentID: docID}

	var lastSentAt *time.Time
	err := row.Scan(
		&progress.CurrentPage,
		&progress.Completed,
		&lastSentAt,
		&progress.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	progress.LastSentAt = lastSentAt
	return progress, nil
}
