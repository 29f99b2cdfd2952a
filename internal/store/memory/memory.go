// Package memory provides an in-memory ProgressStore. It honors the same
// commit semantics as the PostgreSQL store (optimistic page check, one
// ledger record per session, in-commit gamification) and backs local
// development and the delivery tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// Store is a mutex-guarded in-memory implementation of reading.ProgressStore.
type Store struct {
	mu sync.Mutex

	gamifier reading.Gamifier
	clock    reading.Clock

	users        map[reading.UserID]*reading.User
	documents    map[reading.DocumentID]*reading.Document
	progress     map[progressKey]*reading.Progress
	sessions     map[string]*reading.ReadingSession
	achievements map[reading.UserID]map[string]time.Time
}

type progressKey struct {
	userID reading.UserID
	docID  reading.DocumentID
}

// NewStore creates an empty in-memory store.
func NewStore(gamifier reading.Gamifier, clock reading.Clock) *Store {
	return &Store{
		gamifier:     gamifier,
		clock:        clock,
		users:        make(map[reading.UserID]*reading.User),
		documents:    make(map[reading.DocumentID]*reading.Document),
		progress:     make(map[progressKey]*reading.Progress),
		sessions:     make(map[string]*reading.ReadingSession),
		achievements: make(map[reading.UserID]map[string]time.Time),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Users
// ─────────────────────────────────────────────────────────────────────────────

// GetUser returns a copy of the user with unlocked achievements loaded.
func (s *Store) GetUser(ctx context.Context, id reading.UserID) (*reading.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getUserLocked(id)
}

// UpsertUser creates a user or refreshes the username of an existing one.
func (s *Store) UpsertUser(ctx context.Context, user *reading.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if existing, ok := s.users[user.ID]; ok {
		existing.Username = user.Username
		existing.UpdatedAt = now
		return nil
	}

	copied := *user
	copied.CreatedAt = now
	copied.UpdatedAt = now
	s.users[user.ID] = &copied
	return nil
}

// ListActiveUsers returns users with an active book and auto delivery on.
func (s *Store) ListActiveUsers(ctx context.Context) ([]*reading.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*reading.User
	for _, u := range s.users {
		if u.HasActiveDocument() && u.Settings.AutoSend {
			copied := *u
			users = append(users, &copied)
		}
	}

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// UpdateSettings persists validated delivery settings.
func (s *Store) UpdateSettings(ctx context.Context, id reading.UserID, settings reading.DeliverySettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return reading.ErrUserNotFound
	}
	user.Settings = settings
	user.UpdatedAt = s.clock.Now()
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Documents
// ─────────────────────────────────────────────────────────────────────────────

// CreateDocument registers a document, activates it for the owner and resets
// progress to page 1.
func (s *Store) CreateDocument(ctx context.Context, doc *reading.Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.documents[doc.ID]; exists {
		return reading.ErrAlreadyExists
	}
	owner, ok := s.users[doc.OwnerID]
	if !ok {
		return reading.ErrUserNotFound
	}

	copied := *doc
	s.documents[doc.ID] = &copied

	now := s.clock.Now()
	owner.ActiveDocumentID = doc.ID
	owner.UpdatedAt = now
	s.progress[progressKey{doc.OwnerID, doc.ID}] = reading.NewProgress(doc.OwnerID, doc.ID, now)
	return nil
}

// GetDocument returns a document by ID.
func (s *Store) GetDocument(ctx context.Context, id reading.DocumentID) (*reading.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, reading.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

// DeleteDocument removes a document and its progress rows. Session records
// stay: the ledger is append-only.
func (s *Store) DeleteDocument(ctx context.Context, id reading.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[id]; !ok {
		return reading.ErrDocumentNotFound
	}
	delete(s.documents, id)

	for key := range s.progress {
		if key.docID == id {
			delete(s.progress, key)
		}
	}
	for _, u := range s.users {
		if u.ActiveDocumentID == id {
			u.ActiveDocumentID = ""
			u.UpdatedAt = s.clock.Now()
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Progress
// ─────────────────────────────────────────────────────────────────────────────

// GetProgress returns the progress for a (user, document) pair, creating the
// page-1 record on first access.
func (s *Store) GetProgress(ctx context.Context, userID reading.UserID, docID reading.DocumentID) (*reading.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := progressKey{userID, docID}
	if p, ok := s.progress[key]; ok {
		copied := *p
		return &copied, nil
	}

	if _, ok := s.documents[docID]; !ok {
		return nil, reading.ErrDocumentNotFound
	}

	p := reading.NewProgress(userID, docID, s.clock.Now())
	s.progress[key] = p
	copied := *p
	return &copied, nil
}

// CommitAdvance atomically commits a delivery advance under the store mutex.
func (s *Store) CommitAdvance(ctx context.Context, adv reading.Advance) (*reading.AdvanceResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[adv.DocumentID]
	if !ok {
		return nil, reading.ErrDocumentNotFound
	}
	user, err := s.getUserLocked(adv.UserID)
	if err != nil {
		return nil, err
	}
	progress, ok := s.progress[progressKey{adv.UserID, adv.DocumentID}]
	if !ok {
		return nil, reading.ErrDocumentNotFound
	}

	if _, dup := s.sessions[adv.SessionID]; dup {
		return nil, reading.ErrSessionAlreadyRecorded
	}
	if progress.CurrentPage != adv.ExpectedPage {
		return nil, reading.ErrConcurrentModification
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
		return nil, err
	}

	deltas := s.gamifier.Apply(user, session)
	session.PointsEarned = deltas.PointsDelta
	s.sessions[session.ID] = session

	now := s.clock.Now()
	sentAt := adv.Timestamp

	progress.CurrentPage = storedPage
	progress.Completed = completed
	progress.LastSentAt = &sentAt
	progress.UpdatedAt = now

	stored := s.users[adv.UserID]
	stored.Gamification.TotalPoints += deltas.PointsDelta
	stored.Gamification.Experience += reading.Experience(deltas.PointsDelta)
	stored.Gamification.PagesRead += adv.PagesSent
	if completed {
		stored.Gamification.BooksCompleted++
	}
	stored.Gamification.CurrentStreak = deltas.StreakAfter
	stored.Gamification.LongestStreak = deltas.LongestStreakAfter
	stored.Gamification.LastReadDate = deltas.LastReadDate
	stored.UpdatedAt = now

	unlocked := s.achievements[adv.UserID]
	if unlocked == nil {
		unlocked = make(map[string]time.Time)
		s.achievements[adv.UserID] = unlocked
	}
	for _, key := range deltas.AchievementsUnlocked {
		if _, has := unlocked[key]; !has {
			unlocked[key] = now
		}
	}

	result, err := s.getUserLocked(adv.UserID)
	if err != nil {
		return nil, err
	}
	progressCopy := *progress

	return &reading.AdvanceResult{
		Progress:  &progressCopy,
		Session:   session,
		User:      result,
		Deltas:    deltas,
		Completed: completed,
	}, nil
}

// SetPage is an explicit user jump; no ledger record, no points.
func (s *Store) SetPage(ctx context.Context, userID reading.UserID, docID reading.DocumentID, page int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[docID]
	if !ok {
		return reading.ErrDocumentNotFound
	}
	if !doc.ContainsPage(page) {
		return fmt.Errorf("%w: page %d of %d", reading.ErrPageOutOfRange, page, doc.PageCount)
	}

	now := s.clock.Now()
	key := progressKey{userID, docID}
	p, ok := s.progress[key]
	if !ok {
		p = reading.NewProgress(userID, docID, now)
		s.progress[key] = p
	}
	p.CurrentPage = page
	p.Completed = false
	p.UpdatedAt = now
	return nil
}

// MarkCompleted flags the document as finished once the reader is on the
// last page. Idempotent.
func (s *Store) MarkCompleted(ctx context.Context, userID reading.UserID, docID reading.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[docID]
	if !ok {
		return reading.ErrDocumentNotFound
	}
	p, ok := s.progress[progressKey{userID, docID}]
	if !ok {
		return nil
	}
	if p.CurrentPage >= doc.PageCount {
		p.Completed = true
		p.UpdatedAt = s.clock.Now()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Achievements and statistics
// ─────────────────────────────────────────────────────────────────────────────

// UnlockAchievement unlocks an achievement and awards its points once.
func (s *Store) UnlockAchievement(ctx context.Context, userID reading.UserID, key string) (bool, error) {
	achievement, ok := reading.AchievementByKey(key)
	if !ok {
		return false, fmt.Errorf("%w: unknown achievement %q", reading.ErrValidation, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return false, reading.ErrUserNotFound
	}

	unlocked := s.achievements[userID]
	if unlocked == nil {
		unlocked = make(map[string]time.Time)
		s.achievements[userID] = unlocked
	}
	if _, has := unlocked[key]; has {
		return false, nil
	}

	now := s.clock.Now()
	unlocked[key] = now
	user.Gamification.TotalPoints += achievement.Points
	user.Gamification.Experience += reading.Experience(achievement.Points)
	user.UpdatedAt = now
	return true, nil
}

// UserStats returns the aggregated view backing the /stats command.
func (s *Store) UserStats(ctx context.Context, id reading.UserID) (*reading.UserStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.getUserLocked(id)
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

	for key, at := range s.achievements[id] {
		stats.Achievements = append(stats.Achievements, reading.UnlockedAchievement{
			UserID:         id,
			AchievementKey: key,
			UnlockedAt:     at,
		})
	}
	sort.Slice(stats.Achievements, func(i, j int) bool {
		return stats.Achievements[i].UnlockedAt.Before(stats.Achievements[j].UnlockedAt)
	})

	if user.HasActiveDocument() {
		if doc, ok := s.documents[user.ActiveDocumentID]; ok {
			if p, ok := s.progress[progressKey{id, doc.ID}]; ok {
				stats.CurrentPage = p.CurrentPage
				stats.TotalPages = doc.PageCount
				stats.ProgressPct = float64(p.CurrentPage) / float64(doc.PageCount) * 100
			}
		}
	}

	return stats, nil
}

// Leaderboard returns the top users by total points.
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]reading.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]*reading.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Gamification.TotalPoints != users[j].Gamification.TotalPoints {
			return users[i].Gamification.TotalPoints > users[j].Gamification.TotalPoints
		}
		return users[i].ID < users[j].ID
	})

	var entries []reading.LeaderboardEntry
	for i, u := range users {
		if i >= limit {
			break
		}
		entries = append(entries, reading.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      u.ID,
			Username:    u.Username,
			TotalPoints: u.Gamification.TotalPoints,
			Level:       u.Gamification.Level(),
			PagesRead:   u.Gamification.PagesRead,
		})
	}
	return entries, nil
}

// SessionCount reports the number of ledger records. Test helper.
func (s *Store) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// getUserLocked returns a defensive copy with achievements. Caller holds mu.
func (s *Store) getUserLocked(id reading.UserID) (*reading.User, error) {
	user, ok := s.users[id]
	if !ok {
		return nil, reading.ErrUserNotFound
	}

	copied := *user
	copied.Gamification.UnlockedAchievements = nil
	var keyed []reading.UnlockedAchievement
	for key, at := range s.achievements[id] {
		keyed = append(keyed, reading.UnlockedAchievement{AchievementKey: key, UnlockedAt: at})
	}
	sort.Slice(keyed, func(i, j int) bool { return keyed[i].UnlockedAt.Before(keyed[j].UnlockedAt) })
	for _, k := range keyed {
		copied.Gamification.UnlockedAchievements = append(copied.Gamification.UnlockedAchievements, k.AchievementKey)
	}
	return &copied, nil
}
