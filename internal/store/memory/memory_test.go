package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/gamification"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	clock := timeutil.FixedClock{T: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	return NewStore(gamification.New(time.UTC), clock)
}

func seed(t *testing.T, s *Store, pageCount int) (*reading.User, *reading.Document) {
	t.Helper()
	ctx := context.Background()

	user := reading.NewUser(1, "reader", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.UpsertUser(ctx, user))

	doc := &reading.Document{
		ID:         "doc-1",
		OwnerID:    user.ID,
		SourcePath: "/tmp/book.pdf",
		Title:      "book.pdf",
		PageCount:  pageCount,
		UploadedAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.CreateDocument(ctx, doc))
	return user, doc
}

func advance(user *reading.User, doc *reading.Document, expected, pages int, sessionID string) reading.Advance {
	return reading.Advance{
		UserID:       user.ID,
		DocumentID:   doc.ID,
		ExpectedPage: expected,
		NewPage:      expected + pages,
		PagesSent:    pages,
		SessionID:    sessionID,
		Timestamp:    time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestCommitAdvance_MovesBookmarkAndAwardsPoints(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 50)

	result, err := s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-1"))
	require.NoError(t, err)

	assert.Equal(t, 4, result.Progress.CurrentPage)
	assert.False(t, result.Completed)
	assert.GreaterOrEqual(t, int(result.Deltas.PointsDelta), 3*gamification.PointsPerPage)
	assert.Equal(t, 3, result.User.Gamification.PagesRead)
	require.NotNil(t, result.Progress.LastSentAt)

	// The stored progress matches the returned copy.
	p, err := s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CurrentPage)
}

func TestCommitAdvance_DuplicateSessionIsRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 50)

	_, err := s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-1"))
	require.NoError(t, err)

	// A replayed commit must not double-count, even with a matching page.
	_, err = s.CommitAdvance(ctx, advance(user, doc, 4, 3, "s-1"))
	assert.ErrorIs(t, err, reading.ErrSessionAlreadyRecorded)
	assert.Equal(t, 1, s.SessionCount())

	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, u.Gamification.PagesRead)
}

func TestCommitAdvance_StalePageIsConcurrentModification(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 50)

	_, err := s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-1"))
	require.NoError(t, err)

	_, err = s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-2"))
	assert.ErrorIs(t, err, reading.ErrConcurrentModification)

	// The loser changed nothing.
	p, err := s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CurrentPage)
	assert.Equal(t, 1, s.SessionCount())
}

func TestCommitAdvance_CompletionClampsPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 10)

	require.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 9))

	result, err := s.CommitAdvance(ctx, advance(user, doc, 9, 2, "s-1"))
	require.NoError(t, err)

	assert.True(t, result.Completed)
	assert.Equal(t, 10, result.Progress.CurrentPage)
	assert.True(t, result.Progress.Completed)
	assert.True(t, result.Deltas.CompletionBonus)
	assert.Equal(t, 1, result.User.Gamification.BooksCompleted)
}

func TestSetPage_OutOfRange(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 10)

	assert.ErrorIs(t, s.SetPage(ctx, user.ID, doc.ID, 0), reading.ErrPageOutOfRange)
	assert.ErrorIs(t, s.SetPage(ctx, user.ID, doc.ID, 11), reading.ErrPageOutOfRange)
	assert.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 10))
}

func TestSetPage_ClearsCompletedFlag(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 10)

	require.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 9))
	_, err := s.CommitAdvance(ctx, advance(user, doc, 9, 2, "s-1"))
	require.NoError(t, err)

	// Jumping back re-opens the book.
	require.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 5))
	p, err := s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.CurrentPage)
	assert.False(t, p.Completed)
}

func TestMarkCompleted_OnlyOnLastPage(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 10)

	// Not at the last page yet: a no-op.
	require.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 5))
	require.NoError(t, s.MarkCompleted(ctx, user.ID, doc.ID))
	p, err := s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.False(t, p.Completed)

	require.NoError(t, s.SetPage(ctx, user.ID, doc.ID, 10))
	require.NoError(t, s.MarkCompleted(ctx, user.ID, doc.ID))
	p, err = s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.True(t, p.Completed)

	// Repeating changes nothing.
	require.NoError(t, s.MarkCompleted(ctx, user.ID, doc.ID))
	p, err = s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.True(t, p.Completed)
}

func TestMarkCompleted_UnknownDocument(t *testing.T) {
	s := newStore(t)
	err := s.MarkCompleted(context.Background(), 1, "missing")
	assert.ErrorIs(t, err, reading.ErrDocumentNotFound)
}

func TestCreateDocument_ReplacesActiveAndResetsProgress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 50)

	_, err := s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-1"))
	require.NoError(t, err)

	second := &reading.Document{
		ID:         "doc-2",
		OwnerID:    user.ID,
		SourcePath: "/tmp/other.pdf",
		Title:      "other.pdf",
		PageCount:  30,
		UploadedAt: time.Now(),
	}
	require.NoError(t, s.CreateDocument(ctx, second))

	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, reading.DocumentID("doc-2"), u.ActiveDocumentID)

	p, err := s.GetProgress(ctx, user.ID, second.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.CurrentPage)

	// The old book keeps its bookmark.
	p, err = s.GetProgress(ctx, user.ID, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, p.CurrentPage)
}

func TestCreateDocument_DuplicateID(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	_, doc := seed(t, s, 50)

	dup := *doc
	assert.ErrorIs(t, s.CreateDocument(ctx, &dup), reading.ErrAlreadyExists)
}

func TestDeleteDocument_ClearsActiveAndKeepsLedger(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, doc := seed(t, s, 50)

	_, err := s.CommitAdvance(ctx, advance(user, doc, 1, 3, "s-1"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, doc.ID))

	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, u.HasActiveDocument())

	_, err = s.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, reading.ErrDocumentNotFound)

	// Sessions are append-only history and survive the document.
	assert.Equal(t, 1, s.SessionCount())
}

func TestUnlockAchievement_AwardsOnce(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, _ := seed(t, s, 50)

	inserted, err := s.UnlockAchievement(ctx, user.ID, "night_owl")
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.UnlockAchievement(ctx, user.ID, "night_owl")
	require.NoError(t, err)
	assert.False(t, inserted)

	u, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)

	a, ok := reading.AchievementByKey("night_owl")
	require.True(t, ok)
	assert.Equal(t, a.Points, u.Gamification.TotalPoints)
	assert.Equal(t, []string{"night_owl"}, u.Gamification.UnlockedAchievements)
}

func TestListActiveUsers_FiltersAutoSend(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	user, _ := seed(t, s, 50)

	// A second user without a book never shows up.
	other := reading.NewUser(2, "idle", time.Now())
	require.NoError(t, s.UpsertUser(ctx, other))

	active, err := s.ListActiveUsers(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, user.ID, active[0].ID)

	settings := active[0].Settings
	settings.AutoSend = false
	require.NoError(t, s.UpdateSettings(ctx, user.ID, settings))

	active, err = s.ListActiveUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
