package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/gamification"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
	"github.com/bookfeed-bot/bookfeed/internal/store/memory"
	"github.com/bookfeed-bot/bookfeed/pkg/retry"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FIXTURES
// ══════════════════════════════════════════════════════════════════════════════

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRenderer produces empty artifacts without touching a real PDF.
type fakeRenderer struct {
	mu       sync.Mutex
	calls    int
	fail     error
	onRender func(startPage int)
}

func (f *fakeRenderer) Render(ctx context.Context, doc *reading.Document, startPage, count int, quality reading.RenderQuality) ([]renderer.Artifact, error) {
	f.mu.Lock()
	f.calls++
	hook := f.onRender
	f.mu.Unlock()

	if hook != nil {
		hook(startPage)
	}
	if f.fail != nil {
		return nil, f.fail
	}

	artifacts := make([]renderer.Artifact, 0, count)
	for page := startPage; page < startPage+count; page++ {
		artifacts = append(artifacts, renderer.Artifact{
			DocumentID: doc.ID,
			Page:       page,
			Quality:    quality,
			Format:     "pdf",
			Data:       []byte("%PDF"),
		})
	}
	return artifacts, nil
}

func (f *fakeRenderer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeNotifier records deliveries and can fail the first N attempts.
type fakeNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	failFirst  int
	attempts   int
}

func (f *fakeNotifier) Deliver(ctx context.Context, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.attempts <= f.failFirst {
		return errors.New("telegram: gateway timeout")
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeNotifier) delivered() []Delivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Delivery, len(f.deliveries))
	copy(out, f.deliveries)
	return out
}

type fixture struct {
	store    *memory.Store
	clock    *testClock
	renderer *fakeRenderer
	notifier *fakeNotifier
	sched    *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := &testClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(gamification.New(time.UTC), clock)
	rend := &fakeRenderer{}
	notif := &fakeNotifier{}

	cfg := DefaultConfig()
	cfg.NotifyTimeout = time.Second
	sched := NewScheduler(store, rend, notif, clock, cfg)

	// Short backoff so notifier failure paths stay fast.
	sched.retrier = retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithJitter(0),
		retry.WithRetryIf(func(err error) bool { return !retry.IsPermanent(err) }),
	)

	return &fixture{store: store, clock: clock, renderer: rend, notifier: notif, sched: sched}
}

// seedReader registers a user with an active document of pageCount pages.
func (f *fixture) seedReader(t *testing.T, id reading.UserID, pageCount int) *reading.User {
	t.Helper()
	ctx := context.Background()

	user := reading.NewUser(id, "reader", f.clock.Now())
	require.NoError(t, f.store.UpsertUser(ctx, user))

	doc := &reading.Document{
		ID:         reading.DocumentID("doc-" + user.Username + "-" + time.Now().Format("150405.000000000")),
		OwnerID:    id,
		SourcePath: "/tmp/book.pdf",
		Title:      "book.pdf",
		PageCount:  pageCount,
		UploadedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateDocument(ctx, doc))

	user, err := f.store.GetUser(ctx, id)
	require.NoError(t, err)
	require.True(t, user.HasActiveDocument())
	return user
}

// ══════════════════════════════════════════════════════════════════════════════
// DUE EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

func TestScheduler_IsDue(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	fiveHoursAgo := now.Add(-5 * time.Hour)
	sevenHoursAgo := now.Add(-7 * time.Hour)
	todayEight := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	yesterday := now.AddDate(0, 0, -1)

	user := func(mode reading.DeliveryMode) *reading.User {
		u := reading.NewUser(1, "reader", now)
		u.ActiveDocumentID = "doc-1"
		u.Settings.Mode = mode
		u.Settings.IntervalHours = 6
		u.Settings.ScheduleTime = timeutil.ClockTime{Hour: 8}
		return u
	}
	progress := func(lastSent *time.Time, completed bool) *reading.Progress {
		return &reading.Progress{UserID: 1, DocumentID: "doc-1", CurrentPage: 1, Completed: completed, LastSentAt: lastSent}
	}

	tests := []struct {
		name     string
		mode     reading.DeliveryMode
		progress *reading.Progress
		want     bool
	}{
		{"interval never sent", reading.ModeInterval, progress(nil, false), true},
		{"interval elapsed", reading.ModeInterval, progress(&sevenHoursAgo, false), true},
		{"interval too recent", reading.ModeInterval, progress(&fiveHoursAgo, false), false},
		{"interval completed book", reading.ModeInterval, progress(nil, true), false},
		{"daily after schedule, never sent", reading.ModeDaily, progress(nil, false), true},
		{"daily after schedule, sent yesterday", reading.ModeDaily, progress(&yesterday, false), true},
		{"daily already sent this period", reading.ModeDaily, progress(&todayEight, false), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.sched.IsDue(user(tt.mode), tt.progress, now))
		})
	}
}

func TestScheduler_IsDueBeforeDailySchedule(t *testing.T) {
	f := newFixture(t)

	u := reading.NewUser(1, "reader", f.clock.Now())
	u.ActiveDocumentID = "doc-1"
	u.Settings.Mode = reading.ModeDaily
	u.Settings.ScheduleTime = timeutil.ClockTime{Hour: 20}

	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	p := &reading.Progress{UserID: 1, DocumentID: "doc-1", CurrentPage: 1}

	assert.False(t, f.sched.IsDue(u, p, now))
}

// ══════════════════════════════════════════════════════════════════════════════
// TICK PIPELINE
// ══════════════════════════════════════════════════════════════════════════════

func TestScheduler_TickDeliversDueUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, result.State)
	assert.True(t, result.Sent())
	assert.Equal(t, 1, result.FromPage)
	assert.Equal(t, 3, result.ToPage)
	assert.False(t, result.Completed)

	// Points for three pages, plus whatever achievements fired.
	assert.GreaterOrEqual(t, int(result.Deltas.PointsDelta), 3*gamification.PointsPerPage)

	deliveries := f.notifier.delivered()
	require.Len(t, deliveries, 1)
	assert.Len(t, deliveries[0].Artifacts, 3)
	assert.Equal(t, 1, deliveries[0].Artifacts[0].Page)

	progress, err := f.store.GetProgress(ctx, user.ID, user.ActiveDocumentID)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.CurrentPage)
	require.NotNil(t, progress.LastSentAt)
}

func TestScheduler_TickIdleWhenNotDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	_, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	// Second tick in the same instant: interval has not elapsed.
	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, result.State)
	assert.Len(t, f.notifier.delivered(), 1)
	assert.Equal(t, 1, f.renderer.callCount())
}

func TestScheduler_TickDueAgainAfterInterval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	_, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	f.clock.Advance(6 * time.Hour)

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 4, result.FromPage)
	assert.Equal(t, 6, result.ToPage)
}

func TestScheduler_CompletionAwardsBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 10)

	require.NoError(t, f.store.SetPage(ctx, user.ID, user.ActiveDocumentID, 9))

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	// Pages 9-10: the range is clipped at the end of the book.
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 9, result.FromPage)
	assert.Equal(t, 10, result.ToPage)
	assert.True(t, result.Completed)
	assert.True(t, result.Deltas.CompletionBonus)
	assert.GreaterOrEqual(t, int(result.Deltas.PointsDelta), 2*gamification.PointsPerPage+gamification.CompletionBonus)

	deliveries := f.notifier.delivered()
	require.Len(t, deliveries, 1)
	assert.True(t, deliveries[0].Completed)

	// The finished book never ticks again.
	f.clock.Advance(24 * time.Hour)
	again, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, again.State)
	assert.Len(t, f.notifier.delivered(), 1)
}

func TestScheduler_NotifierFailureKeepsCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	f.notifier.failFirst = 100 // every attempt fails

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	require.Error(t, result.NotifyErr)

	// The advance stays committed: pages count as read, one ledger entry.
	progress, err := f.store.GetProgress(ctx, user.ID, user.ActiveDocumentID)
	require.NoError(t, err)
	assert.Equal(t, 4, progress.CurrentPage)
	assert.Equal(t, 1, f.store.SessionCount())
}

func TestScheduler_NotifierRecoversWithinRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	f.notifier.failFirst = 2 // third attempt succeeds

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	assert.Equal(t, StateDelivered, result.State)
	assert.NoError(t, result.NotifyErr)
	assert.Len(t, f.notifier.delivered(), 1)
	assert.Equal(t, 1, f.store.SessionCount())
}

func TestScheduler_RenderFailureAbandonsTick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	f.renderer.fail = reading.NewRenderError(reading.RenderCorrupt, user.ActiveDocumentID, 1, errors.New("xref broken"))

	result, err := f.sched.Tick(ctx, user)
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)

	// Nothing committed, nothing sent.
	progress, gerr := f.store.GetProgress(ctx, user.ID, user.ActiveDocumentID)
	require.NoError(t, gerr)
	assert.Equal(t, 1, progress.CurrentPage)
	assert.Empty(t, f.notifier.delivered())
	assert.Equal(t, 0, f.store.SessionCount())
}

func TestScheduler_ConcurrentAdvanceRetriesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	// A manual jump lands between the scheduler's read and its commit.
	fired := false
	f.renderer.onRender = func(startPage int) {
		if !fired {
			fired = true
			require.NoError(t, f.store.SetPage(ctx, user.ID, user.ActiveDocumentID, 7))
		}
	}

	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	// The first commit failed the expected-page check; the retry recomputed
	// the range from the fresh bookmark.
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 7, result.FromPage)
	assert.Equal(t, 9, result.ToPage)
	assert.Equal(t, 2, f.renderer.callCount())
	assert.Equal(t, 1, f.store.SessionCount())

	progress, err := f.store.GetProgress(ctx, user.ID, user.ActiveDocumentID)
	require.NoError(t, err)
	assert.Equal(t, 10, progress.CurrentPage)
}

func TestScheduler_DeliverNextSkipsDueCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 50)

	_, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)

	// Interval has not elapsed, but the manual path does not care.
	result, err := f.sched.DeliverNext(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)
	assert.Equal(t, 4, result.FromPage)
	assert.Len(t, f.notifier.delivered(), 2)
}

func TestScheduler_DeliverNextOnFinishedBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 3)

	_, err := f.sched.DeliverNext(ctx, user)
	require.NoError(t, err)

	result, err := f.sched.DeliverNext(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, result.State)
	assert.Len(t, f.notifier.delivered(), 1)
}

func TestScheduler_DailyModeOneDeliveryPerDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user := f.seedReader(t, 1, 100)

	settings := user.Settings
	settings.Mode = reading.ModeDaily
	settings.ScheduleTime = timeutil.ClockTime{Hour: 8}
	require.NoError(t, f.store.UpdateSettings(ctx, user.ID, settings))
	user.Settings = settings

	// 12:00, past 08:00: the first delivery goes out even though the
	// schedule instant itself was missed.
	result, err := f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)

	// Later the same day: no backlog, no second delivery.
	f.clock.Advance(4 * time.Hour)
	result, err = f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, result.State)

	// 08:30 next morning: due again.
	f.clock.Set(time.Date(2025, 3, 11, 8, 30, 0, 0, time.UTC))
	result, err = f.sched.Tick(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, result.State)
	assert.Len(t, f.notifier.delivered(), 2)
}
