package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
	"github.com/bookfeed-bot/bookfeed/pkg/circuitbreaker"
	"github.com/bookfeed-bot/bookfeed/pkg/retry"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TICK STATE MACHINE
// ══════════════════════════════════════════════════════════════════════════════

// State names the phase a delivery tick is in.
type State string

const (
	// StateIdle - the user is not due, or the book is finished.
	StateIdle State = "idle"
	// StateDue - the schedule fired and pages should go out.
	StateDue State = "due"
	// StateRendering - page artifacts are being produced.
	StateRendering State = "rendering"
	// StateCommitting - the advance is being written to the store.
	StateCommitting State = "committing"
	// StateDelivered - committed and handed to the notifier.
	StateDelivered State = "delivered"
	// StateFailed - the tick was abandoned; the next tick proceeds normally.
	StateFailed State = "failed"
)

// TickResult is the outcome of one delivery tick.
type TickResult struct {
	// State is the terminal state of the tick.
	State State

	// FromPage and ToPage bound the delivered range, inclusive. Zero when
	// nothing was sent.
	FromPage int
	ToPage   int

	// Completed reports that this tick finished the book.
	Completed bool

	// Deltas are the committed gamification changes.
	Deltas reading.Deltas

	// NotifyErr is set when the advance committed but every notification
	// attempt failed. The progress is NOT rolled back.
	NotifyErr error
}

// Sent reports whether this tick delivered pages.
func (r *TickResult) Sent() bool {
	return r.State == StateDelivered
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Config contains scheduler configuration.
type Config struct {
	// Location for schedule and streak day arithmetic.
	Location *time.Location

	// NotifyTimeout bounds a single notifier attempt.
	NotifyTimeout time.Duration

	// Observer is told about committed advances (optional).
	Observer AdvanceObserver

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Location:      time.UTC,
		NotifyTimeout: 30 * time.Second,
	}
}

// Scheduler runs the per-user delivery state machine. It is stateless across
// ticks: everything durable lives in the store, so ticks for different users
// can run concurrently without coordination.
type Scheduler struct {
	store    reading.ProgressStore
	renderer PageRenderer
	notifier Notifier

	breaker  *circuitbreaker.CircuitBreaker
	retrier  *retry.Retrier
	clock    timeutil.Clock
	loc      *time.Location
	timeout  time.Duration
	observer AdvanceObserver
	logger   *slog.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(store reading.ProgressStore, renderer PageRenderer, notifier Notifier, clock timeutil.Clock, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		store:    store,
		renderer: renderer,
		notifier: notifier,
		breaker:  circuitbreaker.New("notifier"),
		retrier:  retry.NotifierRetrier(),
		clock:    clock,
		loc:      cfg.Location,
		timeout:  cfg.NotifyTimeout,
		observer: cfg.Observer,
		logger:   cfg.Logger,
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Due evaluation
// ─────────────────────────────────────────────────────────────────────────────

// IsDue evaluates whether a user should receive pages now. Daily mode fires
// at most once per calendar day after the configured time; interval mode
// fires when enough hours have passed since the last send. A missed period
// yields a single delivery, never a backlog.
func (s *Scheduler) IsDue(user *reading.User, progress *reading.Progress, now time.Time) bool {
	if !user.HasActiveDocument() || progress.Completed {
		return false
	}

	switch user.Settings.Mode {
	case reading.ModeDaily:
		scheduled := user.Settings.ScheduleTime.On(now, s.loc)
		if now.Before(scheduled) {
			return false
		}
		// Already delivered within this due period?
		return progress.LastSentAt == nil || progress.LastSentAt.Before(scheduled)

	case reading.ModeInterval:
		if progress.LastSentAt == nil {
			return true
		}
		interval := time.Duration(user.Settings.IntervalHours * float64(time.Hour))
		return now.Sub(*progress.LastSentAt) >= interval

	default:
		return false
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tick paths
// ─────────────────────────────────────────────────────────────────────────────

// Tick is the scheduled path: evaluate the due condition and, when due,
// render, commit and notify.
func (s *Scheduler) Tick(ctx context.Context, user *reading.User) (*TickResult, error) {
	doc, progress, err := s.load(ctx, user)
	if err != nil {
		return nil, err
	}

	if !s.IsDue(user, progress, s.clock.Now()) {
		return &TickResult{State: StateIdle}, nil
	}

	return s.deliver(ctx, user, doc, progress)
}

// DeliverNext is the manual path ("send me the next pages"): it skips the
// due check but shares the render/commit/notify pipeline, so a concurrent
// scheduled tick is reconciled by the store's optimistic check.
func (s *Scheduler) DeliverNext(ctx context.Context, user *reading.User) (*TickResult, error) {
	doc, progress, err := s.load(ctx, user)
	if err != nil {
		return nil, err
	}
	return s.deliver(ctx, user, doc, progress)
}

func (s *Scheduler) load(ctx context.Context, user *reading.User) (*reading.Document, *reading.Progress, error) {
	if !user.HasActiveDocument() {
		return nil, nil, reading.ErrDocumentNotFound
	}

	doc, err := s.store.GetDocument(ctx, user.ActiveDocumentID)
	if err != nil {
		return nil, nil, err
	}
	progress, err := s.store.GetProgress(ctx, user.ID, doc.ID)
	if err != nil {
		return nil, nil, err
	}
	return doc, progress, nil
}

// deliver runs Due → Rendering → Committing → Delivered for one tick.
// A ConcurrentModification on commit re-reads progress and retries the whole
// range computation exactly once.
func (s *Scheduler) deliver(ctx context.Context, user *reading.User, doc *reading.Document, progress *reading.Progress) (*TickResult, error) {
	var commit *reading.AdvanceResult

	for attempt := 0; ; attempt++ {
		if progress.Completed {
			return &TickResult{State: StateIdle}, nil
		}

		count := doc.ClipRange(progress.CurrentPage, user.Settings.PagesPerSend)
		if count == 0 {
			return &TickResult{State: StateIdle}, nil
		}

		// Rendering
		artifacts, err := s.renderer.Render(ctx, doc, progress.CurrentPage, count, user.Settings.Quality)
		if err != nil {
			s.logger.Error("tick abandoned: render failed",
				"user_id", int64(user.ID),
				"document_id", doc.ID.String(),
				"page", progress.CurrentPage,
				"error", err,
			)
			return &TickResult{State: StateFailed}, err
		}

		// Committing
		adv := reading.Advance{
			UserID:       user.ID,
			DocumentID:   doc.ID,
			ExpectedPage: progress.CurrentPage,
			NewPage:      progress.CurrentPage + count,
			PagesSent:    count,
			SessionID:    uuid.NewString(),
			Timestamp:    s.clock.Now(),
		}

		commit, err = s.store.CommitAdvance(ctx, adv)
		if err == nil {
			if s.observer != nil {
				s.observer.AdvanceCommitted(ctx, commit.User)
			}
			return s.notify(ctx, user, doc, artifacts, commit)
		}

		if errors.Is(err, reading.ErrConcurrentModification) && attempt == 0 {
			// A manual request or another tick advanced first. Re-read
			// and recompute the range once.
			progress, err = s.store.GetProgress(ctx, user.ID, doc.ID)
			if err != nil {
				return nil, err
			}
			s.logger.Info("concurrent advance detected, retrying tick",
				"user_id", int64(user.ID),
				"document_id", doc.ID.String(),
				"current_page", progress.CurrentPage,
			)
			continue
		}

		s.logger.Error("tick abandoned: commit failed",
			"user_id", int64(user.ID),
			"document_id", doc.ID.String(),
			"error", err,
		)
		return &TickResult{State: StateFailed}, err
	}
}

// notify hands the committed batch to the notifier with bounded retries.
// A notifier failure never rolls the commit back: the pages count as read
// and the next scheduled tick proceeds normally.
func (s *Scheduler) notify(ctx context.Context, user *reading.User, doc *reading.Document, artifacts []renderer.Artifact, commit *reading.AdvanceResult) (*TickResult, error) {
	d := Delivery{
		User:      commit.User,
		Document:  doc,
		Artifacts: artifacts,
		FromPage:  artifacts[0].Page,
		ToPage:    artifacts[len(artifacts)-1].Page,
		Completed: commit.Completed,
		Deltas:    commit.Deltas,
	}

	result := &TickResult{
		State:     StateDelivered,
		FromPage:  d.FromPage,
		ToPage:    d.ToPage,
		Completed: commit.Completed,
		Deltas:    commit.Deltas,
	}

	err := s.retrier.Do(ctx, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		return s.breaker.Execute(attemptCtx, func(ctx context.Context) error {
			return s.notifier.Deliver(ctx, d)
		})
	})
	if err != nil {
		s.logger.Warn("delivery failed after retries, progress kept",
			"user_id", int64(user.ID),
			"document_id", doc.ID.String(),
			"from_page", d.FromPage,
			"to_page", d.ToPage,
			"error", err,
		)
		result.State = StateFailed
		result.NotifyErr = fmt.Errorf("notifier: %w", err)
		return result, nil
	}

	s.logger.Info("pages delivered",
		"user_id", int64(user.ID),
		"document_id", doc.ID.String(),
		"from_page", d.FromPage,
		"to_page", d.ToPage,
		"points", int(commit.Deltas.PointsDelta),
		"completed", commit.Completed,
	)
	return result, nil
}
