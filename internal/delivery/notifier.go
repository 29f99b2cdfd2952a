// Package delivery implements the scheduling core of bookfeed: the per-user
// state machine deciding when pages are due, the render/commit/notify tick
// and the dispatcher sweep that fans ticks out across users.
package delivery

import (
	"context"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTIFIER BOUNDARY
// ══════════════════════════════════════════════════════════════════════════════

// Delivery is one outgoing batch of rendered pages for a user.
type Delivery struct {
	// User receiving the pages.
	User *reading.User

	// Document the pages belong to.
	Document *reading.Document

	// Artifacts in page order.
	Artifacts []renderer.Artifact

	// FromPage and ToPage bound the delivered range, inclusive.
	FromPage int
	ToPage   int

	// Completed reports that this batch finished the book.
	Completed bool

	// Deltas are the gamification changes of the committed advance, for
	// the congratulation lines attached to the message.
	Deltas reading.Deltas
}

// Notifier is the outbound messaging transport. The core never assumes a
// delivery succeeded beyond the returned error.
type Notifier interface {
	Deliver(ctx context.Context, d Delivery) error
}

// AdvanceObserver is notified after every committed advance, whatever the
// notifier outcome. Observers must not block the tick.
type AdvanceObserver interface {
	AdvanceCommitted(ctx context.Context, user *reading.User)
}

// PageRenderer is the slice of the renderer the scheduler needs.
type PageRenderer interface {
	Render(ctx context.Context, doc *reading.Document, startPage, count int, quality reading.RenderQuality) ([]renderer.Artifact, error)
}
