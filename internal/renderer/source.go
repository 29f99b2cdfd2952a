// Package renderer turns document pages into deliverable artifacts. It owns
// a bounded LRU cache keyed by (document, page, quality), deduplicates
// concurrent renders of the same key, and bounds every underlying render
// with a timeout and a worker pool so one slow document cannot starve the
// delivery sweep.
package renderer

import (
	"context"
	"fmt"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// Artifact is one rendered page, ready for delivery.
type Artifact struct {
	DocumentID reading.DocumentID
	Page       int
	Quality    reading.RenderQuality

	// Format is the artifact encoding ("pdf").
	Format string

	// Data is the rendered payload.
	Data []byte
}

// Size returns the payload size in bytes, used for byte-bounded caching.
func (a Artifact) Size() int {
	return len(a.Data)
}

// Key identifies a cache/in-flight entry.
type Key struct {
	DocumentID reading.DocumentID
	Page       int
	Quality    reading.RenderQuality
}

// String returns the canonical key form used by the single-flight group.
func (k Key) String() string {
	return fmt.Sprintf("%s:%d:%s", k.DocumentID, k.Page, k.Quality)
}

// Source is the underlying paginated-document capability. Implementations
// are supplied by the upload/validation layer; the renderer only adds
// caching, deduplication and bounding on top.
type Source interface {
	// PageCount returns the total page count of the document.
	PageCount(ctx context.Context, doc *reading.Document) (int, error)

	// RenderPage renders a single page. page is 1-based and already
	// validated against the document's page count by the caller.
	RenderPage(ctx context.Context, doc *reading.Document, page int, quality reading.RenderQuality) (Artifact, error)
}
