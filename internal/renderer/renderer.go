package renderer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
)

// errDocumentDeleted marks renders aborted by document deletion.
var errDocumentDeleted = errors.New("document deleted")

// Config contains renderer configuration.
type Config struct {
	// CacheEntries bounds the artifact cache by entry count (0 = unlimited).
	CacheEntries int

	// CacheBytes bounds the artifact cache by payload size (0 = unlimited).
	CacheBytes int

	// RenderTimeout bounds a single underlying render. A render that does
	// not finish in time fails with RenderTimeout and is not cached.
	RenderTimeout time.Duration

	// Workers bounds concurrent underlying renders. Rendering runs on its
	// own pool, independent from the delivery sweep pool.
	Workers int

	// Logger for structured logging.
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		CacheEntries:  256,
		CacheBytes:    64 << 20, // 64 MiB
		RenderTimeout: 30 * time.Second,
		Workers:       4,
	}
}

// Renderer renders page ranges with caching and single-flight deduplication.
type Renderer struct {
	source  Source
	cache   *Cache
	group   singleflight.Group
	sem     chan struct{}
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	deleted map[reading.DocumentID]struct{}
	cancels map[reading.DocumentID]context.CancelFunc
	lives   map[reading.DocumentID]context.Context
}

// New creates a Renderer on top of the given source.
func New(source Source, cfg Config) *Renderer {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Renderer{
		source:  source,
		cache:   NewCache(cfg.CacheEntries, cfg.CacheBytes),
		sem:     make(chan struct{}, cfg.Workers),
		timeout: cfg.RenderTimeout,
		logger:  cfg.Logger,
		deleted: make(map[reading.DocumentID]struct{}),
		cancels: make(map[reading.DocumentID]context.CancelFunc),
		lives:   make(map[reading.DocumentID]context.Context),
	}
}

// Render renders count pages starting at startPage and returns them in page
// order. The whole range is validated against the document first; a partial
// result is never returned.
func (r *Renderer) Render(ctx context.Context, doc *reading.Document, startPage, count int, quality reading.RenderQuality) ([]Artifact, error) {
	if startPage < 1 || count < 1 || startPage+count-1 > doc.PageCount {
		return nil, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, startPage, nil)
	}
	if r.isDeleted(doc.ID) {
		return nil, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, startPage, errDocumentDeleted)
	}

	artifacts := make([]Artifact, 0, count)
	for page := startPage; page < startPage+count; page++ {
		a, err := r.renderOne(ctx, doc, page, quality)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}

// renderOne returns a single page, from cache when possible. Concurrent
// requests for the same key share exactly one underlying render.
func (r *Renderer) renderOne(ctx context.Context, doc *reading.Document, page int, quality reading.RenderQuality) (Artifact, error) {
	key := Key{DocumentID: doc.ID, Page: page, Quality: quality}

	if a, ok := r.cache.Get(key); ok {
		return a, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		// Re-check after winning the flight: another caller may have
		// populated the cache between our miss and here.
		if a, ok := r.cache.Get(key); ok {
			return a, nil
		}
		return r.renderUncached(ctx, doc, key)
	})
	if err != nil {
		return Artifact{}, err
	}
	return v.(Artifact), nil
}

// renderUncached performs the bounded underlying render and caches the
// result. Failures are never cached.
func (r *Renderer) renderUncached(ctx context.Context, doc *reading.Document, key Key) (Artifact, error) {
	select {
	case r.sem <- struct{}{}:
		defer func() { <-r.sem }()
	case <-ctx.Done():
		return Artifact{}, reading.NewRenderError(reading.RenderTimeout, doc.ID, key.Page, ctx.Err())
	}

	if r.isDeleted(doc.ID) {
		return Artifact{}, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, key.Page, errDocumentDeleted)
	}

	life := r.lifetime(doc.ID)

	renderCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type renderResult struct {
		artifact Artifact
		err      error
	}
	done := make(chan renderResult, 1)

	go func() {
		a, err := r.source.RenderPage(renderCtx, doc, key.Page, key.Quality)
		done <- renderResult{artifact: a, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return Artifact{}, res.err
		}
		if r.isDeleted(doc.ID) {
			// Deleted while rendering: do not cache, fail the tick.
			return Artifact{}, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, key.Page, errDocumentDeleted)
		}
		r.cache.Put(key, res.artifact)
		return res.artifact, nil

	case <-life.Done():
		return Artifact{}, reading.NewRenderError(reading.RenderOutOfRange, doc.ID, key.Page, errDocumentDeleted)

	case <-renderCtx.Done():
		r.logger.Warn("render timed out",
			"document_id", string(doc.ID),
			"page", key.Page,
			"timeout", r.timeout.String(),
		)
		return Artifact{}, reading.NewRenderError(reading.RenderTimeout, doc.ID, key.Page, renderCtx.Err())
	}
}

// InvalidateDocument evicts all cache entries of the document and makes any
// in-flight render for it fail fast. Later Render calls for the document
// fail with an out-of-range error.
func (r *Renderer) InvalidateDocument(docID reading.DocumentID) {
	r.mu.Lock()
	r.deleted[docID] = struct{}{}
	if cancel, ok := r.cancels[docID]; ok {
		cancel()
		delete(r.cancels, docID)
		delete(r.lives, docID)
	}
	r.mu.Unlock()

	r.cache.InvalidateDocument(string(docID))
	r.logger.Info("document render cache invalidated", "document_id", string(docID))
}

// CacheStats reports current cache occupancy.
func (r *Renderer) CacheStats() (entries, bytes int) {
	return r.cache.Len(), r.cache.Bytes()
}

func (r *Renderer) isDeleted(docID reading.DocumentID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.deleted[docID]
	return ok
}

// lifetime returns the document-scoped context, created lazily. It is
// cancelled by InvalidateDocument.
func (r *Renderer) lifetime(docID reading.DocumentID) context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ctx, ok := r.lives[docID]; ok {
		return ctx
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.lives[docID] = ctx
	r.cancels[docID] = cancel
	return ctx
}
