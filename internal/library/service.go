// Package library manages a user's documents: registering a validated PDF
// as the active book and removing it again. Registration computes the page
// count once; it never changes afterwards. Removal evicts every cached
// artifact of the document so stale pages can't outlive it.
package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/renderer"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

// PageCounter counts pages in a source file. Satisfied by renderer.PDFSource.
type PageCounter interface {
	PageCount(ctx context.Context, doc *reading.Document) (int, error)
}

// Invalidator evicts a document's cached artifacts. Satisfied by
// renderer.Renderer.
type Invalidator interface {
	InvalidateDocument(docID reading.DocumentID)
}

// Service registers and removes documents.
type Service struct {
	store   reading.ProgressStore
	counter PageCounter
	cache   Invalidator
	clock   timeutil.Clock
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(store reading.ProgressStore, counter PageCounter, cache Invalidator, clock timeutil.Clock, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, counter: counter, cache: cache, clock: clock, logger: logger}
}

// Register validates a PDF, counts its pages and makes it the user's active
// book with progress reset to page 1. Corrupt or password-protected files
// fail with the renderer's error taxonomy before anything is persisted.
func (s *Service) Register(ctx context.Context, userID reading.UserID, sourcePath, title string) (*reading.Document, error) {
	if title == "" {
		title = filepath.Base(sourcePath)
	}

	doc := &reading.Document{
		ID:         reading.DocumentID(uuid.NewString()),
		OwnerID:    userID,
		SourcePath: sourcePath,
		Title:      title,
		UploadedAt: s.clock.Now(),
	}

	pages, err := s.counter.PageCount(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("count pages: %w", err)
	}
	doc.PageCount = pages

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}

	s.logger.Info("document registered",
		"user_id", int64(userID),
		"document_id", doc.ID.String(),
		"title", doc.Title,
		"pages", doc.PageCount,
	)
	return doc, nil
}

// Remove deletes a document and evicts its cached pages. The session ledger
// is untouched: history survives the book.
func (s *Service) Remove(ctx context.Context, docID reading.DocumentID) error {
	if err := s.store.DeleteDocument(ctx, docID); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateDocument(docID)
	}

	s.logger.Info("document removed", "document_id", docID.String())
	return nil
}

var _ PageCounter = (*renderer.PDFSource)(nil)
var _ Invalidator = (*renderer.Renderer)(nil)
