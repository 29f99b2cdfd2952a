package library

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookfeed-bot/bookfeed/internal/domain/reading"
	"github.com/bookfeed-bot/bookfeed/internal/gamification"
	"github.com/bookfeed-bot/bookfeed/internal/store/memory"
	"github.com/bookfeed-bot/bookfeed/pkg/timeutil"
)

type fakeCounter struct {
	pages int
	err   error
}

func (f *fakeCounter) PageCount(ctx context.Context, doc *reading.Document) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.pages, nil
}

type fakeInvalidator struct {
	evicted []reading.DocumentID
}

func (f *fakeInvalidator) InvalidateDocument(docID reading.DocumentID) {
	f.evicted = append(f.evicted, docID)
}

func newService(t *testing.T, counter *fakeCounter) (*Service, *memory.Store, *fakeInvalidator) {
	t.Helper()

	clock := timeutil.FixedClock{T: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore(gamification.New(time.UTC), clock)
	require.NoError(t, store.UpsertUser(context.Background(), reading.NewUser(1, "reader", clock.T)))

	inv := &fakeInvalidator{}
	return NewService(store, counter, inv, clock, nil), store, inv
}

func TestRegister_SetsActiveDocument(t *testing.T) {
	svc, store, _ := newService(t, &fakeCounter{pages: 42})
	ctx := context.Background()

	doc, err := svc.Register(ctx, 1, "/books/dune.pdf", "")
	require.NoError(t, err)

	assert.Equal(t, 42, doc.PageCount)
	assert.Equal(t, "dune.pdf", doc.Title)

	user, err := store.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, user.ActiveDocumentID)

	progress, err := store.GetProgress(ctx, 1, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, progress.CurrentPage)
}

func TestRegister_CorruptFileNotPersisted(t *testing.T) {
	counter := &fakeCounter{
		err: reading.NewRenderError(reading.RenderCorrupt, "", 0, assert.AnError),
	}
	svc, store, _ := newService(t, counter)
	ctx := context.Background()

	_, err := svc.Register(ctx, 1, "/books/broken.pdf", "")
	require.Error(t, err)
	_, ok := reading.IsRenderError(err)
	assert.True(t, ok)

	user, gerr := store.GetUser(ctx, 1)
	require.NoError(t, gerr)
	assert.False(t, user.HasActiveDocument())
}

func TestRemove_EvictsCachedPages(t *testing.T) {
	svc, store, inv := newService(t, &fakeCounter{pages: 10})
	ctx := context.Background()

	doc, err := svc.Register(ctx, 1, "/books/dune.pdf", "")
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, doc.ID))

	assert.Equal(t, []reading.DocumentID{doc.ID}, inv.evicted)
	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, reading.ErrDocumentNotFound)
}

func TestRemove_UnknownDocument(t *testing.T) {
	svc, _, inv := newService(t, &fakeCounter{pages: 10})

	err := svc.Remove(context.Background(), "missing")
	assert.ErrorIs(t, err, reading.ErrDocumentNotFound)
	assert.Empty(t, inv.evicted)
}
