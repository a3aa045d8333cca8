package daemon

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/query"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
)

type fakeSearcher struct {
	req  search.Request
	dirs []string
}

func (f *fakeSearcher) Search(_ context.Context, req search.Request) (*search.Result, error) {
	f.req = req
	return &search.Result{Hits: []*search.Hit{{ID: "a"}}, Total: 1, Searched: 1}, nil
}

func (f *fakeSearcher) SearchDirs(_ context.Context, req search.Request, dirs []string) (*search.Result, error) {
	f.req, f.dirs = req, dirs
	return &search.Result{Searched: len(dirs)}, nil
}

type fakeIndexer struct {
	queued  []string
	deleted []string
	opts    index.ReindexOptions
}

func (f *fakeIndexer) Enqueue(e entity.Entity) { f.queued = append(f.queued, e.ID()) }

func (f *fakeIndexer) EnqueueDelete(page entity.Base, attachments ...string) {
	f.deleted = append(f.deleted, page.PageID())
	f.deleted = append(f.deleted, attachments...)
}

func (f *fakeIndexer) Reindex(_ context.Context, opts index.ReindexOptions) (int, error) {
	f.opts = opts
	return 3, nil
}

func (f *fakeIndexer) Stats() index.Stats { return index.Stats{State: index.StateWriting} }

type fakeContent struct {
	page *entity.Page
	objs *entity.Objects
	atts []*entity.Attachment
}

func (f *fakeContent) Page(context.Context, entity.Base) (*entity.Page, error) { return f.page, nil }

func (f *fakeContent) Objects(context.Context, entity.Base) (*entity.Objects, error) {
	return f.objs, nil
}

func (f *fakeContent) Attachments(context.Context, entity.Base) ([]*entity.Attachment, error) {
	return f.atts, nil
}

type fakeHandles []search.HandleInfo

func (f fakeHandles) Handles() []search.HandleInfo { return f }

func newHandler(content *fakeContent) (*Handler, *fakeSearcher, *fakeIndexer) {
	s, ix := &fakeSearcher{}, &fakeIndexer{}
	reg := entity.NewFieldRegistry()
	return &Handler{
		Searcher:   s,
		Builder:    query.NewBuilder(reg, "OR"),
		Indexer:    ix,
		Content:    content,
		Pool:       fakeHandles{{Dir: "/idx", Open: true}},
		MaxResults: 20,
	}, s, ix
}

var home = entity.Base{Tenant: "xwiki", Space: "Main", Name: "WebHome"}

func TestHandler_Search_AppliesDefaultsAndFilters(t *testing.T) {
	h, s, _ := newHandler(&fakeContent{})

	res, err := h.Search(context.Background(), SearchParams{Query: "release", Tenants: []string{"xwiki"}})

	require.NoError(t, err)
	assert.Len(t, res.Hits, 1)
	assert.Equal(t, 20, s.req.Size)
	assert.Equal(t, "fulltext:release AND tenant:xwiki", s.req.Condition.String())
}

func TestHandler_Search_ExplicitDirs(t *testing.T) {
	h, s, _ := newHandler(&fakeContent{})

	res, err := h.Search(context.Background(), SearchParams{Query: "x", Limit: 5, Dirs: []string{"/a", "/b"}})

	require.NoError(t, err)
	assert.Equal(t, 2, res.Searched)
	assert.Equal(t, []string{"/a", "/b"}, s.dirs)
	assert.Equal(t, 5, s.req.Size)
}

func TestHandler_Search_SyntaxError(t *testing.T) {
	h, _, _ := newHandler(&fakeContent{})

	_, err := h.Search(context.Background(), SearchParams{Query: "(a OR b"})

	assert.Equal(t, wserrors.ErrCodeInvalidQuery, wserrors.GetCode(err))
}

func TestHandler_Enqueue_PageObjectsAndAttachments(t *testing.T) {
	// Given: a page with objects and one attachment in the content store
	content := &fakeContent{
		page: &entity.Page{Base: home},
		objs: &entity.Objects{Base: home},
		atts: []*entity.Attachment{{Base: home, Filename: "a.txt"}},
	}
	h, _, ix := newHandler(content)

	// When: the page is enqueued
	n, err := h.Enqueue(context.Background(), EnqueueParams{Tenant: "xwiki", Space: "Main", Name: "WebHome"})

	// Then: all three entities are queued
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{
		"xwiki:Main.WebHome",
		"xwiki:Main.WebHome.objects",
		"xwiki:Main.WebHome.file.a.txt",
	}, ix.queued)
}

func TestHandler_Enqueue_MissingPage(t *testing.T) {
	h, _, ix := newHandler(&fakeContent{})

	_, err := h.Enqueue(context.Background(), EnqueueParams{Tenant: "xwiki", Space: "Main", Name: "Gone"})

	assert.Equal(t, wserrors.CategoryValidation, wserrors.GetCategory(err))
	assert.Empty(t, ix.queued)
}

func TestHandler_Enqueue_DeleteMergesAttachmentNames(t *testing.T) {
	content := &fakeContent{atts: []*entity.Attachment{{Base: home, Filename: "a.txt"}}}
	h, _, ix := newHandler(content)

	n, err := h.Enqueue(context.Background(), EnqueueParams{
		Tenant: "xwiki", Space: "Main", Name: "WebHome", Delete: true,
		Attachments: []string{"b.pdf", "a.txt"},
	})

	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"xwiki:Main.WebHome", "b.pdf", "a.txt"}, ix.deleted)
}

func TestHandler_ReindexAndStatus(t *testing.T) {
	h, _, ix := newHandler(&fakeContent{})

	n, err := h.Reindex(context.Background(), ReindexParams{Tenants: []string{"sub"}})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, index.ReindexOptions{Tenants: []string{"sub"}}, ix.opts)

	_, err = h.Reindex(context.Background(), ReindexParams{OnlyNew: true})
	require.NoError(t, err)
	assert.Equal(t, index.ReindexOptions{OnlyNew: true}, ix.opts)

	status := h.Status()
	assert.Equal(t, index.StateWriting, status.Indexing.State)
	assert.Len(t, status.Directories, 1)
	assert.Nil(t, status.Queries)
}

func TestHandler_Metrics_RecordSearches(t *testing.T) {
	// Given: a handler recording query metrics
	h, _, _ := newHandler(&fakeContent{})
	h.Metrics = telemetry.NewQueryMetrics(telemetry.Config{})

	// When: one search succeeds and one fails to parse
	_, err := h.Search(context.Background(), SearchParams{Query: "release"})
	require.NoError(t, err)
	_, err = h.Search(context.Background(), SearchParams{Query: "(a OR b"})
	require.Error(t, err)

	// Then: the status report carries both
	q := h.Status().Queries
	require.NotNil(t, q)
	assert.Equal(t, int64(2), q.TotalQueries)
	assert.Equal(t, int64(1), q.FailedQueries)
	assert.Equal(t, []telemetry.TermCount{{Term: "release", Count: 1}}, q.TopTerms)
}
