package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/query"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

func fillEngine(t *testing.T, e *store.Engine, prefix string, n int) {
	t.Helper()
	b := entity.NewBuilder()
	for i := 0; i < n; i++ {
		p := &entity.Page{
			Base: entity.Base{Tenant: "xwiki", Space: "Main", Name: fmt.Sprintf("%s%d", prefix, i), Title: "page"},
			Body: "shared term",
		}
		doc, err := b.Build(context.Background(), p)
		require.NoError(t, err)
		require.NoError(t, e.Upsert(doc))
	}
	_, err := e.Commit()
	require.NoError(t, err)
}

func openEngine(t *testing.T, dir string) *store.Engine {
	t.Helper()
	e, err := store.OpenEngine(dir, store.Options{Analyzer: "standard", Logger: logging.Discard()})
	require.NoError(t, err)
	return e
}

// foreignDir writes n pages into a directory and closes its writer, leaving
// it for read-only use.
func foreignDir(t *testing.T, prefix string, n int) string {
	t.Helper()
	dir := t.TempDir()
	e := openEngine(t, dir)
	fillEngine(t, e, prefix, n)
	require.NoError(t, e.Close())
	return dir
}

func sharedTerm(t *testing.T) query.Condition {
	t.Helper()
	cond, err := query.NewBuilder(nil, "OR").Build("shared", nil, nil)
	require.NoError(t, err)
	return cond
}

func TestFederated_SkipsUnopenableDirectory(t *testing.T) {
	// Given: D1 with 5 matches, D2 that cannot be opened, D3 with 3 matches
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	fillEngine(t, writer, "A", 5)
	d2 := filepath.Join(t.TempDir(), "missing")
	d3 := foreignDir(t, "B", 3)

	pool, err := NewPool([]string{d1, d2, d3}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()

	// When: searching all directories
	res, err := NewFederated(pool, logging.Discard()).Search(context.Background(), Request{Condition: sharedTerm(t)})

	// Then: D2 is skipped and the others are merged
	require.NoError(t, err)
	assert.Equal(t, uint64(8), res.Total)
	assert.Len(t, res.Hits, 8)
	assert.Equal(t, 2, res.Searched)

	infos := pool.Handles()
	require.Len(t, infos, 3)
	assert.True(t, infos[0].Open)
	assert.False(t, infos[1].Open)
	assert.Equal(t, uint64(3), infos[2].Docs)
}

func TestFederated_SortAndPaginate(t *testing.T) {
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	fillEngine(t, writer, "A", 5)
	d3 := foreignDir(t, "B", 3)

	pool, err := NewPool([]string{d1, d3}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()
	f := NewFederated(pool, logging.Discard())

	res, err := f.Search(context.Background(), Request{Condition: sharedTerm(t), Sort: []string{"-name"}, Size: 3})
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)
	assert.Equal(t, "xwiki:Main.B2", res.Hits[0].ID)
	assert.Equal(t, d3, res.Hits[0].Dir)
	assert.Equal(t, "B2", res.Hits[0].Fields[entity.FieldName])
	assert.Equal(t, "xwiki:Main.B0", res.Hits[2].ID)

	res, err = f.Search(context.Background(), Request{Condition: sharedTerm(t), Sort: []string{"name"}, From: 6, Size: 5})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), res.Total)
	require.Len(t, res.Hits, 2)
	assert.Equal(t, "xwiki:Main.B1", res.Hits[0].ID)
	assert.Equal(t, "xwiki:Main.B2", res.Hits[1].ID)
}

func TestFederated_InvalidSort(t *testing.T) {
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	pool, err := NewPool([]string{d1}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()

	_, err = NewFederated(pool, nil).Search(context.Background(), Request{Sort: []string{"-"}})

	assert.Equal(t, wserrors.ErrCodeInvalidSort, wserrors.GetCode(err))
}

func TestNewPool_NoDirectories(t *testing.T) {
	_, err := NewPool(nil, PoolOptions{})

	assert.Equal(t, wserrors.ErrCodeNoIndexDirs, wserrors.GetCode(err))
}

func TestFederated_NothingSearchable(t *testing.T) {
	pool, err := NewPool([]string{filepath.Join(t.TempDir(), "nope")}, PoolOptions{Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()

	_, err = NewFederated(pool, logging.Discard()).Search(context.Background(), Request{})

	assert.Equal(t, wserrors.ErrCodeNoSearchableDir, wserrors.GetCode(err))
}

func TestPool_LeaseBeforeSwapKeepsOldGeneration(t *testing.T) {
	// Given: a writer directory with two pages in generation 1, and a lease
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	fillEngine(t, writer, "Old", 2)
	pool, err := NewPool([]string{d1}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()
	f := NewFederated(pool, logging.Discard())

	lease := pool.Acquire()

	// When: a rebuild writes one page into generation 2 and swaps it in
	gen, err := writer.BeginGeneration()
	require.NoError(t, err)
	assert.Equal(t, 2, gen)
	fillEngine(t, writer, "New", 1)
	snap, err := writer.Publish()
	require.NoError(t, err)
	require.NoError(t, pool.Swap(d1, snap))

	// Then: the old lease still sees generation 1
	old, err := f.searchHandles(context.Background(), lease.Handles(), Request{Condition: sharedTerm(t)})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), old.Total)
	assert.DirExists(t, filepath.Join(d1, "gen-000001"))

	// And: new searches see generation 2
	cur, err := f.Search(context.Background(), Request{Condition: sharedTerm(t)})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cur.Total)

	// And: releasing the lease closes and removes generation 1
	lease.Release()
	assert.NoDirExists(t, filepath.Join(d1, "gen-000001"))
	assert.DirExists(t, filepath.Join(d1, "gen-000002"))
}

func TestPool_ReopenSkipsUnchangedGeneration(t *testing.T) {
	d3 := foreignDir(t, "B", 1)
	var opens atomic.Int32
	opener := func(dir string) (*store.Snapshot, error) {
		opens.Add(1)
		return store.OpenReadOnly(dir, logging.Discard())
	}

	pool, err := NewPool([]string{d3}, PoolOptions{Open: opener, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()
	require.Equal(t, int32(1), opens.Load())

	require.NoError(t, pool.Reopen(d3))
	assert.Equal(t, int32(1), opens.Load())

	err = pool.Reopen("/not/in/pool")
	assert.Equal(t, wserrors.ErrCodeInvalidInput, wserrors.GetCode(err))
}

func TestPool_SeedsRegistryFromHandles(t *testing.T) {
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	objs := &entity.Objects{
		Base: entity.Base{Tenant: "xwiki", Space: "Blog", Name: "Post"},
		Records: []entity.Record{{Class: "Blog.BlogPostClass", Properties: []entity.Property{
			{Name: "summary", Value: entity.PropertyValue{Text: "release summary"}},
		}}},
	}
	doc, err := entity.NewBuilder().Build(context.Background(), objs)
	require.NoError(t, err)
	require.NoError(t, writer.Upsert(doc))
	_, err = writer.Commit()
	require.NoError(t, err)

	pool, err := NewPool([]string{d1}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()

	assert.True(t, pool.Registry().Contains("Blog.BlogPostClass.summary"))
	assert.False(t, pool.Registry().Contains(entity.FieldTenant))
}

func TestFederated_SearchDirsOpensForeignDirectory(t *testing.T) {
	d1 := t.TempDir()
	writer := openEngine(t, d1)
	defer writer.Close()
	fillEngine(t, writer, "A", 2)
	extra := foreignDir(t, "B", 3)

	pool, err := NewPool([]string{d1}, PoolOptions{Writer: writer, Logger: logging.Discard()})
	require.NoError(t, err)
	defer pool.Close()

	res, err := NewFederated(pool, logging.Discard()).SearchDirs(context.Background(), Request{Condition: sharedTerm(t)}, []string{extra})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Total)

	res, err = NewFederated(pool, logging.Discard()).SearchDirs(context.Background(), Request{Condition: sharedTerm(t)}, []string{d1, extra})
	require.NoError(t, err)
	assert.Equal(t, uint64(5), res.Total)
}
