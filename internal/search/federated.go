package search

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	bsearch "github.com/blevesearch/bleve/v2/search"
	"golang.org/x/sync/errgroup"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/query"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

// DefaultSize is the page size used when a request does not set one.
const DefaultSize = 20

// Request is one federated search.
type Request struct {
	// Condition selects documents. Nil matches everything.
	Condition query.Condition
	// From and Size select the result page after merging.
	From int
	Size int
	// Sort is a sort spec as accepted by query.ParseSort.
	Sort []string
	// Fields lists stored fields to return. Empty returns all of them.
	Fields []string
}

// Hit is one merged search result.
type Hit struct {
	ID     string
	Dir    string
	Score  float64
	Fields map[string]any

	match *bsearch.DocumentMatch
}

// Result is a merged page of hits.
type Result struct {
	Hits []*Hit
	// Total is the sum of the per-directory totals.
	Total uint64
	// Searched counts handles that answered; Failed those that errored.
	Searched int
	Failed   int
	Took     time.Duration
}

// Federated runs queries over every handle of a Pool.
type Federated struct {
	pool   *Pool
	logger *slog.Logger
}

// NewFederated creates a federated searcher over pool.
func NewFederated(pool *Pool, logger *slog.Logger) *Federated {
	return &Federated{pool: pool, logger: logging.OrDefault(logger)}
}

// Search runs req on every pool handle and merges the results.
func (f *Federated) Search(ctx context.Context, req Request) (*Result, error) {
	lease := f.pool.Acquire()
	defer lease.Release()
	return f.searchHandles(ctx, lease.Handles(), req)
}

// SearchDirs runs req on an explicit directory list. Directories managed by
// the pool reuse its handles; others are opened read-only for this call.
func (f *Federated) SearchDirs(ctx context.Context, req Request, dirs []string) (*Result, error) {
	var managed, foreign []string
	for _, d := range dirs {
		if f.pool.Manages(d) {
			managed = append(managed, d)
		} else {
			foreign = append(foreign, d)
		}
	}

	lease := f.pool.acquireDirs(managed)
	defer lease.Release()
	handles := append([]*store.Snapshot(nil), lease.Handles()...)

	for _, d := range foreign {
		snap, err := f.pool.open(d)
		if err != nil {
			f.logger.Warn("directory_open_failed", wserrors.LogAttrs(wserrors.DirectoryOpenError(d, err))...)
			continue
		}
		defer snap.Release()
		handles = append(handles, snap)
	}

	return f.searchHandles(ctx, handles, req)
}

func (f *Federated) searchHandles(ctx context.Context, handles []*store.Snapshot, req Request) (*Result, error) {
	start := time.Now()

	if len(handles) == 0 {
		return nil, wserrors.New(wserrors.ErrCodeNoSearchableDir, "no searchable index directory", nil).
			WithSuggestion("check index.dirs and run 'wikisearch rebuild'")
	}

	sortSpec, err := query.ParseSort(req.Sort)
	if err != nil {
		return nil, err
	}
	q, err := query.Compile(req.Condition)
	if err != nil {
		return nil, wserrors.InternalError("failed to compile query", err)
	}
	size := req.Size
	if size <= 0 {
		size = DefaultSize
	}
	from := req.From
	if from < 0 {
		from = 0
	}
	fields := req.Fields
	if len(fields) == 0 {
		fields = []string{"*"}
	}

	var (
		mu       sync.Mutex
		matches  []*Hit
		total    uint64
		searched int
		firstErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, h := range handles {
		g.Go(func() error {
			sr := bleve.NewSearchRequestOptions(q, from+size, 0, false)
			sr.SortBy(sortSpec)
			sr.Fields = fields

			res, err := h.Search(gctx, sr)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// One bad directory must not fail the whole search.
				f.logger.Warn("directory_search_failed",
					slog.String("dir", h.Dir()),
					slog.Int("generation", h.Generation()),
					slog.String("error", err.Error()))
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			searched++
			total += res.Total
			for _, m := range res.Hits {
				matches = append(matches, &Hit{ID: m.ID, Dir: h.Dir(), Score: m.Score, Fields: m.Fields, match: m})
			}
			return nil
		})
	}
	_ = g.Wait()

	if searched == 0 {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wserrors.New(wserrors.ErrCodeSearchFailed, "search failed on every index directory", firstErr)
	}

	order := bsearch.ParseSortOrderStrings(sortSpec)
	isScore, desc := order.CacheIsScore(), order.CacheDescending()
	sort.SliceStable(matches, func(i, j int) bool {
		return order.Compare(isScore, desc, matches[i].match, matches[j].match) < 0
	})

	result := &Result{
		Total:    total,
		Searched: searched,
		Failed:   len(handles) - searched,
	}
	if from < len(matches) {
		end := min(from+size, len(matches))
		result.Hits = matches[from:end]
	}
	result.Took = time.Since(start)

	f.logger.Debug("federated_search",
		slog.Int("handles", len(handles)),
		slog.Int("failed", result.Failed),
		slog.Uint64("total", total),
		slog.Int("returned", len(result.Hits)),
		slog.Duration("took", result.Took))
	return result, nil
}
