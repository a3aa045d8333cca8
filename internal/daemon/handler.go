package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/query"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
)

// topTerms is how many search terms a status report lists.
const topTerms = 10

// Searcher runs federated queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Result, error)
	SearchDirs(ctx context.Context, req search.Request, dirs []string) (*search.Result, error)
}

// QueryBuilder turns a user query into a condition.
type QueryBuilder interface {
	Build(expr string, tenants, locales []string) (query.Condition, error)
}

// Indexer is the indexing service.
type Indexer interface {
	Enqueue(e entity.Entity)
	EnqueueDelete(page entity.Base, attachments ...string)
	Reindex(ctx context.Context, opts index.ReindexOptions) (int, error)
	Stats() index.Stats
}

// Content looks up one page in the content store.
type Content interface {
	Page(ctx context.Context, page entity.Base) (*entity.Page, error)
	Objects(ctx context.Context, page entity.Base) (*entity.Objects, error)
	Attachments(ctx context.Context, page entity.Base) ([]*entity.Attachment, error)
}

// HandleLister describes the searcher pool's directories.
type HandleLister interface {
	Handles() []search.HandleInfo
}

// Handler answers requests with the components of a serving process.
type Handler struct {
	Searcher   Searcher
	Builder    QueryBuilder
	Indexer    Indexer
	Content    Content
	Pool       HandleLister
	MaxResults int
	Logger     *slog.Logger

	// Metrics, when set, records every search.
	Metrics *telemetry.QueryMetrics
}

// Search builds and runs params.Query.
func (h *Handler) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	start := time.Now()
	res, err := h.search(ctx, params)
	if h.Metrics != nil {
		ev := telemetry.QueryEvent{Query: params.Query, Latency: time.Since(start), Err: err}
		if res != nil {
			ev.Hits = len(res.Hits)
			ev.Failed = res.Failed
		}
		h.Metrics.Record(ev)
	}
	if err != nil {
		return nil, err
	}
	return NewSearchResult(res), nil
}

func (h *Handler) search(ctx context.Context, params SearchParams) (*search.Result, error) {
	cond, err := h.Builder.Build(params.Query, params.Tenants, params.Locales)
	if err != nil {
		return nil, err
	}

	size := params.Limit
	if size == 0 {
		size = h.MaxResults
	}
	req := search.Request{Condition: cond, From: params.From, Size: size, Sort: params.Sort, Fields: params.Fields}

	var res *search.Result
	if len(params.Dirs) > 0 {
		res, err = h.Searcher.SearchDirs(ctx, req, params.Dirs)
	} else {
		res, err = h.Searcher.Search(ctx, req)
	}
	return res, err
}

// Enqueue schedules one page with its objects and attachments, or their
// removal.
func (h *Handler) Enqueue(ctx context.Context, params EnqueueParams) (int, error) {
	page := entity.Base{Tenant: params.Tenant, Space: params.Space, Name: params.Name, Locale: params.Locale}

	if params.Delete {
		names := params.Attachments
		if atts, err := h.Content.Attachments(ctx, page); err == nil {
			for _, a := range atts {
				names = append(names, a.Filename)
			}
		}
		names = dedupe(names)
		h.Indexer.EnqueueDelete(page, names...)
		h.logger().Info("page_delete_enqueued", slog.String("page", page.PageID()), slog.Int("attachments", len(names)))
		return 2 + len(names), nil
	}

	p, err := h.Content.Page(ctx, page)
	if err != nil {
		return 0, wserrors.Wrap(wserrors.ErrCodeEnumerateFails, err)
	}
	if p == nil {
		return 0, wserrors.ValidationError(fmt.Sprintf("page %s not found", page.PageID()), nil)
	}
	h.Indexer.Enqueue(p)
	queued := 1

	objs, err := h.Content.Objects(ctx, page)
	if err != nil {
		return queued, wserrors.Wrap(wserrors.ErrCodeEnumerateFails, err)
	}
	if objs != nil {
		h.Indexer.Enqueue(objs)
		queued++
	}

	atts, err := h.Content.Attachments(ctx, page)
	if err != nil {
		return queued, wserrors.Wrap(wserrors.ErrCodeEnumerateFails, err)
	}
	for _, a := range atts {
		h.Indexer.Enqueue(a)
		queued++
	}

	h.logger().Info("page_enqueued", slog.String("page", page.PageID()), slog.Int("entities", queued))
	return queued, nil
}

// Reindex forwards to the indexing service.
func (h *Handler) Reindex(ctx context.Context, params ReindexParams) (int, error) {
	return h.Indexer.Reindex(ctx, index.ReindexOptions{
		Tenants: params.Tenants,
		Clear:   params.Clear,
		OnlyNew: params.OnlyNew,
	})
}

// Status reports indexing counters and directories.
func (h *Handler) Status() StatusResult {
	st := StatusResult{
		Indexing:    h.Indexer.Stats(),
		Directories: h.Pool.Handles(),
	}
	if h.Metrics != nil {
		snap := h.Metrics.Snapshot(topTerms)
		st.Queries = &snap
	}
	return st
}

func (h *Handler) logger() *slog.Logger {
	return logging.OrDefault(h.Logger)
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
