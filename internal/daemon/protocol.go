package daemon

import (
	"fmt"
	"time"

	"github.com/xwiki/xwiki-platform-sub060/internal/index"
	"github.com/xwiki/xwiki-platform-sub060/internal/search"
	"github.com/xwiki/xwiki-platform-sub060/internal/telemetry"
)

// JSON-RPC 2.0 method names.
const (
	MethodSearch  = "search"
	MethodStatus  = "status"
	MethodPing    = "ping"
	MethodEnqueue = "enqueue"
	MethodReindex = "reindex"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Application error codes.
const (
	ErrCodeSearchFailed = -32002
	ErrCodeIndexFailed  = -32003
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error. Data carries the wikisearch error
// code (ERR_xxx) when there is one.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// SearchParams are the parameters of the search method.
type SearchParams struct {
	// Query is the user expression, optionally prefixed by PROP or MULTI (required).
	Query string `json:"query"`

	Tenants []string `json:"tenants,omitempty"`
	Locales []string `json:"locales,omitempty"`

	// Sort lists field names, "-" prefixed for descending. Empty sorts by score.
	Sort []string `json:"sort,omitempty"`

	From  int `json:"from,omitempty"`
	Limit int `json:"limit,omitempty"`

	// Fields restricts the stored fields returned with each hit.
	Fields []string `json:"fields,omitempty"`

	// Dirs searches these directories instead of the configured ones.
	Dirs []string `json:"dirs,omitempty"`
}

// Validate checks required fields and clamps negative paging values.
func (p *SearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.From < 0 {
		p.From = 0
	}
	if p.Limit < 0 {
		p.Limit = 0
	}
	return nil
}

// SearchHit is one hit of a SearchResult.
type SearchHit struct {
	ID     string         `json:"id"`
	Dir    string         `json:"dir"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields,omitempty"`
}

// SearchResult is the wire form of search.Result.
type SearchResult struct {
	Hits     []SearchHit `json:"hits"`
	Total    uint64      `json:"total"`
	Searched int         `json:"searched"`
	Failed   int         `json:"failed"`
	TookMS   int64       `json:"took_ms"`
}

// NewSearchResult converts a search result to its wire form.
func NewSearchResult(res *search.Result) *SearchResult {
	out := &SearchResult{
		Hits:     make([]SearchHit, 0, len(res.Hits)),
		Total:    res.Total,
		Searched: res.Searched,
		Failed:   res.Failed,
		TookMS:   res.Took.Milliseconds(),
	}
	for _, h := range res.Hits {
		out.Hits = append(out.Hits, SearchHit{ID: h.ID, Dir: h.Dir, Score: h.Score, Fields: h.Fields})
	}
	return out
}

// Result converts r back to a search.Result.
func (r *SearchResult) Result() *search.Result {
	res := &search.Result{
		Hits:     make([]*search.Hit, 0, len(r.Hits)),
		Total:    r.Total,
		Searched: r.Searched,
		Failed:   r.Failed,
		Took:     time.Duration(r.TookMS) * time.Millisecond,
	}
	for _, h := range r.Hits {
		res.Hits = append(res.Hits, &search.Hit{ID: h.ID, Dir: h.Dir, Score: h.Score, Fields: h.Fields})
	}
	return res
}

// EnqueueParams identify one page to reindex or remove.
type EnqueueParams struct {
	Tenant string `json:"tenant"`
	Space  string `json:"space"`
	Name   string `json:"name"`
	Locale string `json:"locale,omitempty"`

	// Delete removes the page, its objects and its attachments from the index.
	Delete bool `json:"delete,omitempty"`

	// Attachments names attachments to remove along with a deleted page when
	// the content store no longer lists them.
	Attachments []string `json:"attachments,omitempty"`
}

// Validate checks that the page is fully identified.
func (p *EnqueueParams) Validate() error {
	if p.Tenant == "" || p.Space == "" || p.Name == "" {
		return fmt.Errorf("tenant, space and name are required")
	}
	return nil
}

// EnqueueResult reports how many entities were queued.
type EnqueueResult struct {
	Queued int `json:"queued"`
}

// ReindexParams are the parameters of the reindex method.
type ReindexParams struct {
	Tenants []string `json:"tenants,omitempty"`
	// Clear rebuilds into a new generation.
	Clear bool `json:"clear,omitempty"`
	// OnlyNew skips entities that are already indexed.
	OnlyNew bool `json:"only_new,omitempty"`
}

// ReindexResult reports how many entities were scheduled.
type ReindexResult struct {
	Scheduled int `json:"scheduled"`
}

// StatusResult describes the serving process.
type StatusResult struct {
	Running     bool                `json:"running"`
	PID         int                 `json:"pid"`
	Uptime      string              `json:"uptime"`
	Indexing    index.Stats         `json:"indexing"`
	Directories []search.HandleInfo `json:"directories"`
	Queries     *telemetry.Snapshot `json:"queries,omitempty"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
