// Package telemetry keeps in-memory statistics about the searches a server
// answers. Nothing is persisted or reported outside the process.
package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryMode is how a query expression addresses the index.
type QueryMode string

const (
	ModeFullText QueryMode = "fulltext"
	ModeMulti    QueryMode = "multi"
	ModeProperty QueryMode = "property"
)

// ModeOf classifies a raw query expression by its prefix.
func ModeOf(query string) QueryMode {
	q := strings.TrimSpace(query)
	switch {
	case strings.HasPrefix(q, "MULTI "):
		return ModeMulti
	case strings.HasPrefix(q, "PROP "):
		return ModeProperty
	default:
		return ModeFullText
	}
}

// LatencyBucket is a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one answered (or failed) search.
type QueryEvent struct {
	Query   string
	Hits    int
	Latency time.Duration
	// Failed is the number of directories that could not be searched.
	Failed int
	// Err is set when the search returned no result at all.
	Err error
}

// ring keeps the last n values.
type ring[T any] struct {
	items []T
	head  int
	size  int
}

func newRing[T any](n int) *ring[T] {
	return &ring[T]{items: make([]T, n)}
}

func (r *ring[T]) add(v T) {
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// values returns the stored values, oldest first.
func (r *ring[T]) values() []T {
	out := make([]T, 0, r.size)
	if r.size < len(r.items) {
		return append(out, r.items[:r.size]...)
	}
	out = append(out, r.items[r.head:]...)
	return append(out, r.items[:r.head]...)
}

// ExtractTerms returns the lowercased words of query worth counting. Operators,
// prefixes and words shorter than three characters are dropped.
func ExtractTerms(query string) []string {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, "MULTI ")
	if strings.HasPrefix(q, "PROP ") {
		if i := strings.IndexByte(q, ':'); i >= 0 {
			q = q[i+1:]
		}
	}

	var terms []string
	for _, w := range strings.Fields(q) {
		if w == "AND" || w == "OR" {
			continue
		}
		w = strings.ToLower(strings.Trim(w, `+-"()`))
		if i := strings.LastIndexByte(w, ':'); i >= 0 {
			w = w[i+1:]
		}
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term and how often it was searched.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the metrics.
type Snapshot struct {
	Since             time.Time               `json:"since"`
	TotalQueries      int64                   `json:"total_queries"`
	FailedQueries     int64                   `json:"failed_queries"`
	PartialQueries    int64                   `json:"partial_queries"`
	ZeroResultCount   int64                   `json:"zero_result_count"`
	Modes             map[QueryMode]int64     `json:"modes"`
	Latency           map[LatencyBucket]int64 `json:"latency"`
	TopTerms          []TermCount             `json:"top_terms"`
	ZeroResultQueries []string                `json:"zero_result_queries"`
}

// ZeroResultPercentage returns the share of queries without hits.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// Config sizes the bounded collections.
type Config struct {
	TopTermsCapacity    int // default 100
	ZeroResultsCapacity int // default 20
}

// QueryMetrics records search events. It is safe for concurrent use.
type QueryMetrics struct {
	mu sync.Mutex

	since       time.Time
	total       int64
	failed      int64
	partial     int64
	zero        int64
	modes       map[QueryMode]int64
	latency     map[LatencyBucket]int64
	terms       *lru.Cache[string, int64]
	zeroQueries *ring[string]
}

// NewQueryMetrics creates empty metrics.
func NewQueryMetrics(cfg Config) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 20
	}
	terms, _ := lru.New[string, int64](cfg.TopTermsCapacity)

	return &QueryMetrics{
		since:       time.Now(),
		modes:       make(map[QueryMode]int64),
		latency:     make(map[LatencyBucket]int64),
		terms:       terms,
		zeroQueries: newRing[string](cfg.ZeroResultsCapacity),
	}
}

// Record adds one event.
func (m *QueryMetrics) Record(ev QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	m.modes[ModeOf(ev.Query)]++
	m.latency[LatencyToBucket(ev.Latency)]++

	if ev.Err != nil {
		m.failed++
		return
	}
	if ev.Failed > 0 {
		m.partial++
	}
	for _, t := range ExtractTerms(ev.Query) {
		n, _ := m.terms.Get(t)
		m.terms.Add(t, n+1)
	}
	if ev.Hits == 0 {
		m.zero++
		m.zeroQueries.add(ev.Query)
	}
}

// Snapshot returns a copy of the current metrics. Top terms are limited to
// topN entries, most searched first.
func (m *QueryMetrics) Snapshot(topN int) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Since:             m.since,
		TotalQueries:      m.total,
		FailedQueries:     m.failed,
		PartialQueries:    m.partial,
		ZeroResultCount:   m.zero,
		Modes:             make(map[QueryMode]int64, len(m.modes)),
		Latency:           make(map[LatencyBucket]int64, len(m.latency)),
		ZeroResultQueries: m.zeroQueries.values(),
	}
	for k, v := range m.modes {
		s.Modes[k] = v
	}
	for k, v := range m.latency {
		s.Latency[k] = v
	}

	for _, term := range m.terms.Keys() {
		n, _ := m.terms.Peek(term)
		s.TopTerms = append(s.TopTerms, TermCount{Term: term, Count: n})
	}
	sort.SliceStable(s.TopTerms, func(i, j int) bool {
		if s.TopTerms[i].Count != s.TopTerms[j].Count {
			return s.TopTerms[i].Count > s.TopTerms[j].Count
		}
		return s.TopTerms[i].Term < s.TopTerms[j].Term
	})
	if topN > 0 && len(s.TopTerms) > topN {
		s.TopTerms = s.TopTerms[:topN]
	}
	return s
}
