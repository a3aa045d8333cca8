package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
)

// Snapshot is a reference-counted read handle on one generation of one index
// directory. A snapshot is never mutated: a rebuild produces a new one. The
// underlying index closes when the last reference is released.
type Snapshot struct {
	dir        string
	generation int
	index      bleve.Index

	refs    atomic.Int64
	retired atomic.Bool
	// onClose runs once after the last release. It receives retired.
	onClose func(retired bool) error
	once    sync.Once
	logger  *slog.Logger
}

func newSnapshot(dir string, gen int, idx bleve.Index, logger *slog.Logger, onClose func(bool) error) *Snapshot {
	s := &Snapshot{dir: dir, generation: gen, index: idx, onClose: onClose, logger: logger}
	s.refs.Store(1)
	return s
}

// Dir is the index directory the snapshot belongs to.
func (s *Snapshot) Dir() string { return s.dir }

// Generation is the generation number the snapshot reads.
func (s *Snapshot) Generation() int { return s.generation }

// Refs returns the current reference count.
func (s *Snapshot) Refs() int64 { return s.refs.Load() }

// Closed reports whether the snapshot has been closed.
func (s *Snapshot) Closed() bool { return s.refs.Load() <= 0 }

// Retain adds a reference. It fails once the snapshot has closed.
func (s *Snapshot) Retain() bool {
	for {
		n := s.refs.Load()
		if n <= 0 {
			return false
		}
		if s.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference, closing the snapshot when none remain.
func (s *Snapshot) Release() {
	n := s.refs.Add(-1)
	switch {
	case n == 0:
		s.close()
	case n < 0:
		s.logger.Error("snapshot_over_released",
			slog.String("dir", s.dir),
			slog.Int("generation", s.generation))
	}
}

// retire marks the snapshot as superseded. Its generation is deleted from
// disk when it closes.
func (s *Snapshot) retire() {
	s.retired.Store(true)
}

func (s *Snapshot) close() {
	s.once.Do(func() {
		if s.onClose == nil {
			return
		}
		if err := s.onClose(s.retired.Load()); err != nil {
			s.logger.Warn("snapshot_close_failed",
				slog.String("dir", s.dir),
				slog.Int("generation", s.generation),
				slog.String("error", err.Error()))
			return
		}
		s.logger.Debug("snapshot_closed",
			slog.String("dir", s.dir),
			slog.Int("generation", s.generation),
			slog.Bool("retired", s.retired.Load()))
	})
}

// Search runs req against this generation. The caller must hold a reference.
func (s *Snapshot) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	if s.Closed() {
		return nil, fmt.Errorf("snapshot %s generation %d is closed", s.dir, s.generation)
	}
	return s.index.SearchInContext(ctx, req)
}

// DocCount returns the number of documents in this generation.
func (s *Snapshot) DocCount() (uint64, error) {
	return s.index.DocCount()
}

// Fields returns the field names present in this generation.
func (s *Snapshot) Fields() ([]string, error) {
	return s.index.Fields()
}
