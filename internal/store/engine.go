// Package store owns the on-disk indexes. An index directory holds numbered
// bleve generations and a CURRENT file naming the one readers should use:
//
//	<dir>/CURRENT        "gen-000002"
//	<dir>/write.lock     held by the single writer process
//	<dir>/gen-000002/    bleve (scorch) index
//
// A rebuild writes a fresh generation next to the live one and publishes it
// by rewriting CURRENT, so searches never see a half-built index.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
)

// Options configures an Engine.
type Options struct {
	// Analyzer is one of standard, simple, en or keyword.
	Analyzer string
	Logger   *slog.Logger
}

// Engine is the write side of one index directory. It is owned by the
// indexing worker and must not be written from other goroutines; the
// snapshot accessors are safe for concurrent use.
type Engine struct {
	dir     string
	logger  *slog.Logger
	lock    *dirLock
	mapping *mapping.IndexMappingImpl
	conv    *converter

	mu      sync.Mutex
	gen     int
	idx     bleve.Index
	batch   *bleve.Batch
	pending []string
	inBatch map[string]struct{}
	current *Snapshot
	fresh   bool
	closed  bool
}

// OpenEngine opens dir for writing. A missing or corrupt active generation
// is replaced by an empty one and Fresh reports true so the caller can
// schedule a rebuild. Leftover generations are removed.
func OpenEngine(dir string, opts Options) (*Engine, error) {
	logger := logging.OrDefault(opts.Logger)

	m, err := NewIndexMapping(opts.Analyzer)
	if err != nil {
		return nil, wserrors.ConfigurationError("invalid analyzer", err)
	}
	conv, err := newConverter(m)
	if err != nil {
		return nil, wserrors.ConfigurationError("invalid analyzer", err)
	}

	lock, err := lockDir(dir)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		dir:     dir,
		logger:  logger,
		lock:    lock,
		mapping: m,
		conv:    conv,
		inBatch: make(map[string]struct{}),
	}
	if err := e.openActive(); err != nil {
		_ = lock.unlock()
		return nil, err
	}
	e.removeStaleGenerations()
	return e, nil
}

func (e *Engine) genPath(gen int) string {
	return filepath.Join(e.dir, genDirName(gen))
}

func (e *Engine) openActive() error {
	gen, err := readCurrent(e.dir)
	if err != nil {
		e.logCorruption(0, err)
	}

	if gen > 0 {
		path := e.genPath(gen)
		if verr := validateIndexIntegrity(path); verr != nil {
			e.logCorruption(gen, verr)
		} else {
			idx, oerr := bleve.Open(path)
			switch {
			case oerr == nil:
				e.gen, e.idx = gen, idx
				e.current = e.snapshotFor(gen, idx)
				e.logger.Info("index_opened",
					slog.String("dir", e.dir),
					slog.Int("generation", gen))
				return nil
			case isCorruptionError(oerr):
				e.logCorruption(gen, oerr)
			default:
				return wserrors.DirectoryOpenError(e.dir, oerr).WithDetail("generation", strconv.Itoa(gen))
			}
		}
	}

	next, err := e.nextGeneration(gen)
	if err != nil {
		return wserrors.DirectoryOpenError(e.dir, err)
	}
	idx, err := e.createGeneration(next)
	if err != nil {
		return wserrors.DirectoryOpenError(e.dir, err)
	}
	if err := writeCurrent(e.dir, next); err != nil {
		_ = idx.Close()
		return wserrors.DirectoryOpenError(e.dir, err)
	}

	e.gen, e.idx, e.fresh = next, idx, true
	e.current = e.snapshotFor(next, idx)
	e.logger.Info("index_created",
		slog.String("dir", e.dir),
		slog.Int("generation", next))
	return nil
}

func (e *Engine) logCorruption(gen int, cause error) {
	err := wserrors.New(wserrors.ErrCodeCorruptIndex, "index generation is unusable, starting a new one", cause).
		WithDetail("dir", e.dir).
		WithDetail("generation", strconv.Itoa(gen))
	e.logger.Warn("index_corrupted", wserrors.LogAttrs(err)...)
}

// nextGeneration returns a number above every generation on disk and above floor.
func (e *Engine) nextGeneration(floor int) (int, error) {
	gens, err := listGenerations(e.dir)
	if err != nil {
		return 0, err
	}
	next := floor
	for _, g := range gens {
		if g > next {
			next = g
		}
	}
	return next + 1, nil
}

func (e *Engine) createGeneration(gen int) (bleve.Index, error) {
	path := e.genPath(gen)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to clear %s: %w", path, err)
	}
	idx, err := bleve.New(path, e.mapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create generation %d: %w", gen, err)
	}
	return idx, nil
}

// snapshotFor wraps a generation owned by this engine. When the snapshot
// closes after being superseded, the generation is deleted.
func (e *Engine) snapshotFor(gen int, idx bleve.Index) *Snapshot {
	path := e.genPath(gen)
	return newSnapshot(e.dir, gen, idx, e.logger, func(retired bool) error {
		err := idx.Close()
		if retired {
			if rerr := os.RemoveAll(path); rerr != nil && err == nil {
				err = rerr
			}
		}
		return err
	})
}

func (e *Engine) removeStaleGenerations() {
	gens, err := listGenerations(e.dir)
	if err != nil {
		return
	}
	for _, g := range gens {
		if g == e.gen {
			continue
		}
		if err := os.RemoveAll(e.genPath(g)); err != nil {
			e.logger.Warn("stale_generation_remove_failed",
				slog.String("dir", e.dir),
				slog.Int("generation", g),
				slog.String("error", err.Error()))
			continue
		}
		e.logger.Debug("stale_generation_removed", slog.String("dir", e.dir), slog.Int("generation", g))
	}
}

// Dir returns the index directory.
func (e *Engine) Dir() string { return e.dir }

// Fresh reports whether the active generation was created empty when the
// engine opened, because none existed or the old one was corrupt.
func (e *Engine) Fresh() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fresh
}

// Generation returns the generation currently being written.
func (e *Engine) Generation() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gen
}

// PublishedGeneration returns the generation named by CURRENT.
func (e *Engine) PublishedGeneration() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current.Generation()
}

// Upsert stages doc. Writing the same id again replaces the staged version;
// after commit it replaces the indexed one.
func (e *Engine) Upsert(doc *entity.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	if err := e.stagedBatch().IndexAdvanced(e.conv.convert(doc)); err != nil {
		return wserrors.New(wserrors.ErrCodeIndexFailed, "failed to stage document", err).WithDetail("id", doc.ID)
	}
	e.track(doc.ID)
	return nil
}

// Delete stages removal of id.
func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errEngineClosed
	}
	e.stagedBatch().Delete(id)
	e.track(id)
	return nil
}

func (e *Engine) stagedBatch() *bleve.Batch {
	if e.batch == nil {
		e.batch = e.idx.NewBatch()
	}
	return e.batch
}

func (e *Engine) track(id string) {
	if _, ok := e.inBatch[id]; ok {
		return
	}
	e.inBatch[id] = struct{}{}
	e.pending = append(e.pending, id)
}

// Pending returns the number of distinct ids staged since the last commit.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Commit applies the staged batch to the generation being written and
// returns the ids it contained. On failure the batch is dropped and the ids
// are returned with a retryable error; nothing is retried here.
func (e *Engine) Commit() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}
	return e.commitLocked()
}

func (e *Engine) commitLocked() ([]string, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}

	ids := e.pending
	batch := e.batch
	e.batch, e.pending = nil, nil
	e.inBatch = make(map[string]struct{})

	if err := e.idx.Batch(batch); err != nil {
		return ids, wserrors.TransientIndexError("failed to commit batch", err).
			WithDetail("dir", e.dir).
			WithDetail("generation", strconv.Itoa(e.gen)).
			WithDetail("docs", strconv.Itoa(len(ids)))
	}
	return ids, nil
}

// BeginGeneration starts writing a new, empty generation. Staged writes are
// committed to the previous one first. Readers keep using the published
// generation until Publish. An unpublished generation from an earlier
// BeginGeneration is discarded.
func (e *Engine) BeginGeneration() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errEngineClosed
	}

	if _, err := e.commitLocked(); err != nil {
		e.logger.Warn("commit_failed", wserrors.LogAttrs(err)...)
	}
	e.discardUnpublishedLocked()

	next, err := e.nextGeneration(e.gen)
	if err != nil {
		return 0, wserrors.DirectoryOpenError(e.dir, err)
	}
	idx, err := e.createGeneration(next)
	if err != nil {
		return 0, wserrors.New(wserrors.ErrCodeIndexFailed, "failed to begin generation", err).WithDetail("dir", e.dir)
	}
	e.gen, e.idx = next, idx

	e.logger.Info("generation_started",
		slog.String("dir", e.dir),
		slog.Int("generation", next),
		slog.Int("published", e.current.Generation()))
	return next, nil
}

func (e *Engine) building() bool {
	return e.idx != e.current.index
}

func (e *Engine) discardUnpublishedLocked() {
	if !e.building() {
		return
	}
	gen := e.gen
	_ = e.idx.Close()
	_ = os.RemoveAll(e.genPath(gen))
	e.idx, e.gen = e.current.index, e.current.Generation()
	e.logger.Info("generation_discarded", slog.String("dir", e.dir), slog.Int("generation", gen))
}

// Publish makes the generation being written the active one: CURRENT is
// rewritten and a snapshot for it is returned with one reference owned by
// the caller. The previous snapshot is retired; it closes and its files are
// removed once its last reader releases it. Publishing when no new
// generation is being written returns the current snapshot.
func (e *Engine) Publish() (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}

	if !e.building() {
		e.current.Retain()
		return e.current, nil
	}

	if err := writeCurrent(e.dir, e.gen); err != nil {
		return nil, wserrors.New(wserrors.ErrCodeIndexFailed, "failed to publish generation", err).
			WithDetail("dir", e.dir).
			WithDetail("generation", strconv.Itoa(e.gen))
	}

	old := e.current
	e.current = e.snapshotFor(e.gen, e.idx)
	e.fresh = false
	old.retire()
	old.Release()

	e.logger.Info("generation_published",
		slog.String("dir", e.dir),
		slog.Int("generation", e.gen),
		slog.Int("previous", old.Generation()))

	e.current.Retain()
	return e.current, nil
}

// OpenSnapshot returns the published snapshot with one reference owned by
// the caller.
func (e *Engine) OpenSnapshot() (*Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}
	if !e.current.Retain() {
		return nil, wserrors.New(wserrors.ErrCodeNoGeneration, "published snapshot is closed", nil).WithDetail("dir", e.dir)
	}
	return e.current, nil
}

// existsBatch bounds the ids looked up per search in Existing.
const existsBatch = 512

// Existing reports which of ids have a committed document in the generation
// being written. Staged but uncommitted documents are not seen.
func (e *Engine) Existing(ctx context.Context, ids []string) (map[string]bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errEngineClosed
	}

	found := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += existsBatch {
		end := min(start+existsBatch, len(ids))
		req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery(ids[start:end]), end-start, 0, false)
		res, err := e.idx.SearchInContext(ctx, req)
		if err != nil {
			return nil, wserrors.TransientIndexError("failed to look up document ids", err).WithDetail("dir", e.dir)
		}
		for _, h := range res.Hits {
			found[h.ID] = true
		}
	}
	return found, nil
}

// DocCount returns the number of committed documents in the generation
// being written.
func (e *Engine) DocCount() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, errEngineClosed
	}
	return e.idx.DocCount()
}

// Close drops uncommitted writes and any unpublished generation, releases the
// engine's reference on the published snapshot and unlocks the directory.
// Snapshots still held by readers stay usable until released.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	if n := len(e.pending); n > 0 {
		e.logger.Warn("uncommitted_writes_dropped", slog.String("dir", e.dir), slog.Int("count", n))
	}
	e.discardUnpublishedLocked()
	e.current.Release()
	return e.lock.unlock()
}

var errEngineClosed = wserrors.New(wserrors.ErrCodeWorkerStopped, "index engine is closed", nil)
