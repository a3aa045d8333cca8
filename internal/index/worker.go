// Package index runs the single background writer that drains the entity
// queue into an index directory, and the Service producers talk to.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/queue"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

// Defaults for WorkerConfig.
const (
	DefaultBatchSize   = 100
	DefaultCommitDelay = time.Second
)

// Engine is the write side of an index directory. *store.Engine implements
// it. Only the worker goroutine calls it.
type Engine interface {
	Dir() string
	Fresh() bool
	Generation() int
	Upsert(doc *entity.Document) error
	Delete(id string) error
	Pending() int
	Commit() ([]string, error)
	BeginGeneration() (int, error)
	Publish() (*store.Snapshot, error)
	Existing(ctx context.Context, ids []string) (map[string]bool, error)
}

// DocumentBuilder turns an entity into a document. A nil document with a nil
// error means the entity's id must be deleted. *entity.Builder implements it.
type DocumentBuilder interface {
	Build(ctx context.Context, e entity.Entity) (*entity.Document, error)
}

// Publisher installs a newly published snapshot for a directory, taking over
// the snapshot reference. *search.Pool implements it.
type Publisher interface {
	Swap(dir string, snap *store.Snapshot) error
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// BatchSize is the number of staged documents that forces a commit.
	BatchSize int
	// CommitDelay is how long staged documents wait for more work before
	// being committed. Zero commits as soon as the queue is empty.
	CommitDelay time.Duration
	// OnCommitFailure receives the ids of a batch that failed to commit.
	// Re-enqueueing them is up to the hook.
	OnCommitFailure func(ids []string, err error)
	Logger          *slog.Logger
}

var errWorkerStopped = wserrors.New(wserrors.ErrCodeWorkerStopped, "indexing worker is stopped", nil)

type rebuildRequest struct {
	clear    bool
	entities []entity.Entity
	done     chan rebuildResult
}

type rebuildResult struct {
	scheduled int
	err       error
}

// Worker is the single consumer of the entity queue and the only writer of
// its Engine.
type Worker struct {
	cfg       WorkerConfig
	engine    Engine
	builder   DocumentBuilder
	publisher Publisher
	logger    *slog.Logger

	queue    *queue.Queue[entity.Entity]
	rebuilds chan rebuildRequest
	stats    *statsTracker

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}

	// Owned by the worker goroutine.
	awaiting     bool   // a begun generation waits to be published
	publishAfter string // id whose dequeue makes the publish due
	publishDue   bool
	timer        *time.Timer
	timerC       <-chan time.Time
}

// NewWorker creates a stopped worker. publisher may be nil.
func NewWorker(engine Engine, builder DocumentBuilder, publisher Publisher, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.CommitDelay < 0 {
		cfg.CommitDelay = 0
	}
	return &Worker{
		cfg:       cfg,
		engine:    engine,
		builder:   builder,
		publisher: publisher,
		logger:    logging.OrDefault(cfg.Logger),
		queue:     queue.New(func(e entity.Entity) string { return e.ID() }),
		rebuilds:  make(chan rebuildRequest),
		stats:     newStatsTracker(engine.Generation()),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start runs the worker loop in a new goroutine. Later calls do nothing.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		go w.run(ctx)
	})
}

// Add queues e, replacing a pending entity with the same id. It reports
// whether a pending entity was replaced.
func (w *Worker) Add(e entity.Entity) bool {
	return w.queue.Add(e)
}

// QueueDepth returns the number of pending entities.
func (w *Worker) QueueDepth() int {
	return w.queue.Len()
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return w.stats.snapshot(w.queue.Len())
}

// Done is closed when the worker loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.doneCh
}

// Rebuild hands entities to the worker. With clear, the pending queue is
// dropped, a new generation is begun and published once the last scheduled
// entity is committed. It returns the number of entities scheduled.
func (w *Worker) Rebuild(ctx context.Context, entities []entity.Entity, clear bool) (int, error) {
	req := rebuildRequest{clear: clear, entities: entities, done: make(chan rebuildResult, 1)}

	select {
	case w.rebuilds <- req:
	case <-w.doneCh:
		return 0, errWorkerStopped
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case res := <-req.done:
		return res.scheduled, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Stop asks the worker to finish its current batch, commit and exit, and
// waits for it or for ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	// A worker that never started has nothing to finish.
	w.startOnce.Do(func() { close(w.doneCh) })
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitIdle blocks until the queue is empty and everything staged has been
// committed and published.
func (w *Worker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		if w.queue.IsEmpty() && w.stats.snapshot(0).State == StateIdle {
			return nil
		}
		select {
		case <-ticker.C:
		case <-w.doneCh:
			if w.queue.IsEmpty() {
				return nil
			}
			return errWorkerStopped
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	w.logger.Info("worker_started",
		slog.String("dir", w.engine.Dir()),
		slog.Int("generation", w.engine.Generation()),
		slog.Int("batch_size", w.cfg.BatchSize),
		slog.Duration("commit_delay", w.cfg.CommitDelay))

	for {
		select {
		case <-ctx.Done():
			w.finish("context_done")
			return
		case <-w.stopCh:
			w.finish("stop_requested")
			return
		case req := <-w.rebuilds:
			w.handleRebuild(req)
		case <-w.queue.Ready():
			w.drain(ctx)
		case <-w.timerC:
			w.timerC = nil
			w.commit()
		}
	}
}

func (w *Worker) stopping(ctx context.Context) bool {
	select {
	case <-w.stopCh:
		return true
	default:
		return ctx.Err() != nil
	}
}

// drain processes at most one batch worth of entities, then yields back to
// the loop so stop and rebuild requests are seen.
func (w *Worker) drain(ctx context.Context) {
	for n := 0; n < w.cfg.BatchSize && !w.stopping(ctx); n++ {
		w.stats.setState(StateDraining)
		e, ok := w.queue.TryRemove()
		if !ok {
			break
		}

		w.process(ctx, e)
		if w.awaiting && !w.publishDue && e.ID() == w.publishAfter {
			w.publishDue = true
		}
		if w.engine.Pending() >= w.cfg.BatchSize {
			w.commit()
		}
	}

	switch {
	case w.publishDue:
		w.commit()
	case w.engine.Pending() == 0:
		w.settle()
	case w.cfg.CommitDelay == 0 && w.queue.IsEmpty():
		w.commit()
	default:
		w.stats.setState(StateWriting)
		w.armTimer()
	}
}

func (w *Worker) process(ctx context.Context, e entity.Entity) {
	defer func() {
		if r := recover(); r != nil {
			w.stats.processedOne(false)
			w.logger.Error("document_build_panic",
				slog.String("id", e.ID()),
				slog.String("panic", fmt.Sprint(r)))
		}
	}()

	doc, err := w.builder.Build(ctx, e)
	if err != nil {
		w.stats.processedOne(false)
		w.logger.Warn("document_build_failed",
			slog.String("id", e.ID()),
			slog.String("kind", string(e.Kind())),
			slog.String("error", err.Error()))
		return
	}

	w.stats.setState(StateWriting)
	if doc == nil {
		err = w.engine.Delete(e.ID())
	} else {
		err = w.engine.Upsert(doc)
	}
	if err != nil {
		w.stats.writeFailed()
		w.logger.Warn("index_write_failed", append(wserrors.LogAttrs(err), slog.String("id", e.ID()))...)
		return
	}
	w.stats.processedOne(true)
}

// commit applies the staged batch, then publishes a finished rebuild.
func (w *Worker) commit() {
	w.stopTimer()

	ids, err := w.engine.Commit()
	switch {
	case err != nil:
		w.stats.committed(false, time.Now())
		w.logger.Warn("commit_failed", append(wserrors.LogAttrs(err), slog.Int("docs", len(ids)))...)
		if w.cfg.OnCommitFailure != nil {
			w.cfg.OnCommitFailure(ids, err)
		}
	case len(ids) > 0:
		w.stats.committed(true, time.Now())
		w.logger.Debug("batch_committed",
			slog.Int("docs", len(ids)),
			slog.Int("generation", w.engine.Generation()))
	}

	if w.publishDue {
		w.publish()
	}
	w.settle()
}

// settle marks the worker idle when nothing is left to do.
func (w *Worker) settle() {
	if w.queue.IsEmpty() && !w.awaiting && w.engine.Pending() == 0 {
		w.stats.setState(StateIdle)
	}
}

func (w *Worker) publish() {
	w.awaiting, w.publishDue, w.publishAfter = false, false, ""

	snap, err := w.engine.Publish()
	if err != nil {
		w.stats.setGeneration(w.engine.Generation(), false)
		w.logger.Error("publish_failed", wserrors.LogAttrs(err)...)
		return
	}
	w.stats.setGeneration(snap.Generation(), false)
	w.logger.Info("rebuild_published",
		slog.String("dir", w.engine.Dir()),
		slog.Int("generation", snap.Generation()))

	if w.publisher == nil {
		snap.Release()
		return
	}
	if err := w.publisher.Swap(w.engine.Dir(), snap); err != nil {
		w.logger.Warn("searcher_swap_failed", wserrors.LogAttrs(err)...)
	}
}

func (w *Worker) handleRebuild(req rebuildRequest) {
	if req.clear {
		w.commit()
		dropped := w.queue.Clear()
		gen, err := w.engine.BeginGeneration()
		if err != nil {
			w.logger.Error("rebuild_failed", wserrors.LogAttrs(err)...)
			req.done <- rebuildResult{err: err}
			return
		}
		w.awaiting, w.publishDue, w.publishAfter = true, false, ""
		w.stats.setGeneration(gen, true)
		w.logger.Info("rebuild_started",
			slog.String("dir", w.engine.Dir()),
			slog.Int("generation", gen),
			slog.Int("dropped", dropped))
	}

	scheduled := 0
	for _, e := range req.entities {
		if e == nil {
			continue
		}
		w.queue.Add(e)
		scheduled++
	}

	if req.clear {
		// Producers may add behind us; waiting for the tail only delays the
		// publish.
		if last, ok := w.queue.Last(); ok {
			w.publishAfter = last.ID()
		} else {
			w.publish()
		}
	}
	w.logger.Info("entities_scheduled", slog.Int("count", scheduled), slog.Bool("clear", req.clear))
	req.done <- rebuildResult{scheduled: scheduled}
}

// finish commits the current batch before the loop exits.
func (w *Worker) finish(reason string) {
	w.commit()
	w.stopTimer()

	if w.awaiting {
		w.logger.Warn("rebuild_abandoned",
			slog.String("dir", w.engine.Dir()),
			slog.Int("generation", w.engine.Generation()))
	}
	w.stats.setState(StateStopped)
	w.logger.Info("worker_stopped",
		slog.String("reason", reason),
		slog.Int("remaining", w.queue.Len()))
}

func (w *Worker) armTimer() {
	if w.timer == nil {
		w.timer = time.NewTimer(w.cfg.CommitDelay)
	} else {
		w.timer.Reset(w.cfg.CommitDelay)
	}
	w.timerC = w.timer.C
}

func (w *Worker) stopTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerC = nil
}
