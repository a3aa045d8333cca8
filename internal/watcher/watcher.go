package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

// Defaults for Options.
const (
	DefaultDebounce     = 200 * time.Millisecond
	DefaultPollInterval = 2 * time.Second
)

// Reopener reloads a directory whose published generation changed.
// *search.Pool implements it.
type Reopener interface {
	Reopen(dir string) error
}

// Options configures a Watcher.
type Options struct {
	Debounce     time.Duration
	PollInterval time.Duration
	// PollOnly skips fsnotify and polls every directory.
	PollOnly bool
	Logger   *slog.Logger
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	o.Logger = logging.OrDefault(o.Logger)
	return o
}

// Watcher reopens foreign index directories when their CURRENT file changes.
type Watcher struct {
	reopener  Reopener
	opts      Options
	debouncer *Debouncer

	mu      sync.Mutex
	watched []string
	polled  map[string]int // dir -> last seen generation
	stopCh  chan struct{}
	stopped bool
}

// New creates a watcher that calls reopener.
func New(reopener Reopener, opts Options) *Watcher {
	opts = opts.WithDefaults()
	return &Watcher{
		reopener:  reopener,
		opts:      opts,
		debouncer: NewDebouncer(opts.Debounce, opts.Logger),
		polled:    make(map[string]int),
		stopCh:    make(chan struct{}),
	}
}

// Run watches dirs until ctx is done or Stop is called. Directories missing at
// startup are polled until their writer publishes a first generation.
func (w *Watcher) Run(ctx context.Context, dirs []string) error {
	defer w.debouncer.Stop()

	var fsw *fsnotify.Watcher
	if !w.opts.PollOnly {
		var err error
		fsw, err = fsnotify.NewWatcher()
		if err != nil {
			w.opts.Logger.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
			fsw = nil
		} else {
			defer fsw.Close()
		}
	}

	for _, dir := range dirs {
		w.add(fsw, dir)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	var fsErrors <-chan error
	if fsw != nil {
		fsEvents, fsErrors = fsw.Events, fsw.Errors
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if filepath.Base(ev.Name) == store.CurrentFileName && ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.debouncer.Add(filepath.Dir(ev.Name))
			}
		case err, ok := <-fsErrors:
			if !ok {
				fsErrors = nil
				continue
			}
			w.opts.Logger.Warn("watch_error", slog.String("error", err.Error()))
		case <-ticker.C:
			w.poll()
		case dirs, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			for _, dir := range dirs {
				w.reopen(dir)
			}
		}
	}
}

func (w *Watcher) add(fsw *fsnotify.Watcher, dir string) {
	if _, err := os.Stat(dir); err != nil {
		w.opts.Logger.Warn("watch_deferred_to_polling", wserrors.LogAttrs(wserrors.DirectoryOpenError(dir, err))...)
		w.mu.Lock()
		w.polled[dir] = 0
		w.mu.Unlock()
		return
	}

	if fsw != nil {
		err := fsw.Add(dir)
		if err == nil {
			w.mu.Lock()
			w.watched = append(w.watched, dir)
			w.mu.Unlock()
			return
		}
		w.opts.Logger.Info("watch_fallback_to_polling", slog.String("dir", dir), slog.String("error", err.Error()))
	}

	gen, _ := store.PublishedGeneration(dir)
	w.mu.Lock()
	w.polled[dir] = gen
	w.mu.Unlock()
}

func (w *Watcher) poll() {
	w.mu.Lock()
	var changed []string
	for dir, last := range w.polled {
		gen, err := store.PublishedGeneration(dir)
		if err != nil || gen == last {
			continue
		}
		w.polled[dir] = gen
		changed = append(changed, dir)
	}
	w.mu.Unlock()

	for _, dir := range changed {
		w.debouncer.Add(dir)
	}
}

func (w *Watcher) reopen(dir string) {
	if err := w.reopener.Reopen(dir); err != nil {
		w.opts.Logger.Warn("reopen_failed", append(wserrors.LogAttrs(err), slog.String("dir", dir))...)
		return
	}
	w.opts.Logger.Debug("directory_reopened", slog.String("dir", dir))
}

// Watched returns the directories watched with fsnotify.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.watched...)
}

// Polled returns the directories watched by polling.
func (w *Watcher) Polled() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.polled))
	for dir := range w.polled {
		out = append(out, dir)
	}
	return out
}

// Stop ends Run. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.stopCh)
	}
}
