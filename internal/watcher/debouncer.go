package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Debouncer coalesces change notifications per directory. A directory
// reported several times within the window is emitted once, when the
// window has passed without further reports.
type Debouncer struct {
	window  time.Duration
	pending map[string]struct{}
	mu      sync.Mutex
	output  chan []string
	timer   *time.Timer
	stopped bool
	logger  *slog.Logger
}

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration, logger *slog.Logger) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]struct{}),
		output:  make(chan []string, 10),
		logger:  logger,
	}
}

// Add reports a change in dir.
func (d *Debouncer) Add(dir string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[dir] = struct{}{}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	dirs := make([]string, 0, len(d.pending))
	for dir := range d.pending {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	d.pending = make(map[string]struct{})

	select {
	case d.output <- dirs:
	default:
		// The consumer is behind; the next change will be reported again.
		d.logger.Warn("debouncer_output_full", slog.Int("dirs", len(dirs)))
	}
}

// Output returns the channel of debounced directory batches.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call more
// than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
