// Package search manages read handles over the configured index directories
// and runs federated queries across them.
package search

import (
	"log/slog"
	"sync"

	"github.com/xwiki/xwiki-platform-sub060/internal/entity"
	wserrors "github.com/xwiki/xwiki-platform-sub060/internal/errors"
	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

// SnapshotSource hands out published snapshots of the directory this process
// writes. *store.Engine implements it.
type SnapshotSource interface {
	Dir() string
	OpenSnapshot() (*store.Snapshot, error)
}

// Opener opens the published generation of a directory owned by someone else.
type Opener func(dir string) (*store.Snapshot, error)

// PoolOptions configures a Pool.
type PoolOptions struct {
	// Writer supplies snapshots of the first directory. Nil opens every
	// directory with Open.
	Writer SnapshotSource
	// Open defaults to store.OpenReadOnly.
	Open     Opener
	Registry *entity.FieldRegistry
	Logger   *slog.Logger
}

// Pool holds one snapshot per configured index directory. Readers Acquire a
// lease; writers Swap in new snapshots. A swapped-out snapshot stays open
// until the last lease on it is released.
type Pool struct {
	mu      sync.Mutex
	dirs    []string
	handles map[string]*store.Snapshot
	closed  bool

	writer   SnapshotSource
	open     Opener
	registry *entity.FieldRegistry
	logger   *slog.Logger
}

// NewPool opens every directory in dirs. The first one is the writer's own
// when opts.Writer is set. Directories that cannot be opened are logged and
// left out until Reopen succeeds.
func NewPool(dirs []string, opts PoolOptions) (*Pool, error) {
	if len(dirs) == 0 {
		return nil, wserrors.New(wserrors.ErrCodeNoIndexDirs, "no index directory configured", nil).
			WithSuggestion("set index.dirs in wikisearch.yaml")
	}

	p := &Pool{
		dirs:     append([]string(nil), dirs...),
		handles:  make(map[string]*store.Snapshot, len(dirs)),
		writer:   opts.Writer,
		open:     opts.Open,
		registry: opts.Registry,
		logger:   logging.OrDefault(opts.Logger),
	}
	if p.open == nil {
		p.open = func(dir string) (*store.Snapshot, error) {
			return store.OpenReadOnly(dir, p.logger)
		}
	}
	if p.registry == nil {
		p.registry = entity.NewFieldRegistry()
	}

	for _, dir := range p.dirs {
		snap, err := p.openDir(dir)
		if err != nil {
			p.logger.Warn("directory_open_failed", wserrors.LogAttrs(err)...)
			continue
		}
		p.handles[dir] = snap
		p.seed(snap)
	}
	return p, nil
}

func (p *Pool) isWriterDir(dir string) bool {
	return p.writer != nil && p.writer.Dir() == dir
}

func (p *Pool) openDir(dir string) (*store.Snapshot, error) {
	if p.isWriterDir(dir) {
		snap, err := p.writer.OpenSnapshot()
		if err != nil {
			return nil, wserrors.DirectoryOpenError(dir, err)
		}
		return snap, nil
	}
	snap, err := p.open(dir)
	if err != nil {
		return nil, wserrors.DirectoryOpenError(dir, err)
	}
	return snap, nil
}

func (p *Pool) seed(snap *store.Snapshot) {
	fields, err := snap.Fields()
	if err != nil {
		p.logger.Debug("field_listing_failed", slog.String("dir", snap.Dir()), slog.String("error", err.Error()))
		return
	}
	p.registry.AddIndexed(fields...)
}

// Registry returns the field registry seeded from the open handles.
func (p *Pool) Registry() *entity.FieldRegistry { return p.registry }

// Dirs returns the configured directories in order.
func (p *Pool) Dirs() []string {
	return append([]string(nil), p.dirs...)
}

// Manages reports whether dir is one of the configured directories.
func (p *Pool) Manages(dir string) bool {
	for _, d := range p.dirs {
		if d == dir {
			return true
		}
	}
	return false
}

// Acquire leases every open handle. The caller must Release the lease.
func (p *Pool) Acquire() *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := &Lease{}
	if p.closed {
		return l
	}
	for _, dir := range p.dirs {
		h, ok := p.handles[dir]
		if ok && h.Retain() {
			l.handles = append(l.handles, h)
		}
	}
	return l
}

// acquireDirs leases the handles of the given managed directories.
func (p *Pool) acquireDirs(dirs []string) *Lease {
	p.mu.Lock()
	defer p.mu.Unlock()

	l := &Lease{}
	if p.closed {
		return l
	}
	for _, dir := range dirs {
		if h, ok := p.handles[dir]; ok && h.Retain() {
			l.handles = append(l.handles, h)
		}
	}
	return l
}

// Swap installs snap as the handle for dir, taking over the caller's
// reference. The pool's reference on the previous handle is released.
func (p *Pool) Swap(dir string, snap *store.Snapshot) error {
	if !p.Manages(dir) {
		snap.Release()
		return wserrors.ValidationError("directory is not part of the pool: "+dir, nil).WithDetail("dir", dir)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		snap.Release()
		return wserrors.New(wserrors.ErrCodeWorkerStopped, "searcher pool is closed", nil)
	}
	old := p.handles[dir]
	p.handles[dir] = snap
	p.mu.Unlock()

	p.seed(snap)
	if old != nil && old != snap {
		old.Release()
	} else if old == snap {
		// Same snapshot handed back: keep a single pool reference.
		snap.Release()
	}

	p.logger.Info("searcher_swapped",
		slog.String("dir", dir),
		slog.Int("generation", snap.Generation()))
	return nil
}

// Reopen reloads dir if its published generation changed, or if it is not
// currently open. It is a no-op when the open handle is up to date.
func (p *Pool) Reopen(dir string) error {
	if !p.Manages(dir) {
		return wserrors.ValidationError("directory is not part of the pool: "+dir, nil).WithDetail("dir", dir)
	}

	if !p.isWriterDir(dir) {
		gen, err := store.PublishedGeneration(dir)
		if err == nil && gen > 0 && p.generation(dir) == gen {
			return nil
		}
	}

	snap, err := p.openDir(dir)
	if err != nil {
		p.logger.Warn("directory_open_failed", wserrors.LogAttrs(err)...)
		return err
	}
	return p.Swap(dir, snap)
}

func (p *Pool) generation(dir string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.handles[dir]; ok {
		return h.Generation()
	}
	return 0
}

// HandleInfo describes one open handle.
type HandleInfo struct {
	Dir        string `json:"dir"`
	Generation int    `json:"generation"`
	Docs       uint64 `json:"docs"`
	Open       bool   `json:"open"`
}

// Handles describes every configured directory, open or not.
func (p *Pool) Handles() []HandleInfo {
	lease := p.Acquire()
	defer lease.Release()

	open := make(map[string]*store.Snapshot, len(lease.handles))
	for _, h := range lease.handles {
		open[h.Dir()] = h
	}
	out := make([]HandleInfo, 0, len(p.dirs))
	for _, dir := range p.dirs {
		info := HandleInfo{Dir: dir}
		if h, ok := open[dir]; ok {
			info.Open = true
			info.Generation = h.Generation()
			info.Docs, _ = h.DocCount()
		}
		out = append(out, info)
	}
	return out
}

// Close releases the pool's references. Outstanding leases stay valid.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	handles := p.handles
	p.handles = nil
	p.mu.Unlock()

	for _, h := range handles {
		h.Release()
	}
}

// Lease is a set of retained snapshots. Release it exactly once.
type Lease struct {
	handles []*store.Snapshot
	once    sync.Once
}

// Handles returns the leased snapshots.
func (l *Lease) Handles() []*store.Snapshot { return l.handles }

// Release drops the lease's references.
func (l *Lease) Release() {
	l.once.Do(func() {
		for _, h := range l.handles {
			h.Release()
		}
	})
}
