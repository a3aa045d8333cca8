package index

import (
	"sync"
	"time"
)

// State is the indexing worker state.
type State string

const (
	// StateIdle means the queue is empty and nothing is waiting to be committed.
	StateIdle State = "idle"
	// StateDraining means entities are being taken off the queue.
	StateDraining State = "draining"
	// StateWriting means documents are staged and a commit is due.
	StateWriting State = "writing"
	// StateCommitted is entered after each commit.
	StateCommitted State = "committed"
	// StateStopped means the worker has exited.
	StateStopped State = "stopped"
)

// Stats is an immutable snapshot of worker counters.
type Stats struct {
	State         State     `json:"state"`
	Generation    int       `json:"generation"`
	QueueDepth    int       `json:"queue_depth"`
	Processed     uint64    `json:"processed"`
	FailedBuilds  uint64    `json:"failed_builds"`
	FailedWrites  uint64    `json:"failed_writes"`
	FailedCommits uint64    `json:"failed_commits"`
	Commits       uint64    `json:"commits"`
	LastCommit    time.Time `json:"last_commit,omitempty"`
	Rebuilding    bool      `json:"rebuilding"`
}

// statsTracker holds the counters the worker goroutine updates and readers
// copy out.
type statsTracker struct {
	mu sync.RWMutex

	state         State
	generation    int
	processed     uint64
	failedBuilds  uint64
	failedWrites  uint64
	failedCommits uint64
	commits       uint64
	lastCommit    time.Time
	rebuilding    bool
}

func newStatsTracker(gen int) *statsTracker {
	return &statsTracker{state: StateIdle, generation: gen}
}

func (s *statsTracker) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *statsTracker) setGeneration(gen int, rebuilding bool) {
	s.mu.Lock()
	s.generation = gen
	s.rebuilding = rebuilding
	s.mu.Unlock()
}

func (s *statsTracker) processedOne(ok bool) {
	s.mu.Lock()
	s.processed++
	if !ok {
		s.failedBuilds++
	}
	s.mu.Unlock()
}

// writeFailed counts an entity whose document was built but could not be
// staged in the engine.
func (s *statsTracker) writeFailed() {
	s.mu.Lock()
	s.processed++
	s.failedWrites++
	s.mu.Unlock()
}

func (s *statsTracker) committed(ok bool, at time.Time) {
	s.mu.Lock()
	if ok {
		s.commits++
		s.lastCommit = at
	} else {
		s.failedCommits++
	}
	s.state = StateCommitted
	s.mu.Unlock()
}

func (s *statsTracker) snapshot(depth int) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		State:         s.state,
		Generation:    s.generation,
		QueueDepth:    depth,
		Processed:     s.processed,
		FailedBuilds:  s.failedBuilds,
		FailedWrites:  s.failedWrites,
		FailedCommits: s.failedCommits,
		Commits:       s.commits,
		LastCommit:    s.lastCommit,
		Rebuilding:    s.rebuilding,
	}
}
