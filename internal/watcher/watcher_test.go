package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xwiki/xwiki-platform-sub060/internal/logging"
	"github.com/xwiki/xwiki-platform-sub060/internal/store"
)

type recordingReopener struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingReopener) Reopen(dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dir)
	return nil
}

func (r *recordingReopener) count(dir string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == dir {
			n++
		}
	}
	return n
}

func publish(t *testing.T, dir, gen string) {
	t.Helper()
	tmp := filepath.Join(dir, store.CurrentFileName+".tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(gen+"\n"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, store.CurrentFileName)))
}

func startWatcher(t *testing.T, w *Watcher, dirs []string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, dirs)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestDebouncer_CoalescesBurstPerDirectory(t *testing.T) {
	// Given: a debouncer with a short window
	d := NewDebouncer(20*time.Millisecond, logging.Discard())
	defer d.Stop()

	// When: one directory is reported five times and another once
	for i := 0; i < 5; i++ {
		d.Add("/idx/a")
	}
	d.Add("/idx/b")

	// Then: a single batch names each directory once
	select {
	case dirs := <-d.Output():
		assert.Equal(t, []string{"/idx/a", "/idx/b"}, dirs)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestDebouncer_StopClosesOutput(t *testing.T) {
	d := NewDebouncer(time.Hour, logging.Discard())
	d.Add("/idx/a")

	d.Stop()
	d.Stop()
	d.Add("/idx/b")

	_, ok := <-d.Output()
	assert.False(t, ok)
}

func TestWatcher_PollingReopensOnNewGeneration(t *testing.T) {
	// Given: a foreign directory watched by polling
	dir := t.TempDir()
	publish(t, dir, "gen-000001")
	r := &recordingReopener{}
	w := New(r, Options{PollOnly: true, PollInterval: 10 * time.Millisecond, Debounce: 10 * time.Millisecond, Logger: logging.Discard()})
	startWatcher(t, w, []string{dir})
	require.Eventually(t, func() bool { return len(w.Polled()) == 1 }, 2*time.Second, 5*time.Millisecond)

	// When: its writer publishes generation 2
	publish(t, dir, "gen-000002")

	// Then: the directory is reopened
	assert.Eventually(t, func() bool { return r.count(dir) >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_FsnotifyReopensOnCurrentChange(t *testing.T) {
	dir := t.TempDir()
	r := &recordingReopener{}
	w := New(r, Options{Debounce: 10 * time.Millisecond, PollInterval: time.Hour, Logger: logging.Discard()})
	startWatcher(t, w, []string{dir})
	require.Eventually(t, func() bool { return len(w.Watched())+len(w.Polled()) == 1 }, 2*time.Second, 5*time.Millisecond)
	if len(w.Watched()) == 0 {
		t.Skip("fsnotify unavailable in this environment")
	}

	// Unrelated files do not trigger a reopen.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "write.lock"), nil, 0o644))
	publish(t, dir, "gen-000002")

	assert.Eventually(t, func() bool { return r.count(dir) >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_PollsMissingDirectoryUntilPublished(t *testing.T) {
	// Given: a foreign directory that does not exist yet, with fsnotify enabled
	missing := filepath.Join(t.TempDir(), "later")
	r := &recordingReopener{}
	w := New(r, Options{PollInterval: 10 * time.Millisecond, Debounce: 10 * time.Millisecond, Logger: logging.Discard()})
	startWatcher(t, w, []string{missing})
	require.Eventually(t, func() bool { return len(w.Polled()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, w.Watched())
	assert.Zero(t, r.count(missing))

	// When: its writer creates it and publishes generation 1
	require.NoError(t, os.MkdirAll(missing, 0o755))
	publish(t, missing, "gen-000001")

	// Then: polling picks it up and the directory is reopened
	assert.Eventually(t, func() bool { return r.count(missing) >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingDirectoryWithoutCurrentIsNotReopened(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	r := &recordingReopener{}
	w := New(r, Options{PollOnly: true, PollInterval: 5 * time.Millisecond, Debounce: 5 * time.Millisecond, Logger: logging.Discard()})
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	err := w.Run(ctx, []string{missing})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{missing}, w.Polled())
	assert.Zero(t, r.count(missing))
}

func TestWatcher_StopEndsRun(t *testing.T) {
	w := New(&recordingReopener{}, Options{PollOnly: true, Logger: logging.Discard()})
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background(), nil) }()

	w.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
