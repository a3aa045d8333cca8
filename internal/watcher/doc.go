// Package watcher notices when another process publishes a new generation
// in an index directory this process only reads, and asks the searcher pool
// to reopen it.
//
// fsnotify is the primary mechanism. Directories fsnotify cannot watch
// (network mounts, some container volumes) are polled instead. Bursts of
// changes to one directory are debounced into a single reopen.
//
//	w := watcher.New(pool, watcher.Options{Debounce: 200 * time.Millisecond})
//	go w.Run(ctx, foreignDirs)
//	defer w.Stop()
package watcher
