// Package watcher reports file system changes under a set of roots.
//
// Directories are watched recursively with fsnotify. Raw notifications are
// filtered through a caller-supplied ignore function and debounced, so
// editors that write a file in several steps produce one event per path.
// Events are delivered in batches on Events().
//
// Usage:
//
//	w, err := watcher.New(watcher.Options{Ignore: matcher.Excluded})
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, roots...) }()
//
//	for batch := range w.Events() {
//	    for _, ev := range batch {
//	        // ev.Path is absolute
//	    }
//	}
package watcher
