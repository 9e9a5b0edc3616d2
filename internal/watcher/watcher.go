package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new file or directory was created.
	OpCreate Operation = iota
	// OpModify indicates an existing file was modified.
	OpModify
	// OpDelete indicates a file or directory was removed or renamed away.
	OpDelete
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// FileEvent represents a file system event.
type FileEvent struct {
	// Path is the absolute, cleaned path of the file or directory.
	Path string

	// Operation is the type of file system operation.
	Operation Operation

	// IsDir is true when the path was a directory at the time of the event.
	// Unknown (false) for deletions of paths never seen as directories.
	IsDir bool

	// Timestamp is when the event was detected.
	Timestamp time.Time
}

// IgnoreFunc reports whether a path should produce no events. Ignored
// directories are not watched.
type IgnoreFunc func(path string, isDir bool) bool

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before coalesced events are emitted.
	// Default: 200ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered on Events().
	// Default: 100
	EventBufferSize int

	// Ignore filters paths. Nil ignores nothing.
	Ignore IgnoreFunc
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  200 * time.Millisecond,
		EventBufferSize: 100,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("watcher already started")

// Watcher watches directory trees with fsnotify and emits debounced batches.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	opts      Options

	events chan []FileEvent
	errors chan error
	stopCh chan struct{}

	mu      sync.RWMutex
	roots   []string
	dirs    map[string]struct{}
	started bool
	stopped bool

	droppedBatches atomic.Uint64
}

// New creates a watcher. Nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	opts = opts.WithDefaults()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	return &Watcher{
		fsWatcher: fsw,
		debouncer: NewDebouncer(opts.DebounceWindow),
		opts:      opts,
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
		dirs:      make(map[string]struct{}),
	}, nil
}

// Start watches the given roots recursively and processes notifications
// until Stop is called or ctx is cancelled. It blocks; run it in its own
// goroutine. Returns ctx.Err() on cancellation and nil after Stop.
func (w *Watcher) Start(ctx context.Context, roots ...string) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrAlreadyStarted
	}
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		abs = filepath.Clean(abs)
		if err := w.addRecursive(abs, false); err != nil {
			return fmt.Errorf("add directories to watcher: %w", err)
		}
		w.mu.Lock()
		w.roots = append(w.roots, abs)
		w.mu.Unlock()
	}

	go w.forwardDebouncedEvents(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = w.Stop()
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleEvent converts one fsnotify notification and feeds the debouncer.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	now := time.Now()

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// the new name of a rename arrives as its own CREATE
		op = OpDelete
	case event.Op&fsnotify.Chmod != 0:
		op = OpModify
	default:
		return
	}

	isDir := false
	if op == OpDelete {
		w.mu.Lock()
		if _, ok := w.dirs[path]; ok {
			isDir = true
			w.forgetDirs(path)
		}
		w.mu.Unlock()
	} else if info, err := os.Lstat(path); err == nil {
		isDir = info.IsDir()
	} else {
		// gone again before we could look at it
		return
	}

	if w.ignored(path, isDir) {
		return
	}

	if op == OpCreate && isDir {
		// files created before the watch was in place would be missed
		if err := w.addRecursive(path, true); err != nil {
			w.emitError(err)
		}
	}

	w.debouncer.Add(FileEvent{Path: path, Operation: op, IsDir: isDir, Timestamp: now})
}

// forgetDirs drops dir and everything below it from the watched set.
// Caller holds w.mu.
func (w *Watcher) forgetDirs(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || len(d) > len(prefix) && d[:len(prefix)] == prefix {
			delete(w.dirs, d)
		}
	}
}

// addRecursive adds root and every non-ignored directory below it. When
// announce is true, entries below root are reported as created.
func (w *Watcher) addRecursive(root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && !announce {
				return err
			}
			slog.Debug("watcher_skip_path",
				slog.String("path", path),
				slog.String("error", err.Error()))
			return nil
		}

		if path != root {
			if w.ignored(path, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if announce {
				w.debouncer.Add(FileEvent{
					Path:      path,
					Operation: OpCreate,
					IsDir:     d.IsDir(),
					Timestamp: time.Now(),
				})
			}
		}

		if !d.IsDir() {
			return nil
		}
		if err := w.fsWatcher.Add(path); err != nil {
			if path == root && !announce {
				return err
			}
			w.emitError(fmt.Errorf("watch %s: %w", path, err))
			return nil
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) ignored(path string, isDir bool) bool {
	return w.opts.Ignore != nil && w.opts.Ignore(path, isDir)
}

// forwardDebouncedEvents forwards debounced batches to the output channel.
func (w *Watcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case events, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(events) > 0 {
				w.emitEvents(events)
			}
		}
	}
}

// emitEvents sends a batch without blocking; a full buffer drops it.
func (w *Watcher) emitEvents(events []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.events <- events:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(events)),
			slog.Uint64("total_dropped_batches", count))
	}
}

// emitError reports a non-fatal error without blocking.
func (w *Watcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}

	select {
	case w.errors <- err:
	default:
	}
}

// Stop releases the fsnotify watcher and closes both output channels.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	w.debouncer.Stop()
	err := w.fsWatcher.Close()

	close(w.events)
	close(w.errors)
	return err
}

// Events returns the channel of debounced event batches. It is closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns the channel of non-fatal errors. It is closed by Stop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// DroppedBatches returns the number of batches dropped because Events()
// was not drained.
func (w *Watcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

// Roots returns the absolute roots being watched.
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}

// Watching returns the number of directories currently watched.
func (w *Watcher) Watching() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.dirs)
}
