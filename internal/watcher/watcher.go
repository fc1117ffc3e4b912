// Package watcher wraps fsnotify for directory-level change notification.
// It reports per-path modify/remove/create events; coalescing is the
// consumer's concern.
package watcher

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Op is the kind of filesystem change observed.
type Op int

const (
	// OpModify indicates a file's contents changed.
	OpModify Op = iota
	// OpRemove indicates a file or directory was removed or renamed away.
	OpRemove
	// OpCreate indicates a new file or directory appeared.
	OpCreate
)

// String returns a human-readable representation of the operation.
func (op Op) String() string {
	switch op {
	case OpModify:
		return "MODIFY"
	case OpRemove:
		return "REMOVE"
	case OpCreate:
		return "CREATE"
	default:
		return "UNKNOWN"
	}
}

// Event is one filesystem change.
type Event struct {
	Path string
	Op   Op
}

// Watcher watches a growing set of directories.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	errs   chan error
	log    *slog.Logger

	mu      sync.Mutex
	watched map[string]struct{}
	stopped bool
}

// New creates a watcher. Callers must drain Events and Errors.
func New(log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w := &Watcher{
		fsw:     fsw,
		events:  make(chan Event, 1024),
		errs:    make(chan error, 8),
		log:     log,
		watched: make(map[string]struct{}),
	}
	go w.loop()
	return w, nil
}

// Watch adds a directory. Adding an already-watched directory is a no-op.
func (w *Watcher) Watch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	if _, ok := w.watched[dir]; ok {
		return nil
	}
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.watched[dir] = struct{}{}
	return nil
}

// Watched returns the currently watched directories.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for dir := range w.watched {
		out = append(out, dir)
	}
	return out
}

// Events returns the event channel; closed when the watcher stops.
func (w *Watcher) Events() <-chan Event { return w.events }

// Errors returns the error channel; non-fatal errors only.
func (w *Watcher) Errors() <-chan error { return w.errs }

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()
	return w.fsw.Close()
}

func (w *Watcher) loop() {
	defer close(w.events)
	defer close(w.errs)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if out, mapped := mapEvent(ev); mapped {
				select {
				case w.events <- out:
				default:
					w.log.Warn("watcher event buffer full, dropping event",
						slog.String("path", ev.Name))
				}
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func mapEvent(ev fsnotify.Event) (Event, bool) {
	switch {
	case ev.Op.Has(fsnotify.Write):
		return Event{Path: ev.Name, Op: OpModify}, true
	case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
		return Event{Path: ev.Name, Op: OpRemove}, true
	case ev.Op.Has(fsnotify.Create):
		return Event{Path: ev.Name, Op: OpCreate}, true
	default:
		// Chmod-only events don't affect index freshness.
		return Event{}, false
	}
}
