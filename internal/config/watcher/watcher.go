// Package watcher provides file watching for configuration live reload.
//
// The watcher monitors a single configuration file through fsnotify and
// triggers handlers once changes have settled. The parent directory is
// watched rather than the file itself, so editors that save through a
// rename or a remove-and-create are still observed.
package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// ErrWatcherClosed is returned by Run after Close.
var ErrWatcherClosed = errors.New("watcher closed")

// Event represents a file change event.
type Event struct {
	// Path is the absolute path to the changed file.
	Path string

	// Op is the operation that triggered the event.
	Op Operation

	// Time is when the last change of the burst was observed.
	Time time.Time
}

// Operation represents the type of file operation.
type Operation int

const (
	// OpWrite indicates the file was modified.
	OpWrite Operation = iota

	// OpCreate indicates a new file was created.
	OpCreate

	// OpRemove indicates the file was deleted.
	OpRemove

	// OpRename indicates the file was renamed.
	OpRename
)

// String returns the operation name.
func (op Operation) String() string {
	switch op {
	case OpWrite:
		return "write"
	case OpCreate:
		return "create"
	case OpRemove:
		return "remove"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// Handler is called when a file change is detected.
type Handler func(event Event)

// Watcher monitors one file for changes.
type Watcher struct {
	mu       sync.RWMutex
	handlers []Handler

	path     string
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *logrus.Entry

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the debounce duration for rapid changes.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d >= 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for watch errors and handler panics.
func WithLogger(logger *logrus.Entry) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a watcher for path. The directory holding path must exist;
// the file itself may be created later.
func New(path string, opts ...Option) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     filepath.Clean(absPath),
		debounce: 100 * time.Millisecond,
		logger:   logrus.NewEntry(logrus.StandardLogger()),
		closeCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.WithField("path", w.path)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	w.fsw = fsw

	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// OnChange registers a handler for file change events.
func (w *Watcher) OnChange(handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Run delivers debounced change events to the handlers until ctx is done
// or Close is called. It releases the underlying fsnotify watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var (
		timer   *time.Timer
		fire    <-chan time.Time
		pending Event
		queued  bool
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-w.closeCh:
			return ErrWatcherClosed

		case fsEvent, ok := <-w.fsw.Events:
			if !ok {
				return ErrWatcherClosed
			}
			ev, relevant := w.convert(fsEvent)
			if !relevant {
				continue
			}
			if queued {
				ev.Op = coalesce(pending.Op, ev.Op)
			}
			pending, queued = ev, true

			if w.debounce == 0 {
				w.emitEvent(pending)
				queued = false
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if queued {
				w.emitEvent(pending)
				queued = false
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return ErrWatcherClosed
			}
			w.logger.WithError(err).Warn("File watch error")
		}
	}
}

// Close stops Run. It is safe to call more than once.
func (w *Watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
}

// convert maps an fsnotify event on the watched directory to an Event for
// the watched file.
func (w *Watcher) convert(fsEvent fsnotify.Event) (Event, bool) {
	if filepath.Clean(fsEvent.Name) != w.path {
		return Event{}, false
	}

	var op Operation
	switch {
	case fsEvent.Op.Has(fsnotify.Remove):
		op = OpRemove
	case fsEvent.Op.Has(fsnotify.Rename):
		op = OpRename
	case fsEvent.Op.Has(fsnotify.Create):
		op = OpCreate
	case fsEvent.Op.Has(fsnotify.Write):
		op = OpWrite
	default:
		return Event{}, false
	}

	return Event{Path: w.path, Op: op, Time: time.Now()}, true
}

// coalesce merges the operation of a queued event with a newer one:
// - any + remove => remove (deletion takes precedence)
// - remove/rename + create => create (the file was replaced)
// - create + write => create
// - otherwise the newer operation wins
func coalesce(prev, next Operation) Operation {
	switch next {
	case OpRemove:
		return OpRemove
	case OpWrite:
		if prev == OpCreate {
			return OpCreate
		}
	}
	return next
}

// emitEvent calls all handlers with the event.
func (w *Watcher) emitEvent(event Event) {
	w.mu.RLock()
	handlers := make([]Handler, len(w.handlers))
	copy(handlers, w.handlers)
	w.mu.RUnlock()

	for _, handler := range handlers {
		w.safeCallHandler(handler, event)
	}
}

// safeCallHandler calls a handler with panic recovery so a failing handler
// cannot stop the watch loop.
func (w *Watcher) safeCallHandler(handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.WithField("panic", r).Error("Config watch handler panicked")
		}
	}()
	handler(event)
}
