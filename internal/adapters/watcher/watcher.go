// Package watcher watches local seed directories and reports changes in
// debounced batches.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event represents a file system event.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler receives the events collected during one quiet period, sorted by
// path.
type Handler func(ctx context.Context, events []Event) error

// Config holds watcher configuration.
type Config struct {
	Paths    []string
	Debounce time.Duration
	// Match selects the files whose events are reported. Nil reports all.
	Match func(path string) bool
}

// Watcher watches directory trees. Directories created below a watched
// path are watched as well.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	pending map[string]Operation
	timer   *time.Timer
	wg      sync.WaitGroup
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Match == nil {
		cfg.Match = func(string) bool { return true }
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		cfg:       cfg,
		pending:   make(map[string]Operation),
	}, nil
}

// Start watches the configured trees until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, p := range w.cfg.Paths {
		if err := w.addTree(p); err != nil {
			w.logger.Warn("failed to watch path", "path", p, "error", err)
			continue
		}
		w.logger.Info("watching directory", "path", p)
	}

	w.wg.Add(1)
	go w.eventLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() error {
	err := w.fsWatcher.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) addTree(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.fsWatcher.Add(p)
	})
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleFsEvent(ctx, event)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleFsEvent(ctx context.Context, event fsnotify.Event) {
	op := fsnotifyOpToOperation(event.Op)
	if op == OpCreate && isDir(event.Name) {
		if err := w.addTree(event.Name); err != nil {
			w.logger.Warn("failed to watch new directory", "path", event.Name, "error", err)
		}
		return
	}
	if !w.cfg.Match(event.Name) {
		return
	}

	w.logger.Debug("file event", "path", event.Name, "op", event.Op.String())

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = mergeOperation(w.pending[event.Name], op, w.hasPending(event.Name))
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() { w.flush(ctx) })
}

func (w *Watcher) hasPending(path string) bool {
	_, ok := w.pending[path]
	return ok
}

// mergeOperation combines a pending operation with a new one. A delete
// wins over earlier changes; a file deleted and recreated is created.
func mergeOperation(existing, next Operation, pending bool) Operation {
	if !pending {
		return next
	}
	switch {
	case existing == OpDelete && next == OpCreate:
		return OpCreate
	case next == OpDelete:
		return OpDelete
	case existing == OpCreate:
		return OpCreate
	}
	return next
}

func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	events := make([]Event, 0, len(w.pending))
	for p, op := range w.pending {
		events = append(events, Event{Path: p, Operation: op})
	}
	w.pending = make(map[string]Operation)
	w.timer = nil
	w.mu.Unlock()

	if len(events) == 0 || ctx.Err() != nil {
		return
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	w.logger.Info("processing file events", "events", len(events))
	if err := w.handler(ctx, events); err != nil {
		w.logger.Error("handler error", "events", len(events), "error", err)
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		// a renamed file is gone from its original location
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
