package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestFsnotifyOpToOperation(t *testing.T) {
	tests := []struct {
		name     string
		op       fsnotify.Op
		expected Operation
	}{
		{"Remove returns OpDelete", fsnotify.Remove, OpDelete},
		{"Rename returns OpDelete", fsnotify.Rename, OpDelete},
		{"Create returns OpCreate", fsnotify.Create, OpCreate},
		{"Write returns OpModify", fsnotify.Write, OpModify},
		{"Chmod returns OpModify", fsnotify.Chmod, OpModify},
		{"Remove takes precedence over Write", fsnotify.Remove | fsnotify.Write, OpDelete},
		{"Rename takes precedence over Create", fsnotify.Rename | fsnotify.Create, OpDelete},
		{"Create takes precedence over Write", fsnotify.Create | fsnotify.Write, OpCreate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fsnotifyOpToOperation(tt.op); got != tt.expected {
				t.Errorf("fsnotifyOpToOperation(%v) = %v, want %v", tt.op, got, tt.expected)
			}
		})
	}
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op       Operation
		expected string
	}{
		{OpCreate, "create"},
		{OpModify, "modify"},
		{OpDelete, "delete"},
		{Operation(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.op.String(); got != tt.expected {
				t.Errorf("Operation.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMergeOperation(t *testing.T) {
	tests := []struct {
		name     string
		existing Operation
		next     Operation
		pending  bool
		want     Operation
	}{
		{"first event", OpModify, OpDelete, false, OpDelete},
		{"delete then create", OpDelete, OpCreate, true, OpCreate},
		{"create then delete", OpCreate, OpDelete, true, OpDelete},
		{"create then modify", OpCreate, OpModify, true, OpCreate},
		{"modify then modify", OpModify, OpModify, true, OpModify},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mergeOperation(tt.existing, tt.next, tt.pending); got != tt.want {
				t.Errorf("mergeOperation() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWatcherBatchesMatchingEvents(t *testing.T) {
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var (
		mu      sync.Mutex
		batches [][]Event
	)
	done := make(chan struct{}, 1)
	handler := func(_ context.Context, events []Event) error {
		mu.Lock()
		batches = append(batches, events)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}

	w, err := New(Config{
		Paths:    []string{dir},
		Debounce: 50 * time.Millisecond,
		Match:    func(p string) bool { return strings.HasSuffix(p, ".yaml") },
	}, handler, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = w.Stop() }()

	for _, name := range []string{"a.yaml", "b.yaml", "ignored.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("records: []\n"), 0600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no batch delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	seen := map[string]bool{}
	for _, batch := range batches {
		for _, e := range batch {
			seen[filepath.Base(e.Path)] = true
		}
	}
	if seen["ignored.txt"] {
		t.Error("non matching file reported")
	}
	if !seen["a.yaml"] {
		t.Errorf("a.yaml not reported, got %v", batches)
	}
}
