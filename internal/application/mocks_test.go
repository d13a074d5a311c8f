package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jobrunner/owsgate/internal/domain"
	"github.com/jobrunner/owsgate/internal/ports/output"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// captureHandler records log entries for assertions.
type captureHandler struct {
	mu      sync.Mutex
	entries []capturedEntry
}

type capturedEntry struct {
	Level   slog.Level
	Message string
	Attrs   map[string]string
}

func (h *captureHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	e := capturedEntry{Level: r.Level, Message: r.Message, Attrs: map[string]string{}}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.String()
		return true
	})
	h.mu.Lock()
	h.entries = append(h.entries, e)
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(_ string) slog.Handler      { return h }

func (h *captureHandler) find(level slog.Level, message string) []capturedEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []capturedEntry
	for _, e := range h.entries {
		if e.Level == level && e.Message == message {
			out = append(out, e)
		}
	}
	return out
}

// mockIterator implements output.RecordIterator over a slice.
type mockIterator struct {
	records  []domain.Record
	pos      int
	err      error
	closeErr error
	onClose  func()
}

func (it *mockIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.records) {
		return false
	}
	it.pos++
	return true
}

func (it *mockIterator) Record() domain.Record { return it.records[it.pos-1] }
func (it *mockIterator) Err() error            { return it.err }

func (it *mockIterator) Close() error {
	if it.onClose != nil {
		it.onClose()
	}
	return it.closeErr
}

// mockStore implements output.CatalogStore. Records are keyed by the local
// type name; only id filters restrict matches.
type mockStore struct {
	name     string
	types    []domain.TypeDescriptor
	records  map[string][]domain.Record
	caps     output.StoreCapabilities
	values   map[string][]string
	countErr error
	queryErr error
	iterErr  error
	closeErr error
	capsErr  error

	mu      sync.Mutex
	queries []domain.Query
	closed  int
	opened  int
}

func (m *mockStore) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockStore) RecordDescriptors(_ context.Context) ([]domain.TypeDescriptor, error) {
	return m.types, nil
}

func (m *mockStore) matching(q domain.Query) []domain.Record {
	var out []domain.Record
	for _, r := range m.records[q.TypeName.Local] {
		if ids, ok := q.Filter.(*domain.IDFilter); ok {
			found := false
			for _, id := range ids.IDs {
				if id == r.ID {
					found = true
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, r)
	}
	return out
}

func (m *mockStore) Count(_ context.Context, q domain.Query) (int, error) {
	if m.countErr != nil {
		return 0, m.countErr
	}
	return len(m.matching(q)), nil
}

func (m *mockStore) Query(_ context.Context, q domain.Query) (output.RecordIterator, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	m.mu.Lock()
	m.queries = append(m.queries, q)
	m.opened++
	m.mu.Unlock()

	recs := m.matching(q)
	start := min(q.StartIndex, len(recs))
	recs = recs[start:]
	if q.Limited() && q.MaxRecords < len(recs) {
		recs = recs[:q.MaxRecords]
	}
	return &mockIterator{
		records:  recs,
		err:      m.iterErr,
		closeErr: m.closeErr,
		onClose: func() {
			m.mu.Lock()
			m.closed++
			m.mu.Unlock()
		},
	}, nil
}

func (m *mockStore) DomainValues(_ context.Context, typeName domain.QName, property string) ([]string, error) {
	return m.values[typeName.Local+"/"+property], nil
}

func (m *mockStore) Capabilities(_ context.Context) (output.StoreCapabilities, error) {
	if m.capsErr != nil {
		return output.StoreCapabilities{}, m.capsErr
	}
	return m.caps, nil
}

func (m *mockStore) TranslateProperty(desc domain.TypeDescriptor, name string) (string, error) {
	attr, ok := desc.Attribute(name)
	if !ok {
		return "", fmt.Errorf("unknown property %s", name)
	}
	return attr.Name.Local, nil
}

// mockTxStore adds transactions to mockStore.
type mockTxStore struct {
	*mockStore
	applied []domain.TransactionRequest
}

func (m *mockTxStore) Apply(_ context.Context, req domain.TransactionRequest) (domain.TransactionResult, error) {
	m.applied = append(m.applied, req)
	res := domain.TransactionResult{}
	for _, a := range req.Actions {
		switch a.Kind {
		case domain.TransactionInsert:
			res.Inserted += len(a.Records)
			for _, r := range a.Records {
				res.InsertedIDs = append(res.InsertedIDs, r.ID)
			}
		case domain.TransactionUpdate:
			res.Updated++
		case domain.TransactionDelete:
			res.Deleted++
		}
	}
	return res, nil
}

// makeRecords returns n records of typeName with ids prefix-0 .. prefix-(n-1).
func makeRecords(typeName domain.QName, prefix string, n int) []domain.Record {
	out := make([]domain.Record, n)
	for i := range out {
		out[i] = domain.Record{
			ID:         fmt.Sprintf("%s-%d", prefix, i),
			TypeName:   typeName,
			Properties: map[string]any{"title": fmt.Sprintf("%s %d", prefix, i)},
		}
	}
	return out
}

// mockStorage implements output.ObjectStorage for testing.
type mockStorage struct {
	mu        sync.Mutex
	objects   []output.StorageObject
	contents  map[string]string
	listErr   error
	readErr   error
	listCalls int
}

func (m *mockStorage) List(_ context.Context, prefix string) ([]output.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []output.StorageObject
	for _, o := range m.objects {
		if strings.HasPrefix(o.Key, prefix) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *mockStorage) Download(_ context.Context, _, _ string) error {
	return nil
}

func (m *mockStorage) GetReader(_ context.Context, key string) (io.ReadCloser, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.contents[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	return io.NopCloser(bytes.NewBufferString(content)), nil
}

func (m *mockStorage) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.contents[key]
	return ok, nil
}

func (m *mockStorage) put(key, content string, modified int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.contents == nil {
		m.contents = make(map[string]string)
	}
	m.contents[key] = content
	for i := range m.objects {
		if m.objects[i].Key == key {
			m.objects[i].Size = int64(len(content))
			m.objects[i].LastModified = modified
			return
		}
	}
	m.objects = append(m.objects, output.StorageObject{Key: key, Size: int64(len(content)), LastModified: modified})
}

func (m *mockStorage) remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contents, key)
	for i := range m.objects {
		if m.objects[i].Key == key {
			m.objects = append(m.objects[:i], m.objects[i+1:]...)
			return
		}
	}
}

// mockSeedLoader implements output.SeedLoader, counting one record per
// non-empty line.
type mockSeedLoader struct {
	loaded  map[string]int
	removed []string
	loadErr error
}

func (m *mockSeedLoader) LoadSeed(_ context.Context, source string, r io.Reader) (int, error) {
	if m.loadErr != nil {
		return 0, m.loadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	if m.loaded == nil {
		m.loaded = make(map[string]int)
	}
	m.loaded[source] = n
	return n, nil
}

func (m *mockSeedLoader) RemoveSeed(_ context.Context, source string) error {
	delete(m.loaded, source)
	m.removed = append(m.removed, source)
	return nil
}

// mockDecorator appends a marker to the service title.
type mockDecorator struct {
	marker string
	err    error
	seen   *[]string
}

func (d *mockDecorator) Decorate(_ context.Context, caps *domain.Capabilities, _ output.CatalogStore) (*domain.Capabilities, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.seen != nil {
		*d.seen = append(*d.seen, d.marker)
	}
	next := *caps
	if next.ServiceIdentification != nil {
		si := *next.ServiceIdentification
		si.Title += d.marker
		next.ServiceIdentification = &si
	}
	return &next, nil
}

// mockCoverageStore implements output.CoverageStore.
type mockCoverageStore struct {
	coverages []domain.CoverageDescriptor
	readErr   error
	plans     []domain.CoverageReadPlan
}

func (m *mockCoverageStore) Coverages(_ context.Context) ([]domain.CoverageDescriptor, error) {
	return m.coverages, nil
}

func (m *mockCoverageStore) Coverage(_ context.Context, id string) (domain.CoverageDescriptor, error) {
	for _, c := range m.coverages {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.CoverageDescriptor{}, fmt.Errorf("%s: %w", id, domain.ErrCoverageNotFound)
}

func (m *mockCoverageStore) Read(_ context.Context, plan domain.CoverageReadPlan) (*domain.Coverage, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.plans = append(m.plans, plan)
	cells := plan.TargetWidth * plan.TargetHeight
	cov := &domain.Coverage{Plan: plan}
	for _, b := range plan.Bands {
		cov.BandNames = append(cov.BandNames, plan.Coverage.Bands[b].Name)
		cov.Data = append(cov.Data, make([]float64, cells))
	}
	return cov, nil
}

// recordingMetrics counts calls to the metrics port.
type recordingMetrics struct {
	output.NoOpMetrics
	mu       sync.Mutex
	requests map[string]int
	failures map[string]int
	returned int
	loaded   int
}

func (m *recordingMetrics) IncRequestCount(service, operation string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == nil {
		m.requests = make(map[string]int)
		m.failures = make(map[string]int)
	}
	key := service + "." + operation
	m.requests[key]++
	if !success {
		m.failures[key]++
	}
}

func (m *recordingMetrics) ObserveRequestDuration(_, _ string, _ time.Duration) {}

func (m *recordingMetrics) ObserveRecordsReturned(_ string, count int) {
	m.mu.Lock()
	m.returned += count
	m.mu.Unlock()
}

func (m *recordingMetrics) SetRecordsLoaded(count int) {
	m.mu.Lock()
	m.loaded = count
	m.mu.Unlock()
}
