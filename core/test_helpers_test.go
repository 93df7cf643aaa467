package core

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, counter := range m.counters {
		if counter.name != name {
			continue
		}
		if status == "" || counter.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := *l.records
	out := make([]capturedLog, len(items))
	copy(out, items)
	return out
}

func hasLog(records []capturedLog, level string, contains string) bool {
	for _, record := range records {
		if record.level == level && strings.Contains(record.msg, contains) {
			return true
		}
	}
	return false
}

// stubDocumentStore is a CAS document store with injectable failures.
type stubDocumentStore struct {
	mu       sync.Mutex
	entries  []Entry
	revision int
	fetchErr error
	writeErr error
	fetches  int
	writes   []stubWrite
	block    bool
}

type stubWrite struct {
	content  []byte
	revision string
}

func newStubDocumentStore(entries ...Entry) *stubDocumentStore {
	return &stubDocumentStore{entries: cloneEntries(entries), revision: 1}
}

func (s *stubDocumentStore) Fetch(ctx context.Context) (Document, error) {
	s.mu.Lock()
	s.fetches++
	block := s.block
	s.mu.Unlock()
	if block {
		<-ctx.Done()
		return Document{}, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return Document{}, s.fetchErr
	}
	return Document{Entries: cloneEntries(s.entries), Revision: strconv.Itoa(s.revision)}, nil
}

func (s *stubDocumentStore) Write(_ context.Context, content []byte, revision string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, stubWrite{content: append([]byte(nil), content...), revision: revision})
	if s.writeErr != nil {
		return s.writeErr
	}
	if revision != strconv.Itoa(s.revision) {
		return NewConflictError(revision, strconv.Itoa(s.revision), nil)
	}
	entries, err := JSONDocumentCodec{}.Decode(content)
	if err != nil {
		return err
	}
	s.entries = entries
	s.revision++
	return nil
}

// append simulates an external caller adding a request.
func (s *stubDocumentStore) append(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	s.revision++
}

func (s *stubDocumentStore) snapshot() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

func (s *stubDocumentStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func (s *stubDocumentStore) lastWrite() stubWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.writes) == 0 {
		return stubWrite{}
	}
	return s.writes[len(s.writes)-1]
}

func (s *stubDocumentStore) setWriteErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *stubDocumentStore) setFetchErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

type stubBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
	puts  []string
	err   error
}

func newStubBlobStore() *stubBlobStore {
	return &stubBlobStore{blobs: map[string][]byte{}}
}

func (s *stubBlobStore) Put(_ context.Context, name string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, name)
	if s.err != nil {
		return s.err
	}
	s.blobs[name] = append([]byte(nil), content...)
	return nil
}

func (s *stubBlobStore) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *stubBlobStore) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.blobs[name]
	return value, ok
}

func (s *stubBlobStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.puts)
}

type failingCodec struct{}

func (failingCodec) Encode([]Entry) ([]byte, error) {
	return nil, errors.New("encode exploded")
}

func (failingCodec) Decode(content []byte) ([]Entry, error) {
	return JSONDocumentCodec{}.Decode(content)
}

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock(now time.Time) Clock {
	return func() time.Time { return now }
}

func sequentialNames(prefix string) NameGenerator {
	var mu sync.Mutex
	next := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("%s-%d", prefix, next)
	}
}

func newTestSession(t *testing.T, docs DocumentStore, blobs BlobStore, opts ...SessionOption) *Session {
	t.Helper()
	base := []SessionOption{
		WithSessionClock(fixedClock(testNow)),
		WithSessionNameGenerator(sequentialNames("blob")),
		WithSessionLogger(newCaptureLogger()),
	}
	session, err := NewSession(docs, blobs, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return session
}

func findEntry(entries []Entry, id string) (Entry, bool) {
	for _, entry := range entries {
		if entry.Head.ID == id {
			return entry, true
		}
	}
	return Entry{}, false
}

func unitIDs(units []*Unit) []string {
	ids := make([]string, 0, len(units))
	for _, unit := range units {
		ids = append(ids, unit.ID())
	}
	return ids
}
