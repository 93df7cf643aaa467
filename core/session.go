package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionConfig struct {
	MaxAge         time.Duration
	RequestTimeout time.Duration
	ExpiryMode     ExpiryMode
	// RetainStashOnWriteFailure keeps flushed responses for the next cycle
	// when the document write fails. Off means at-most-once delivery.
	RetainStashOnWriteFailure bool
	// MaxBlobAttempts bounds uploads of one blob; zero retries forever.
	MaxBlobAttempts int
}

func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxAge:         DefaultMaxAge,
		RequestTimeout: DefaultRequestTimeout,
		ExpiryMode:     ExpiryModeTimeout,
	}
}

// AcceptStats summarizes the most recent poll cycle.
type AcceptStats struct {
	Fetched       int
	Pending       int
	Done          int
	Expired       int
	TimedOut      int
	Flushed       int
	Dispatchable  int
	Duplicates    int
	BlobsUploaded int
	BlobsFailed   int
	BlobsDropped  int
	FetchFailed   bool
	Skipped       bool
	Written       bool
}

type pendingBlob struct {
	data     []byte
	attempts int
}

// Session owns the stash and the pending blobs between poll cycles. It assumes
// it is the only writer of the mailbox document.
type Session struct {
	mu sync.Mutex

	docs    DocumentStore
	blobs   BlobStore
	codec   DocumentCodec
	config  SessionConfig
	now     Clock
	newName NameGenerator
	obs     observer

	logger  Logger
	metrics MetricsRecorder

	stash        []Entry
	blobOrder    []string
	pendingBlobs map[string]*pendingBlob
	lastStats    AcceptStats
}

type SessionOption func(*Session)

func WithSessionLogger(logger Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithSessionMetrics(recorder MetricsRecorder) SessionOption {
	return func(s *Session) {
		s.metrics = recorder
	}
}

func WithSessionCodec(codec DocumentCodec) SessionOption {
	return func(s *Session) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithSessionClock(clock Clock) SessionOption {
	return func(s *Session) {
		if clock != nil {
			s.now = clock
		}
	}
}

func WithSessionNameGenerator(generator NameGenerator) SessionOption {
	return func(s *Session) {
		if generator != nil {
			s.newName = generator
		}
	}
}

func WithSessionConfig(config SessionConfig) SessionOption {
	return func(s *Session) {
		s.config = config
	}
}

func NewSession(docs DocumentStore, blobs BlobStore, opts ...SessionOption) (*Session, error) {
	if docs == nil {
		return nil, fmt.Errorf("core: document store is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("core: blob store is required")
	}
	session := &Session{
		docs:   docs,
		blobs:  blobs,
		codec:  JSONDocumentCodec{},
		config: DefaultSessionConfig(),
		now: func() time.Time {
			return time.Now().UTC()
		},
		newName:      uuid.NewString,
		pendingBlobs: map[string]*pendingBlob{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(session)
	}
	if session.config.MaxAge <= 0 {
		session.config.MaxAge = DefaultMaxAge
	}
	if session.config.RequestTimeout <= 0 {
		session.config.RequestTimeout = DefaultRequestTimeout
	}
	if !session.config.ExpiryMode.Valid() {
		session.config.ExpiryMode = ExpiryModeTimeout
	}
	if session.config.MaxBlobAttempts < 0 {
		session.config.MaxBlobAttempts = 0
	}
	session.obs = newObserver(session.logger, session.metrics)
	return session, nil
}

// Accept runs one poll cycle: fetch, partition, flush stashed responses and
// blobs, write the document back, and return the pending requests. Store
// failures are logged and never returned.
func (s *Session) Accept(ctx context.Context) ([]*Unit, error) {
	if s == nil || s.docs == nil {
		return nil, fmt.Errorf("core: session is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	startedAt := time.Now()
	now := s.now()
	stats := AcceptStats{}

	doc, fetchErr := s.fetch(ctx)
	if fetchErr != nil {
		stats.FetchFailed = true
	}
	partitioned := Partition(doc.Entries)
	fresh, stale := SplitExpired(partitioned.Pending, now, s.config.MaxAge)
	stats.Fetched = len(doc.Entries)
	stats.Pending = len(partitioned.Pending)
	stats.Done = len(partitioned.Done)

	if len(partitioned.Pending) == 0 && len(s.stash) == 0 {
		stats.Skipped = true
		s.lastStats = stats
		s.obs.logDebug(ctx, "mailbox accept skipped: nothing to transmit", map[string]any{
			"fetched":       stats.Fetched,
			"pending_blobs": len(s.pendingBlobs),
		})
		return []*Unit{}, nil
	}

	s.obs.logInfo(ctx, "mailbox accept received requests", map[string]any{
		"pending": len(fresh),
		"expired": len(stale),
		"stashed": len(s.stash),
	})

	s.flushBlobs(ctx, &stats)

	done := Trim(partitioned.Done, now, s.config.MaxAge)
	stats.Expired = len(partitioned.Done) - len(done) + len(stale)

	answers := make([]Entry, 0, len(stale)+len(s.stash))
	if s.config.ExpiryMode == ExpiryModeTimeout {
		for _, entry := range stale {
			answers = append(answers, timeoutResponse(entry))
		}
		stats.TimedOut = len(stale)
	}
	flushed := s.stash
	s.stash = nil
	answers = append(answers, flushed...)
	stats.Flushed = len(flushed)

	merged := mergeByID(done, answers)
	content := s.encode(ctx, merged)

	if err := s.write(ctx, content, doc.Revision); err != nil {
		if s.config.RetainStashOnWriteFailure && len(flushed) > 0 {
			s.stash = append(flushed, s.stash...)
			s.obs.logWarn(ctx, "mailbox write failed; stash retained for next cycle", map[string]any{
				"retained": len(flushed),
			})
		} else if len(flushed) > 0 {
			s.obs.logWarn(ctx, "mailbox write failed; stashed responses dropped", map[string]any{
				"dropped": len(flushed),
			})
		}
	} else {
		stats.Written = true
	}

	answered := make(map[string]struct{}, len(answers))
	for _, entry := range answers {
		answered[entry.Head.ID] = struct{}{}
	}
	units := make([]*Unit, 0, len(fresh))
	for _, entry := range fresh {
		if _, ok := answered[entry.Head.ID]; ok {
			stats.Duplicates++
			continue
		}
		units = append(units, NewUnit(entry))
	}
	stats.Dispatchable = len(units)
	s.lastStats = stats

	s.obs.observeOperation(ctx, startedAt, "accept", nil, map[string]any{
		"fetched":        stats.Fetched,
		"units":          stats.Dispatchable,
		"flushed":        stats.Flushed,
		"expired":        stats.Expired,
		"timed_out":      stats.TimedOut,
		"written":        stats.Written,
		"blobs_uploaded": stats.BlobsUploaded,
		"blobs_failed":   stats.BlobsFailed,
	})
	s.obs.count(ctx, "units.accepted", int64(len(units)), nil)
	s.obs.count(ctx, "entries.expired", int64(stats.Expired), nil)
	return units, nil
}

// Stash stages a response for the next flush. Blob bodies are swapped for a
// generated name; the bytes are uploaded on the next non-empty cycle.
func (s *Session) Stash(response Response) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case response.Blob != nil:
		name := s.newName()
		if _, exists := s.pendingBlobs[name]; !exists {
			s.blobOrder = append(s.blobOrder, name)
		}
		s.pendingBlobs[name] = &pendingBlob{data: append([]byte(nil), response.Blob.Body...)}
		head := response.Blob.Head
		head.ContentType = contentTypePtr(ContentTypeFile)
		s.pushStash(Entry{Head: head, Body: name})
	case response.Inline != nil:
		s.pushStash(cloneEntry(*response.Inline))
	}
}

func (s *Session) StashedCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stash)
}

func (s *Session) PendingBlobCount() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingBlobs)
}

func (s *Session) LastStats() AcceptStats {
	if s == nil {
		return AcceptStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStats
}

func (s *Session) pushStash(entry Entry) {
	for i := range s.stash {
		if s.stash[i].Head.ID == entry.Head.ID {
			s.stash[i] = entry
			return
		}
	}
	s.stash = append(s.stash, entry)
}

func (s *Session) fetch(ctx context.Context) (Document, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	startedAt := time.Now()
	doc, err := s.docs.Fetch(callCtx)
	err = classifyCallError(callCtx, "fetch", err)
	s.obs.observeOperation(ctx, startedAt, "fetch", err, map[string]any{
		"entries": len(doc.Entries),
	})
	if err != nil {
		return Document{Entries: []Entry{}}, err
	}
	if doc.Entries == nil {
		doc.Entries = []Entry{}
	}
	return doc, nil
}

func (s *Session) write(ctx context.Context, content []byte, revision string) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	startedAt := time.Now()
	err := s.docs.Write(callCtx, content, revision)
	err = classifyCallError(callCtx, "write", err)
	s.obs.observeOperation(ctx, startedAt, "write", err, map[string]any{
		"bytes":    len(content),
		"revision": revision,
	})
	return err
}

func (s *Session) flushBlobs(ctx context.Context, stats *AcceptStats) {
	if len(s.blobOrder) == 0 {
		return
	}
	remaining := make([]string, 0, len(s.blobOrder))
	for _, name := range s.blobOrder {
		blob := s.pendingBlobs[name]
		if blob == nil {
			continue
		}
		if err := s.putBlob(ctx, name, blob.data); err != nil {
			blob.attempts++
			stats.BlobsFailed++
			if s.config.MaxBlobAttempts > 0 && blob.attempts >= s.config.MaxBlobAttempts {
				delete(s.pendingBlobs, name)
				stats.BlobsDropped++
				s.obs.logError(ctx, "mailbox blob dropped after max attempts", map[string]any{
					"blob":     name,
					"attempts": blob.attempts,
				})
				continue
			}
			remaining = append(remaining, name)
			continue
		}
		delete(s.pendingBlobs, name)
		stats.BlobsUploaded++
	}
	s.blobOrder = remaining
}

func (s *Session) putBlob(ctx context.Context, name string, data []byte) error {
	callCtx, cancel := context.WithTimeout(ctx, s.config.RequestTimeout)
	defer cancel()

	startedAt := time.Now()
	err := s.blobs.Put(callCtx, name, data)
	err = classifyCallError(callCtx, "blob_put", err)
	if err != nil && ErrorTextCode(err) == "" {
		err = NewBlobWriteError(err, name, nil)
	}
	s.obs.observeOperation(ctx, startedAt, "blob_put", err, map[string]any{
		"blob":  name,
		"bytes": len(data),
	})
	return err
}

func (s *Session) encode(ctx context.Context, entries []Entry) []byte {
	content, err := s.codec.Encode(entries)
	if err != nil {
		s.obs.logError(ctx, "mailbox encode failed; writing empty document", map[string]any{
			"error":   NewSerializationError(err).Error(),
			"entries": len(entries),
		})
		return []byte(emptyDocumentContent)
	}
	return content
}

// mergeByID appends answers to done, replacing any entry that already carries
// the same id.
func mergeByID(done []Entry, answers []Entry) []Entry {
	merged := make([]Entry, 0, len(done)+len(answers))
	positions := make(map[string]int, len(done)+len(answers))
	for _, entry := range done {
		if pos, ok := positions[entry.Head.ID]; ok {
			merged[pos] = entry
			continue
		}
		positions[entry.Head.ID] = len(merged)
		merged = append(merged, entry)
	}
	for _, entry := range answers {
		if pos, ok := positions[entry.Head.ID]; ok {
			merged[pos] = entry
			continue
		}
		positions[entry.Head.ID] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}

func classifyCallError(callCtx context.Context, operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ErrorTextCode(err) != ErrorTimeout {
		return NewTimeoutError(err, operation)
	}
	return err
}
