package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewSession_RequiresStores(t *testing.T) {
	if _, err := NewSession(nil, newStubBlobStore()); err == nil {
		t.Fatalf("expected error for missing document store")
	}
	if _, err := NewSession(newStubDocumentStore(), nil); err == nil {
		t.Fatalf("expected error for missing blob store")
	}
}

func TestSessionAccept_NoOpSkipsStoreWrites(t *testing.T) {
	done := NewRequestEntry("old", "/ping", testNow.Add(-time.Minute))
	done.Head.State = StateDone
	docs := newStubDocumentStore(done)
	blobs := newStubBlobStore()
	session := newTestSession(t, docs, blobs)

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if units == nil || len(units) != 0 {
		t.Fatalf("expected empty unit list, got %#v", units)
	}
	if docs.writeCount() != 0 {
		t.Fatalf("expected zero writes, got %d", docs.writeCount())
	}
	if blobs.putCount() != 0 {
		t.Fatalf("expected zero blob puts, got %d", blobs.putCount())
	}
	if !session.LastStats().Skipped {
		t.Fatalf("expected skipped stats")
	}
}

func TestSessionAccept_RoundTripInlineResponse(t *testing.T) {
	requestTS := testNow.Add(-1000 * time.Millisecond)
	docs := newStubDocumentStore(NewRequestEntry("r1", "/ping", requestTS))
	blobs := newStubBlobStore()
	session := newTestSession(t, docs, blobs)

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(units) != 1 || units[0].ID() != "r1" || units[0].Get() != "/ping" {
		t.Fatalf("unexpected units: %v", unitIDs(units))
	}
	session.Stash(units[0].Set(InlineResult("pong")))

	units, err = session.Accept(context.Background())
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected no units on second accept, got %v", unitIDs(units))
	}

	entries := docs.snapshot()
	if len(entries) != 1 {
		t.Fatalf("expected one entry in document, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Head.ID != "r1" || entry.Head.State != StateDone || entry.Body != "pong" {
		t.Fatalf("unexpected response entry: %#v", entry)
	}
	if entry.Head.ContentTypeValue() != ContentTypeString {
		t.Fatalf("expected string content type, got %q", entry.Head.ContentTypeValue())
	}
	if entry.Head.Timestamp != requestTS.UnixMilli() {
		t.Fatalf("expected original timestamp %d, got %d", requestTS.UnixMilli(), entry.Head.Timestamp)
	}
	if session.StashedCount() != 0 {
		t.Fatalf("expected stash to be cleared")
	}
}

func TestSessionAccept_TrimsExpiredDoneEntries(t *testing.T) {
	expired := NewRequestEntry("gone", "/ping", testNow.Add(-31*time.Minute))
	expired.Head.State = StateDone
	recent := NewRequestEntry("kept", "/ping", testNow.Add(-5*time.Minute))
	recent.Head.State = StateDone
	docs := newStubDocumentStore(expired, recent, NewRequestEntry("r2", "/ping", testNow))
	session := newTestSession(t, docs, newStubBlobStore())

	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if docs.writeCount() != 1 {
		t.Fatalf("expected one write, got %d", docs.writeCount())
	}
	entries := docs.snapshot()
	if _, ok := findEntry(entries, "gone"); ok {
		t.Fatalf("expected expired done entry to be trimmed")
	}
	if _, ok := findEntry(entries, "kept"); !ok {
		t.Fatalf("expected recent done entry to be kept")
	}
	if _, ok := findEntry(entries, "r2"); ok {
		t.Fatalf("expected taken pending entry to leave the document")
	}
	if got := session.LastStats().Expired; got != 1 {
		t.Fatalf("expected one expired entry, got %d", got)
	}
}

func TestSessionAccept_BlobIndirection(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0xff}
	docs := newStubDocumentStore(NewRequestEntry("shot", "/monitor/pic/shot", testNow))
	blobs := newStubBlobStore()
	session := newTestSession(t, docs, blobs)

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("expected one unit, got %d", len(units))
	}
	session.Stash(units[0].Set(BlobResult(payload)))
	if session.PendingBlobCount() != 1 {
		t.Fatalf("expected one pending blob")
	}

	docs.append(NewRequestEntry("next", "/ping", testNow))
	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("second accept: %v", err)
	}

	if blobs.putCount() != 1 {
		t.Fatalf("expected one blob put, got %d", blobs.putCount())
	}
	stored, ok := blobs.get("blob-1")
	if !ok || !bytes.Equal(stored, payload) {
		t.Fatalf("expected blob-1 to hold payload, got %v %v", stored, ok)
	}
	written := docs.lastWrite().content
	if bytes.Contains(written, payload) {
		t.Fatalf("expected raw bytes to stay out of the document")
	}
	entry, ok := findEntry(docs.snapshot(), "shot")
	if !ok {
		t.Fatalf("expected blob response entry in document")
	}
	if entry.Head.ContentTypeValue() != ContentTypeFile || entry.Body != "blob-1" {
		t.Fatalf("unexpected blob entry: %#v", entry)
	}
	if session.PendingBlobCount() != 0 {
		t.Fatalf("expected pending blobs to be cleared after upload")
	}
}

func TestSessionAccept_FetchFailureIsAbsorbed(t *testing.T) {
	docs := newStubDocumentStore()
	docs.setFetchErr(NewFetchError(errors.New("network down"), "", nil))
	logger := newCaptureLogger()
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionLogger(logger))

	for i := 0; i < 2; i++ {
		units, err := session.Accept(context.Background())
		if err != nil {
			t.Fatalf("accept %d: %v", i, err)
		}
		if len(units) != 0 {
			t.Fatalf("accept %d: expected empty units", i)
		}
		if !session.LastStats().FetchFailed {
			t.Fatalf("accept %d: expected fetch failure in stats", i)
		}
	}
	if docs.writeCount() != 0 {
		t.Fatalf("expected no write with an empty stash, got %d", docs.writeCount())
	}
	if !hasLog(logger.snapshot(), "error", "mailbox fetch failed") {
		t.Fatalf("expected fetch failure log")
	}
}

func TestSessionAccept_FetchFailureStillFlushesStash(t *testing.T) {
	docs := newStubDocumentStore()
	docs.setFetchErr(errors.New("network down"))
	session := newTestSession(t, docs, newStubBlobStore())
	session.Stash(NewUnit(NewRequestEntry("r1", "/ping", testNow)).Set(InlineResult("pong")))

	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if docs.writeCount() != 1 {
		t.Fatalf("expected write attempt, got %d", docs.writeCount())
	}
	last := docs.lastWrite()
	if last.revision != "" {
		t.Fatalf("expected empty revision token, got %q", last.revision)
	}
	entries, err := JSONDocumentCodec{}.Decode(last.content)
	if err != nil {
		t.Fatalf("decode written content: %v", err)
	}
	if len(entries) != 1 || entries[0].Head.ID != "r1" {
		t.Fatalf("expected stashed response in written content, got %#v", entries)
	}
}

func TestSessionAccept_SerializationFailureWritesEmptyDocument(t *testing.T) {
	docs := newStubDocumentStore(NewRequestEntry("r1", "/ping", testNow))
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionCodec(failingCodec{}))

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(units) != 1 {
		t.Fatalf("expected dispatch to continue after encode failure")
	}
	if got := string(docs.lastWrite().content); got != "[]" {
		t.Fatalf("expected [] fallback, got %q", got)
	}
}

func TestSessionAccept_WriteFailureDropsStashByDefault(t *testing.T) {
	docs := newStubDocumentStore(NewRequestEntry("r1", "/ping", testNow))
	session := newTestSession(t, docs, newStubBlobStore())
	units, _ := session.Accept(context.Background())
	session.Stash(units[0].Set(InlineResult("pong")))

	docs.append(NewRequestEntry("r2", "/ping", testNow))
	docs.setWriteErr(NewTransportError(errors.New("503"), "", nil))
	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if session.StashedCount() != 0 {
		t.Fatalf("expected at-most-once stash drop, got %d stashed", session.StashedCount())
	}
	if session.LastStats().Written {
		t.Fatalf("expected stats to report failed write")
	}
	if got := unitIDs(units); len(got) != 1 || got[0] != "r2" {
		t.Fatalf("expected only r2 dispatched, got %v", got)
	}
}

func TestSessionAccept_WriteFailureRetainsStashWhenConfigured(t *testing.T) {
	docs := newStubDocumentStore(NewRequestEntry("r1", "/ping", testNow))
	config := DefaultSessionConfig()
	config.RetainStashOnWriteFailure = true
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionConfig(config))
	units, _ := session.Accept(context.Background())
	session.Stash(units[0].Set(InlineResult("pong")))

	docs.append(NewRequestEntry("r2", "/ping", testNow))
	docs.setWriteErr(NewTransportError(errors.New("503"), "", nil))
	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if session.StashedCount() != 1 {
		t.Fatalf("expected retained stash, got %d", session.StashedCount())
	}

	docs.setWriteErr(nil)
	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("retry accept: %v", err)
	}
	entry, ok := findEntry(docs.snapshot(), "r1")
	if !ok || entry.Body != "pong" {
		t.Fatalf("expected retained response to be written, got %#v", entry)
	}
}

func TestSessionAccept_SkipsPendingAlreadyAnswered(t *testing.T) {
	docs := newStubDocumentStore(NewRequestEntry("r1", "/ping", testNow))
	session := newTestSession(t, docs, newStubBlobStore())
	session.Stash(NewUnit(NewRequestEntry("r1", "/ping", testNow)).Set(InlineResult("pong")))

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected answered request to be skipped, got %v", unitIDs(units))
	}
	if session.LastStats().Duplicates != 1 {
		t.Fatalf("expected one duplicate in stats")
	}
}

func TestSessionStash_ReplacesSameID(t *testing.T) {
	session := newTestSession(t, newStubDocumentStore(), newStubBlobStore())
	unit := NewUnit(NewRequestEntry("r1", "/ping", testNow))
	session.Stash(unit.Set(InlineResult("first")))
	session.Stash(unit.Set(InlineResult("second")))
	session.Stash(Response{})
	if session.StashedCount() != 1 {
		t.Fatalf("expected one stashed entry, got %d", session.StashedCount())
	}
}

func TestMergeByID_StashReplacesDoneEntry(t *testing.T) {
	old := NewRequestEntry("r1", "/ping", testNow)
	old.Head.State = StateDone
	old.Body = "stale"
	other := NewRequestEntry("r0", "/ping", testNow)
	other.Head.State = StateDone
	replacement := NewUnit(NewRequestEntry("r1", "/ping", testNow)).Set(InlineResult("fresh")).Inline

	merged := mergeByID([]Entry{old, other}, []Entry{*replacement})
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged entries, got %d", len(merged))
	}
	if merged[0].Head.ID != "r1" || merged[0].Body != "fresh" {
		t.Fatalf("expected replacement in first position, got %#v", merged[0])
	}
}

func TestSessionAccept_TimeoutModeAnswersStalePending(t *testing.T) {
	stale := NewRequestEntry("late", "/ping", testNow.Add(-45*time.Minute))
	docs := newStubDocumentStore(stale, NewRequestEntry("r1", "/ping", testNow))
	metrics := &captureMetricsRecorder{}
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionMetrics(metrics))

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got := unitIDs(units); len(got) != 1 || got[0] != "r1" {
		t.Fatalf("expected only fresh request dispatched, got %v", got)
	}
	entry, ok := findEntry(docs.snapshot(), "late")
	if !ok {
		t.Fatalf("expected timeout response for stale request")
	}
	if entry.Head.State != StateDone || entry.Head.ContentTypeValue() != ContentTypeError {
		t.Fatalf("unexpected timeout entry: %#v", entry)
	}
	if !strings.HasPrefix(entry.Body, ErrorTimeout) {
		t.Fatalf("expected timeout body, got %q", entry.Body)
	}
	if session.LastStats().TimedOut != 1 {
		t.Fatalf("expected one timed out request")
	}
	if !metrics.hasCounter("mailbox.accept.total", "success") {
		t.Fatalf("expected accept counter")
	}
}

func TestSessionAccept_UniformModeDropsStalePending(t *testing.T) {
	stale := NewRequestEntry("late", "/ping", testNow.Add(-45*time.Minute))
	docs := newStubDocumentStore(stale)
	config := DefaultSessionConfig()
	config.ExpiryMode = ExpiryModeUniform
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionConfig(config))

	units, err := session.Accept(context.Background())
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if len(units) != 0 {
		t.Fatalf("expected stale request not to be dispatched")
	}
	if len(docs.snapshot()) != 0 {
		t.Fatalf("expected stale request to be dropped silently, got %#v", docs.snapshot())
	}
}

func TestSessionAccept_BlobRetryAndDrop(t *testing.T) {
	docs := newStubDocumentStore(NewRequestEntry("shot", "/shot", testNow))
	blobs := newStubBlobStore()
	blobs.setErr(errors.New("upload refused"))
	config := DefaultSessionConfig()
	config.MaxBlobAttempts = 2
	session := newTestSession(t, docs, blobs, WithSessionConfig(config))

	units, _ := session.Accept(context.Background())
	session.Stash(units[0].Set(BlobResult([]byte("png"))))

	docs.append(NewRequestEntry("n1", "/ping", testNow))
	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if session.PendingBlobCount() != 1 {
		t.Fatalf("expected failed blob to be retained")
	}
	if session.LastStats().BlobsFailed != 1 {
		t.Fatalf("expected one failed blob upload")
	}

	docs.append(NewRequestEntry("n2", "/ping", testNow))
	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if session.PendingBlobCount() != 0 {
		t.Fatalf("expected blob dropped after max attempts")
	}
	if session.LastStats().BlobsDropped != 1 {
		t.Fatalf("expected one dropped blob")
	}
}

func TestSessionAccept_StoreCallTimeout(t *testing.T) {
	docs := newStubDocumentStore()
	docs.block = true
	config := DefaultSessionConfig()
	config.RequestTimeout = 10 * time.Millisecond
	logger := newCaptureLogger()
	session := newTestSession(t, docs, newStubBlobStore(), WithSessionConfig(config), WithSessionLogger(logger))

	if _, err := session.Accept(context.Background()); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !session.LastStats().FetchFailed {
		t.Fatalf("expected fetch timeout to count as fetch failure")
	}
	found := false
	for _, record := range logger.snapshot() {
		if record.level == "error" && record.fields["error_code"] == ErrorTimeout {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected timeout error code in failure log")
	}
}

func TestSessionAccept_CancelledContext(t *testing.T) {
	session := newTestSession(t, newStubDocumentStore(), newStubBlobStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := session.Accept(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
