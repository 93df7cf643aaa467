package memory

import (
	"context"
	"testing"
	"time"

	"github.com/goliatone/go-mailbox/core"
)

func TestStore_CompareAndSwap(t *testing.T) {
	ctx := context.Background()
	store := New()

	doc, err := store.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch empty: %v", err)
	}
	if doc.Revision != "" || len(doc.Entries) != 0 {
		t.Fatalf("expected empty document with empty revision, got %#v", doc)
	}
	if err := store.Write(ctx, []byte("[]"), ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Write(ctx, []byte("[]"), ""); !core.IsConflict(err) {
		t.Fatalf("expected conflict for stale empty revision, got %v", err)
	}

	doc, _ = store.Fetch(ctx)
	if doc.Revision != "1" {
		t.Fatalf("expected revision 1, got %q", doc.Revision)
	}
	if err := store.Write(ctx, []byte("[]"), doc.Revision); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.Write(ctx, []byte("[]"), doc.Revision); !core.IsConflict(err) {
		t.Fatalf("expected conflict for reused revision, got %v", err)
	}
}

func TestStore_DecodeFailure(t *testing.T) {
	ctx := context.Background()
	store := New()
	if err := store.Write(ctx, []byte("{broken"), ""); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := store.Fetch(ctx); core.ErrorTextCode(err) != core.ErrorFetchFailed {
		t.Fatalf("expected fetch failure code, got %v", err)
	}
}

func TestStore_SubmitAndSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := New(WithEntries())
	if err := store.Submit(ctx, core.NewRequestEntry("r1", "/shot", time.Now())); err != nil {
		t.Fatalf("submit: %v", err)
	}

	session, err := core.NewSession(store, store, core.WithSessionNameGenerator(func() string { return "shot.png" }))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	units, err := session.Accept(ctx)
	if err != nil || len(units) != 1 {
		t.Fatalf("expected one unit, got %d (%v)", len(units), err)
	}
	session.Stash(units[0].Set(core.BlobResult([]byte("png-bytes"))))

	if err := store.Submit(ctx, core.NewRequestEntry("r2", "/ping", time.Now())); err != nil {
		t.Fatalf("submit second: %v", err)
	}
	if _, err := session.Accept(ctx); err != nil {
		t.Fatalf("accept: %v", err)
	}

	blob, ok := store.Blob("shot.png")
	if !ok || string(blob) != "png-bytes" {
		t.Fatalf("expected uploaded blob, got %q %v", blob, ok)
	}
	doc, _ := store.Fetch(ctx)
	if len(doc.Entries) != 1 || doc.Entries[0].Body != "shot.png" {
		t.Fatalf("expected blob reference in document, got %#v", doc.Entries)
	}
}

func TestStore_PutRequiresName(t *testing.T) {
	if err := New().Put(context.Background(), " ", []byte("x")); core.ErrorTextCode(err) != core.ErrorBlobWriteFailed {
		t.Fatalf("expected blob write failure, got %v", err)
	}
}
