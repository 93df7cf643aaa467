package handlers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/goliatone/go-mailbox/core"
)

func TestStatic(t *testing.T) {
	result, err := Static("pong").Handle(context.Background())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Kind != core.ResultInline || result.Text != "pong" {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestEcho_ReadsRequestFromContext(t *testing.T) {
	ctx := core.ContextWithRequest(context.Background(), core.Entry{
		Head: core.EntryHead{ID: "r7", State: core.StatePending},
		Body: "/echo",
	})
	result, err := Echo().Handle(ctx)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Text != "r7" {
		t.Fatalf("expected request id, got %q", result.Text)
	}
	if _, err := Echo().Handle(context.Background()); err == nil {
		t.Fatalf("expected error without request in context")
	}
}

func TestFile_ReturnsBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(path, []byte{0x89, 'P', 'N', 'G'}, 0o600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	result, err := File(path).Handle(context.Background())
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if result.Kind != core.ResultBlob || len(result.Data) != 4 {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestFile_Errors(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "missing.png")).Handle(context.Background()); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := File(" ").Handle(context.Background()); err == nil {
		t.Fatalf("expected error for empty path")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := File("x").Handle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
}

func TestBlob_RejectsEmptySnapshot(t *testing.T) {
	empty := Blob(func(context.Context) ([]byte, error) { return nil, nil })
	if _, err := empty.Handle(context.Background()); err == nil {
		t.Fatalf("expected error for empty snapshot")
	}
	if _, err := Blob(nil).Handle(context.Background()); err == nil {
		t.Fatalf("expected error for nil snapshot source")
	}
}
