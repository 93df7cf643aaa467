package memory

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/goliatone/go-mailbox/core"
)

// Store keeps the mailbox document and uploaded blobs in process. Every
// successful write bumps the revision; a write whose revision does not match
// fails with a conflict. An absent document has the empty revision.
type Store struct {
	mu       sync.RWMutex
	codec    core.DocumentCodec
	content  []byte
	exists   bool
	revision int
	blobs    map[string][]byte
}

type Option func(*Store)

func WithCodec(codec core.DocumentCodec) Option {
	return func(s *Store) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithEntries seeds the document.
func WithEntries(entries ...core.Entry) Option {
	return func(s *Store) {
		content, err := s.codec.Encode(entries)
		if err != nil {
			return
		}
		s.content = content
		s.exists = true
		s.revision = 1
	}
}

func New(opts ...Option) *Store {
	store := &Store{
		codec: core.JSONDocumentCodec{},
		blobs: map[string][]byte{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store
}

func (s *Store) Fetch(ctx context.Context) (core.Document, error) {
	if err := ctx.Err(); err != nil {
		return core.Document{}, core.NewFetchError(err, "", nil)
	}
	s.mu.RLock()
	content := append([]byte(nil), s.content...)
	exists := s.exists
	revision := s.revisionLocked()
	s.mu.RUnlock()

	if !exists {
		return core.Document{Entries: []core.Entry{}}, nil
	}
	entries, err := s.codec.Decode(content)
	if err != nil {
		return core.Document{}, core.NewDecodeError(err, map[string]any{"revision": revision})
	}
	return core.Document{Entries: entries, Revision: revision}, nil
}

func (s *Store) Write(ctx context.Context, content []byte, revision string) error {
	if err := ctx.Err(); err != nil {
		return core.NewTransportError(err, "", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.revisionLocked()
	if strings.TrimSpace(revision) != current {
		return core.NewConflictError(revision, current, map[string]any{"store": "memory"})
	}
	s.content = append([]byte(nil), content...)
	s.exists = true
	s.revision++
	return nil
}

func (s *Store) Put(ctx context.Context, name string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return core.NewBlobWriteError(err, name, nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.NewBlobWriteError(fmt.Errorf("memory: blob name is required"), name, nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[name] = append([]byte(nil), content...)
	return nil
}

// Submit appends a pending request the way an external caller would,
// retrying on revision conflicts.
func (s *Store) Submit(ctx context.Context, request core.Entry) error {
	for {
		doc, err := s.Fetch(ctx)
		if err != nil {
			return err
		}
		content, err := s.codec.Encode(append(doc.Entries, request))
		if err != nil {
			return core.NewSerializationError(err)
		}
		err = s.Write(ctx, content, doc.Revision)
		if err == nil {
			return nil
		}
		if !core.IsConflict(err) {
			return err
		}
	}
}

func (s *Store) Blob(name string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.blobs[name]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), content...), true
}

func (s *Store) BlobNames() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.blobs))
	for name := range s.blobs {
		names = append(names, name)
	}
	return names
}

func (s *Store) Content() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]byte(nil), s.content...)
}

func (s *Store) revisionLocked() string {
	if !s.exists {
		return ""
	}
	return strconv.Itoa(s.revision)
}

var (
	_ core.DocumentStore = (*Store)(nil)
	_ core.BlobStore     = (*Store)(nil)
)
