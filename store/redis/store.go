package redisstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-mailbox/core"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "go-mailbox"

// Store keeps the mailbox document in two redis keys: its content and an
// integer revision bumped on every write. Writes are WATCH/MULTI
// transactions on the revision key.
type Store struct {
	client   redis.UniversalClient
	name     string
	prefix   string
	codec    core.DocumentCodec
	blobTTL  time.Duration
	maxRetry int
}

type Option func(*Store)

func WithKeyPrefix(prefix string) Option {
	return func(s *Store) {
		if trimmed := strings.Trim(strings.TrimSpace(prefix), ":"); trimmed != "" {
			s.prefix = trimmed
		}
	}
}

func WithCodec(codec core.DocumentCodec) Option {
	return func(s *Store) {
		if codec != nil {
			s.codec = codec
		}
	}
}

// WithBlobTTL expires uploaded blobs after ttl. Zero keeps them.
func WithBlobTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.blobTTL = ttl
		}
	}
}

func New(client redis.UniversalClient, name string, opts ...Option) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: client is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("redisstore: document name is required")
	}
	store := &Store{
		client: client,
		name:   name,
		prefix: DefaultKeyPrefix,
		codec:  core.JSONDocumentCodec{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store, nil
}

// Connect parses a redis URL and checks the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(redisURL))
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return client, nil
}

func (s *Store) ContentKey() string {
	return s.prefix + ":doc:" + s.name + ":content"
}

func (s *Store) RevisionKey() string {
	return s.prefix + ":doc:" + s.name + ":rev"
}

func (s *Store) BlobKey(name string) string {
	return s.prefix + ":blob:" + s.name + ":" + strings.TrimSpace(name)
}

func (s *Store) Fetch(ctx context.Context) (core.Document, error) {
	values, err := s.client.MGet(ctx, s.RevisionKey(), s.ContentKey()).Result()
	if err != nil {
		return core.Document{}, core.NewFetchError(err, "", map[string]any{"document": s.name})
	}
	revision, _ := values[0].(string)
	if revision == "" {
		return core.Document{Entries: []core.Entry{}}, nil
	}
	content, _ := values[1].(string)
	entries, err := s.codec.Decode([]byte(content))
	if err != nil {
		return core.Document{}, core.NewDecodeError(err, map[string]any{
			"document": s.name,
			"revision": revision,
		})
	}
	return core.Document{Entries: entries, Revision: revision}, nil
}

// Write replaces the content when revision matches the stored one. A
// concurrent writer aborts the transaction and surfaces as a conflict.
func (s *Store) Write(ctx context.Context, content []byte, revision string) error {
	revision = strings.TrimSpace(revision)
	revKey := s.RevisionKey()

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, revKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != revision {
			return core.NewConflictError(revision, current, map[string]any{"document": s.name})
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.ContentKey(), content, 0)
			pipe.Incr(ctx, revKey)
			return nil
		})
		return err
	}, revKey)

	switch {
	case err == nil:
		return nil
	case core.IsConflict(err):
		return err
	case errors.Is(err, redis.TxFailedErr):
		return core.NewConflictError(revision, "", map[string]any{"document": s.name, "cause": "watch"})
	default:
		return core.NewTransportError(err, "redisstore: write document failed", map[string]any{"document": s.name})
	}
}

// Put stores a blob once. Repeating a Put with the same content succeeds; an
// existing blob with different content is an error.
func (s *Store) Put(ctx context.Context, name string, content []byte) error {
	if strings.TrimSpace(name) == "" {
		return core.NewBlobWriteError(fmt.Errorf("redisstore: blob name is required"), name, nil)
	}
	meta := map[string]any{"document": s.name}
	created, err := s.client.SetNX(ctx, s.BlobKey(name), content, s.blobTTL).Result()
	if err != nil {
		return core.NewBlobWriteError(err, name, meta)
	}
	if created {
		return nil
	}
	existing, err := s.Blob(ctx, name)
	if err != nil {
		return core.NewBlobWriteError(err, name, meta)
	}
	if !bytes.Equal(existing, content) {
		return core.NewBlobWriteError(fmt.Errorf("redisstore: blob %q already exists", name), name, meta)
	}
	return nil
}

func (s *Store) Blob(ctx context.Context, name string) ([]byte, error) {
	return s.client.Get(ctx, s.BlobKey(name)).Bytes()
}

// Revision parses the stored revision, zero when absent.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	value, err := s.client.Get(ctx, s.RevisionKey()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(value, 10, 64)
}

var (
	_ core.DocumentStore = (*Store)(nil)
	_ core.BlobStore     = (*Store)(nil)
)
