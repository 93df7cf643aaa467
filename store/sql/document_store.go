package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-mailbox/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DocumentStore keeps one named mailbox document in a row of
// mailbox_documents. The revision token is the row's integer revision; an
// absent row has the empty revision.
type DocumentStore struct {
	db    *bun.DB
	repo  repository.Repository[*documentRecord]
	name  string
	codec core.DocumentCodec
	now   core.Clock
}

type DocumentOption func(*DocumentStore)

func WithDocumentCodec(codec core.DocumentCodec) DocumentOption {
	return func(s *DocumentStore) {
		if codec != nil {
			s.codec = codec
		}
	}
}

func WithDocumentClock(clock core.Clock) DocumentOption {
	return func(s *DocumentStore) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewDocumentStore(db *bun.DB, name string, opts ...DocumentOption) (*DocumentStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("sqlstore: document name is required")
	}
	repo := repository.NewRepository[*documentRecord](db, documentHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid document repository wiring: %w", err)
		}
	}
	store := &DocumentStore{
		db:    db,
		repo:  repo,
		name:  name,
		codec: core.JSONDocumentCodec{},
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(store)
	}
	return store, nil
}

func (s *DocumentStore) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

func (s *DocumentStore) Fetch(ctx context.Context) (core.Document, error) {
	if s == nil || s.db == nil {
		return core.Document{}, core.NewFetchError(fmt.Errorf("sqlstore: document store is not configured"), "", nil)
	}
	record, err := findDocument(ctx, s.db, s.name)
	if err != nil {
		return core.Document{}, core.NewFetchError(err, "", map[string]any{"document": s.name})
	}
	if record == nil {
		return core.Document{Entries: []core.Entry{}}, nil
	}
	revision := formatRevision(record.Revision)
	entries, err := s.codec.Decode([]byte(record.Content))
	if err != nil {
		return core.Document{}, core.NewDecodeError(err, map[string]any{
			"document": s.name,
			"revision": revision,
		})
	}
	return core.Document{Entries: entries, Revision: revision}, nil
}

// Write replaces the document content when revision still matches the stored
// row. The empty revision creates the row.
func (s *DocumentStore) Write(ctx context.Context, content []byte, revision string) error {
	if s == nil || s.db == nil {
		return core.NewTransportError(fmt.Errorf("sqlstore: document store is not configured"), "", nil)
	}
	revision = strings.TrimSpace(revision)
	now := s.now().UTC()

	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := findDocument(ctx, tx, s.name)
		if err != nil {
			return err
		}
		if current == nil {
			if revision != "" {
				return core.NewConflictError(revision, "", map[string]any{"document": s.name})
			}
			record := &documentRecord{
				ID:        uuid.NewString(),
				Name:      s.name,
				Revision:  1,
				Content:   string(content),
				CreatedAt: now,
				UpdatedAt: now,
			}
			if _, err := s.repo.CreateTx(ctx, tx, record); err != nil {
				if isUniqueViolation(err) {
					return core.NewConflictError(revision, "", map[string]any{"document": s.name})
				}
				return err
			}
			return nil
		}

		currentRevision := formatRevision(current.Revision)
		if revision != currentRevision {
			return core.NewConflictError(revision, currentRevision, map[string]any{"document": s.name})
		}
		res, err := tx.NewUpdate().
			Model((*documentRecord)(nil)).
			Set("content = ?", string(content)).
			Set("revision = revision + 1").
			Set("updated_at = ?", now).
			Where("name = ?", s.name).
			Where("revision = ?", current.Revision).
			Exec(ctx)
		if err != nil {
			return err
		}
		if affected, _ := res.RowsAffected(); affected != 1 {
			return core.NewConflictError(revision, "", map[string]any{"document": s.name})
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if core.IsConflict(err) {
		return err
	}
	return core.NewTransportError(err, "sqlstore: write document failed", map[string]any{"document": s.name})
}

func findDocument(ctx context.Context, db bun.IDB, name string) (*documentRecord, error) {
	record := &documentRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

func formatRevision(revision int64) string {
	return strconv.FormatInt(revision, 10)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if repository.IsDuplicatedKey(err) {
		return true
	}
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
