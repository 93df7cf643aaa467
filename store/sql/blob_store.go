package sqlstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-mailbox/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// BlobStore writes response blobs into mailbox_blobs, scoped to the document
// they answer.
type BlobStore struct {
	db       *bun.DB
	repo     repository.Repository[*blobRecord]
	document string
	now      core.Clock
}

func NewBlobStore(db *bun.DB, document string) (*BlobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	document = strings.TrimSpace(document)
	if document == "" {
		return nil, fmt.Errorf("sqlstore: document name is required")
	}
	repo := repository.NewRepository[*blobRecord](db, blobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid blob repository wiring: %w", err)
		}
	}
	return &BlobStore{db: db, repo: repo, document: document, now: time.Now}, nil
}

func (s *BlobStore) Put(ctx context.Context, name string, content []byte) error {
	if s == nil || s.repo == nil {
		return core.NewBlobWriteError(fmt.Errorf("sqlstore: blob store is not configured"), name, nil)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return core.NewBlobWriteError(fmt.Errorf("sqlstore: blob name is required"), name, nil)
	}
	record := &blobRecord{
		ID:           uuid.NewString(),
		DocumentName: s.document,
		Name:         name,
		Content:      append([]byte(nil), content...),
		SizeBytes:    int64(len(content)),
		CreatedAt:    s.now().UTC(),
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		meta := map[string]any{"document": s.document}
		if !isUniqueViolation(err) {
			return core.NewBlobWriteError(err, name, meta)
		}
		// A retry after a lost acknowledgement finds its own earlier insert.
		existing, getErr := s.Get(ctx, name)
		if getErr != nil {
			return core.NewBlobWriteError(errors.Join(err, getErr), name, meta)
		}
		if !bytes.Equal(existing, content) {
			return core.NewBlobWriteError(fmt.Errorf("sqlstore: blob %q exists with different content", name), name, meta)
		}
	}
	return nil
}

// Get returns a stored blob by name.
func (s *BlobStore) Get(ctx context.Context, name string) ([]byte, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: blob store is not configured")
	}
	record := &blobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.document_name = ?", s.document).
		Where("?TableAlias.name = ?", strings.TrimSpace(name)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return record.Content, nil
}
