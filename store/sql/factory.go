package sqlstore

import (
	"fmt"
	"strings"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// RepositoryFactory builds document and blob stores over one bun database.
type RepositoryFactory struct {
	db *bun.DB
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Bind(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if err := factory.Bind(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// Bind resolves the bun database from a persistence client or *bun.DB.
func (f *RepositoryFactory) Bind(persistenceClient any) error {
	if f == nil {
		return fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db != nil {
		return nil
	}
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return err
	}
	f.db = db
	return nil
}

// Stores returns the document store and its blob store for one mailbox.
func (f *RepositoryFactory) Stores(document string, opts ...DocumentOption) (*DocumentStore, *BlobStore, error) {
	if f == nil || f.db == nil {
		return nil, nil, fmt.Errorf("sqlstore: repository factory is not bound")
	}
	document = strings.TrimSpace(document)
	docs, err := NewDocumentStore(f.db, document, opts...)
	if err != nil {
		return nil, nil, err
	}
	blobs, err := NewBlobStore(f.db, document)
	if err != nil {
		return nil, nil, err
	}
	return docs, blobs, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
