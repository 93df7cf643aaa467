package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/goliatone/go-mailbox/core"
	"github.com/goliatone/go-mailbox/store/memory"
	redisstore "github.com/goliatone/go-mailbox/store/redis"
	sqlstore "github.com/goliatone/go-mailbox/store/sql"
	"github.com/goliatone/go-mailbox/transport"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

type stores struct {
	docs   core.DocumentStore
	blobs  core.BlobStore
	closer io.Closer
}

func (s stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// documentName names the mailbox document for the keyed stores.
func documentName(cfg core.StoreConfig) string {
	name := strings.Trim(strings.TrimSpace(cfg.FilePath), "/")
	if name == "" {
		return "io"
	}
	return name
}

func openStores(ctx context.Context, cfg core.StoreConfig) (stores, error) {
	switch cfg.NormalizedKind() {
	case core.StoreKindGitee, core.StoreKindGitHub:
		store, err := transport.NewContentsStore(transport.ConfigFromStore(cfg))
		if err != nil {
			return stores{}, err
		}
		return stores{docs: store, blobs: store}, nil

	case core.StoreKindSQLite, core.StoreKindPostgres:
		driver := sqlstore.DriverSQLite
		if cfg.NormalizedKind() == core.StoreKindPostgres {
			driver = sqlstore.DriverPostgres
		}
		if strings.TrimSpace(cfg.Driver) != "" {
			driver = cfg.Driver
		}
		client, err := sqlstore.Open(ctx, sqlstore.PersistenceConfig{Driver: driver, DSN: cfg.DSN})
		if err != nil {
			return stores{}, err
		}
		factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
		if err != nil {
			_ = client.Close()
			return stores{}, err
		}
		docs, blobs, err := factory.Stores(documentName(cfg))
		if err != nil {
			_ = client.Close()
			return stores{}, err
		}
		return stores{docs: docs, blobs: blobs, closer: client}, nil

	case core.StoreKindRedis:
		client, err := redisstore.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return stores{}, err
		}
		store, err := redisstore.New(client, documentName(cfg), redisstore.WithKeyPrefix(cfg.KeyPrefix))
		if err != nil {
			_ = client.Close()
			return stores{}, err
		}
		return stores{docs: store, blobs: store, closer: client}, nil

	case core.StoreKindMemory:
		store := memory.New()
		return stores{docs: store, blobs: store}, nil

	default:
		return stores{}, fmt.Errorf("mailbox-worker: unsupported store kind %q", cfg.Kind)
	}
}
