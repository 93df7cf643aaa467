package migrations

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	mailbox "github.com/goliatone/go-mailbox"
	_ "github.com/mattn/go-sqlite3"
)

func TestSources_ResolvesBothDialects(t *testing.T) {
	sources, err := Sources(nil)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		source, ok := ForDialect(sources, dialect)
		if !ok {
			t.Fatalf("expected %s source", dialect)
		}
		if len(source.Versions) == 0 || source.Versions[0] != "00001_mailbox_core_schema" {
			t.Fatalf("unexpected %s versions %v", dialect, source.Versions)
		}
	}
	if source, ok := ForDialect(sources, "sqlite3"); !ok || source.Path != "data/sql/migrations/sqlite" {
		t.Fatalf("expected sqlite3 driver to resolve sqlite source, got %#v", source)
	}
}

func TestSources_AcceptsSchemaDirectoryRoot(t *testing.T) {
	root := fstest.MapFS{
		"00002_extra.up.sql":         {Data: []byte("SELECT 1;")},
		"00001_base.up.sql":          {Data: []byte("SELECT 1;")},
		"sqlite/00001_base.up.sql":   {Data: []byte("SELECT 1;")},
		"sqlite/00001_base.down.sql": {Data: []byte("SELECT 1;")},
	}
	sources, err := Sources(root)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	postgres, _ := ForDialect(sources, DialectPostgres)
	if postgres.Path != "." || len(postgres.Versions) != 2 || postgres.Versions[0] != "00001_base" {
		t.Fatalf("unexpected postgres source %#v", postgres)
	}
	if _, err := Sources(fstest.MapFS{"00001_base.up.sql": {Data: []byte("SELECT 1;")}}); err == nil {
		t.Fatalf("expected error when sqlite alternatives are missing")
	}
}

func TestRegister_FiltersDialects(t *testing.T) {
	var calls []string
	plan, err := Register(context.Background(), func(_ context.Context, source Source) error {
		calls = append(calls, source.Dialect)
		return nil
	}, WithDialects("sqlite3"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected only sqlite registration, got %v", calls)
	}
	if plan.Label != "go-mailbox" || len(plan.Registered) != 1 {
		t.Fatalf("unexpected plan %#v", plan)
	}
}

func TestRegister_PropagatesRegisterError(t *testing.T) {
	_, err := Register(context.Background(), func(context.Context, Source) error {
		return errors.New("boom")
	}, WithLabel("custom"))
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected wrapped register error, got %v", err)
	}
}

func TestRegister_RequiresRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil register function")
	}
}

func TestNormalizeDialect(t *testing.T) {
	if _, ok := NormalizeDialect("mysql"); ok {
		t.Fatalf("expected mysql to be unsupported")
	}
	if dialect, ok := NormalizeDialect(" PGX "); !ok || dialect != DialectPostgres {
		t.Fatalf("expected pgx to map to postgres, got %q", dialect)
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := mailbox.GetMigrationsFS()
	for _, path := range []string{
		"data/sql/migrations/00001_mailbox_core_schema.up.sql",
		"data/sql/migrations/00001_mailbox_core_schema.down.sql",
		"data/sql/migrations/sqlite/00001_mailbox_core_schema.up.sql",
		"data/sql/migrations/sqlite/00001_mailbox_core_schema.down.sql",
	} {
		if _, err := fs.Stat(root, path); err != nil {
			t.Fatalf("expected migration %s: %v", path, err)
		}
	}
}

func TestSQLiteCoreSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-mailbox-core?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(mailbox.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_mailbox_core_schema.up.sql"); err != nil {
		t.Fatalf("apply up: %v", err)
	}

	insert := `INSERT INTO mailbox_documents (id, name, revision, content) VALUES (?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insert, "doc-1", "io", 1, "[]"); err != nil {
		t.Fatalf("insert document: %v", err)
	}
	if _, err := db.ExecContext(ctx, insert, "doc-2", "io", 1, "[]"); err == nil {
		t.Fatalf("expected unique document name constraint violation")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_mailbox_core_schema.down.sql"); err != nil {
		t.Fatalf("apply down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'mailbox_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("count tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected mailbox tables dropped, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
