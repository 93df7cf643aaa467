package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"

	mailbox "github.com/goliatone/go-mailbox"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const schemaDir = "data/sql/migrations"

// Source is the migration directory of one SQL dialect. Postgres files sit at
// the schema root, SQLite alternatives under sqlite/.
type Source struct {
	Dialect  string
	Path     string
	FS       fs.FS
	Versions []string
}

// Plan records what Register handed to the migrator.
type Plan struct {
	Label      string
	Dialects   []string
	Registered []Source
}

type RegisterFunc func(ctx context.Context, source Source) error

type Option func(*settings)

type settings struct {
	label    string
	dialects []string
	root     fs.FS
}

func WithLabel(label string) Option {
	return func(s *settings) {
		if trimmed := strings.TrimSpace(label); trimmed != "" {
			s.label = trimmed
		}
	}
}

// WithDialects limits registration to the given dialects. Driver names such
// as sqlite3 or pgx are accepted.
func WithDialects(dialects ...string) Option {
	return func(s *settings) {
		next := make([]string, 0, len(dialects))
		for _, dialect := range dialects {
			if normalized, ok := NormalizeDialect(dialect); ok && !slices.Contains(next, normalized) {
				next = append(next, normalized)
			}
		}
		if len(next) > 0 {
			s.dialects = next
		}
	}
}

// WithRoot reads migrations from root instead of the embedded schema.
func WithRoot(root fs.FS) Option {
	return func(s *settings) {
		if root != nil {
			s.root = root
		}
	}
}

// NormalizeDialect maps a database/sql driver name onto a migration dialect.
func NormalizeDialect(driver string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, true
	case "postgres", "postgresql", "pg", "pgx":
		return DialectPostgres, true
	default:
		return "", false
	}
}

// Sources resolves the per-dialect migration directories under root, or the
// embedded schema when root is nil. Every directory must hold at least one
// *.up.sql file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = mailbox.GetMigrationsFS()
	}
	base, basePath, err := schemaRoot(root)
	if err != nil {
		return nil, err
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite directory: %w", err)
	}

	sources := []Source{
		{Dialect: DialectPostgres, Path: basePath, FS: base},
		{Dialect: DialectSQLite, Path: joinPath(basePath, "sqlite"), FS: sqliteFS},
	}
	for i := range sources {
		versions, err := upVersions(sources[i].FS)
		if err != nil {
			return nil, fmt.Errorf("migrations: %s %s: %w", sources[i].Dialect, sources[i].Path, err)
		}
		if len(versions) == 0 {
			return nil, fmt.Errorf("migrations: %s directory %q has no *.up.sql files", sources[i].Dialect, sources[i].Path)
		}
		sources[i].Versions = versions
	}
	return sources, nil
}

// ForDialect picks the source for dialect.
func ForDialect(sources []Source, dialect string) (Source, bool) {
	normalized, ok := NormalizeDialect(dialect)
	if !ok {
		return Source{}, false
	}
	for _, source := range sources {
		if source.Dialect == normalized {
			return source, true
		}
	}
	return Source{}, false
}

// Register hands every selected dialect source to fn, postgres first.
func Register(ctx context.Context, fn RegisterFunc, opts ...Option) (Plan, error) {
	cfg := settings{
		label:    "go-mailbox",
		dialects: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	plan := Plan{Label: cfg.label, Dialects: cfg.dialects}
	if fn == nil {
		return plan, fmt.Errorf("migrations: register function is required")
	}

	sources, err := Sources(cfg.root)
	if err != nil {
		return plan, err
	}
	for _, source := range sources {
		if !slices.Contains(cfg.dialects, source.Dialect) {
			continue
		}
		if err := fn(ctx, source); err != nil {
			return plan, fmt.Errorf("migrations: register %s (%s): %w", source.Dialect, source.Path, err)
		}
		plan.Registered = append(plan.Registered, source)
	}
	return plan, nil
}

func schemaRoot(root fs.FS) (fs.FS, string, error) {
	if info, err := fs.Stat(root, schemaDir); err == nil && info.IsDir() {
		sub, subErr := fs.Sub(root, schemaDir)
		if subErr != nil {
			return nil, "", fmt.Errorf("migrations: open %s: %w", schemaDir, subErr)
		}
		return sub, schemaDir, nil
	}
	// Accept a root that is already the schema directory.
	if matches, err := fs.Glob(root, "*.up.sql"); err == nil && len(matches) > 0 {
		return root, ".", nil
	}
	return nil, "", fmt.Errorf("migrations: %s not found", schemaDir)
}

func upVersions(fsys fs.FS) ([]string, error) {
	matches, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(matches))
	for _, match := range matches {
		versions = append(versions, strings.TrimSuffix(match, ".up.sql"))
	}
	sort.Strings(versions)
	return versions, nil
}

func joinPath(base string, suffix string) string {
	if base == "." {
		return suffix
	}
	return strings.TrimSuffix(base, "/") + "/" + suffix
}
