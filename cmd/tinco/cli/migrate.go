package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MigrationStore tracks and applies schema migrations.
type MigrationStore interface {
	EnsureTable(ctx context.Context) error
	Applied(ctx context.Context) (map[string]bool, error)
	Apply(ctx context.Context, name, sql string) error
}

// PGMigrationStore records applied files in schema_migrations.
type PGMigrationStore struct {
	pool *pgxpool.Pool
}

// NewPGMigrationStore constructs the store.
func NewPGMigrationStore(pool *pgxpool.Pool) *PGMigrationStore {
	return &PGMigrationStore{pool: pool}
}

// EnsureTable creates schema_migrations when missing.
func (s *PGMigrationStore) EnsureTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		name TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	return err
}

// Applied lists migration names already recorded.
func (s *PGMigrationStore) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT name FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

// Apply runs one file and records it in the same transaction.
func (s *PGMigrationStore) Apply(ctx context.Context, name, sql string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, name)
		return err
	})
}

// MigrateOptions configures the migrate command.
type MigrateOptions struct {
	Files  fs.FS
	Stdout io.Writer
	Stderr io.Writer
}

// MigrateCommand applies pending *.sql files from opts.Files in name order.
func MigrateCommand(ctx context.Context, store MigrationStore, opts MigrateOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	applied, err := Migrate(ctx, store, opts.Files)
	for _, name := range applied {
		_, _ = fmt.Fprintf(opts.Stdout, "applied %s\n", name)
	}
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "migrate: %v\n", err)
		return 1
	}
	if len(applied) == 0 {
		_, _ = fmt.Fprintln(opts.Stdout, "schema up to date")
	}
	return 0
}

// Migrate applies pending migrations and returns the names it applied.
func Migrate(ctx context.Context, store MigrationStore, files fs.FS) ([]string, error) {
	if err := store.EnsureTable(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	done, err := store.Applied(ctx)
	if err != nil {
		return nil, fmt.Errorf("list applied: %w", err)
	}
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	var applied []string
	for _, name := range names {
		if done[name] {
			continue
		}
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}
		if strings.TrimSpace(string(body)) == "" {
			continue
		}
		if err := store.Apply(ctx, path.Base(name), string(body)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", name, err)
		}
		applied = append(applied, name)
	}
	return applied, nil
}
