package store

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// migrationLockID serialises concurrent migrators across processes.
const migrationLockID = 7_231_888

const createMigrationsTable = `
    CREATE TABLE IF NOT EXISTS schema_migrations (
        version    TEXT PRIMARY KEY,
        applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
    )
`

// Migrate applies every NNNN_name.up.sql file found in dir of fsys that has
// not been applied yet, in lexical order, each in its own transaction. It
// returns the versions it applied.
func (s *Store) Migrate(ctx context.Context, fsys fs.FS, dir string) ([]string, error) {
	files, err := migrationFiles(fsys, dir, ".up.sql")
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, createMigrationsTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, file := range files {
		version := strings.TrimSuffix(path.Base(file), ".up.sql")
		payload, err := fs.ReadFile(fsys, file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}

		var ran bool
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
				return err
			}
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, version).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.Exec(ctx, string(payload)); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", version, err)
		}
		if ran {
			s.logger.Info("applied migration", slog.String("version", version))
			applied = append(applied, version)
		}
	}
	return applied, nil
}

// Rollback reverts the most recently applied migration using its down file.
// It returns the reverted version, or "" when nothing is applied.
func (s *Store) Rollback(ctx context.Context, fsys fs.FS, dir string) (string, error) {
	if _, err := s.pool.Exec(ctx, createMigrationsTable); err != nil {
		return "", fmt.Errorf("create schema_migrations: %w", err)
	}

	var reverted string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
			return err
		}
		var version string
		err := tx.QueryRow(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
		if err == pgx.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		payload, err := fs.ReadFile(fsys, path.Join(dir, version+".down.sql"))
		if err != nil {
			return fmt.Errorf("read down migration: %w", err)
		}
		if _, err := tx.Exec(ctx, string(payload)); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM schema_migrations WHERE version = $1`, version); err != nil {
			return err
		}
		reverted = version
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("rollback migration: %w", err)
	}
	if reverted != "" {
		s.logger.Info("reverted migration", slog.String("version", reverted))
	}
	return reverted, nil
}

func migrationFiles(fsys fs.FS, dir, suffix string) ([]string, error) {
	files, err := fs.Glob(fsys, path.Join(dir, "*_*"+suffix))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migration files found in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}
