package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"time"

	"github.com/kozaktomas/face-auth/internal/logger"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migration is one embedded schema file and, once applied, when it ran.
type Migration struct {
	Version   string     `json:"version"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

// Applied reports whether the migration is recorded in schema_migrations.
func (m Migration) Applied() bool {
	return m.AppliedAt != nil
}

// embeddedVersions lists the shipped migration files in apply order.
func embeddedVersions() ([]string, error) {
	matches, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	versions := make([]string, len(matches))
	for i, m := range matches {
		versions[i] = path.Base(m)
	}
	sort.Strings(versions)
	return versions, nil
}

func (p *Pool) ensureMigrationsTable(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// appliedAt maps recorded versions to their apply time.
func (p *Pool) appliedAt(ctx context.Context) (map[string]time.Time, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			v  string
			at time.Time
		)
		if err := rows.Scan(&v, &at); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out[v] = at
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	return out, nil
}

// Migrations lists every embedded migration with its applied status.
func (p *Pool) Migrations(ctx context.Context) ([]Migration, error) {
	if err := p.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	applied, err := p.appliedAt(ctx)
	if err != nil {
		return nil, err
	}
	versions, err := embeddedVersions()
	if err != nil {
		return nil, err
	}
	return joinMigrations(versions, applied), nil
}

func joinMigrations(versions []string, applied map[string]time.Time) []Migration {
	out := make([]Migration, 0, len(versions))
	for _, v := range versions {
		m := Migration{Version: v}
		if at, ok := applied[v]; ok {
			at := at
			m.AppliedAt = &at
		}
		out = append(out, m)
	}
	return out
}

// Migrate applies pending migrations in order, one transaction each.
func (p *Pool) Migrate(ctx context.Context) error {
	all, err := p.Migrations(ctx)
	if err != nil {
		return err
	}
	log := logger.Named("postgres")
	for _, m := range all {
		if m.Applied() {
			continue
		}
		if err := p.apply(ctx, m.Version); err != nil {
			return err
		}
		log.Info("applied migration", zap.String("version", m.Version))
	}
	return nil
}

func (p *Pool) apply(ctx context.Context, version string) (err error) {
	body, err := migrationsFS.ReadFile(path.Join("migrations", version))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", version, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("execute migration %s: %w", version, err)
	}
	if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
	}
	return nil
}
