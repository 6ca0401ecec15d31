package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var ErrNoMigrations = errors.New("fynq: no applied migrations")

const createMigrationsTableSQL = `
CREATE TABLE IF NOT EXISTS fynq_migrations (
	id         SERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	checksum   TEXT NOT NULL
);`

// MigrationRecord reports the state of one embedded migration.
type MigrationRecord struct {
	Name      string     `json:"name" yaml:"name"`
	Version   int        `json:"version" yaml:"version"`
	Applied   bool       `json:"applied" yaml:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
	Checksum  string     `json:"checksum,omitempty" yaml:"checksum,omitempty"`
}

type migrationFile struct {
	Name     string
	Up       string
	Down     string
	Checksum string
}

type appliedMigration struct {
	ID        int
	Name      string
	AppliedAt time.Time
	Checksum  string
}

// loadMigrations reads the embedded up/down pairs sorted by name.
func loadMigrations() ([]migrationFile, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	up := make(map[string]string)
	down := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up[strings.TrimSuffix(name, ".up.sql")] = string(data)
		case strings.HasSuffix(name, ".down.sql"):
			down[strings.TrimSuffix(name, ".down.sql")] = string(data)
		}
	}

	migrations := make([]migrationFile, 0, len(up))
	for name, sql := range up {
		migrations = append(migrations, migrationFile{
			Name:     name,
			Up:       sql,
			Down:     down[name],
			Checksum: fmt.Sprintf("%x", sha256.Sum256([]byte(sql))),
		})
	}
	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Name < migrations[j].Name
	})
	return migrations, nil
}

func (s *PGStore) ensureMigrationsTable(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createMigrationsTableSQL)
	return err
}

func (s *PGStore) appliedMigrations(ctx context.Context) (map[string]appliedMigration, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, applied_at, checksum FROM fynq_migrations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var rec appliedMigration
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.AppliedAt, &rec.Checksum); err != nil {
			return nil, err
		}
		applied[rec.Name] = rec
	}
	return applied, rows.Err()
}

// Migrate applies pending migrations in order, each in its own transaction.
// A changed checksum on an applied migration aborts the run.
func (s *PGStore) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("fynq: ensure migrations table: %w", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("fynq: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("fynq: get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if rec, ok := applied[m.Name]; ok {
			if rec.Checksum != m.Checksum {
				return fmt.Errorf("fynq: migration %s checksum mismatch (expected %s, got %s)", m.Name, rec.Checksum, m.Checksum)
			}
			continue
		}

		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, m.Up); err != nil {
				return fmt.Errorf("run: %w", err)
			}
			if _, err := tx.Exec(ctx, `INSERT INTO fynq_migrations (name, checksum) VALUES ($1, $2)`, m.Name, m.Checksum); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("fynq: migration %s: %w", m.Name, err)
		}
	}
	return nil
}

// Rollback reverts the last applied migration and returns its name.
func (s *PGStore) Rollback(ctx context.Context) (string, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return "", fmt.Errorf("fynq: ensure migrations table: %w", err)
	}

	var id int
	var name string
	err := s.db.QueryRow(ctx, `SELECT id, name FROM fynq_migrations ORDER BY id DESC LIMIT 1`).Scan(&id, &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNoMigrations
	}
	if err != nil {
		return "", fmt.Errorf("fynq: get last migration: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return "", fmt.Errorf("fynq: load migrations: %w", err)
	}
	var downSQL string
	for _, m := range migrations {
		if m.Name == name {
			downSQL = m.Down
			break
		}
	}
	if downSQL == "" {
		return "", fmt.Errorf("fynq: no down migration for %s", name)
	}

	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, downSQL); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM fynq_migrations WHERE id = $1`, id); err != nil {
			return fmt.Errorf("remove record: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("fynq: rollback %s: %w", name, err)
	}

	s.schema = SchemaFor(migrationVersion(name) - 1)
	return name, nil
}

// MigrationStatus lists every embedded migration with its applied state.
func (s *PGStore) MigrationStatus(ctx context.Context) ([]MigrationRecord, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return nil, fmt.Errorf("fynq: ensure migrations table: %w", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		return nil, fmt.Errorf("fynq: load migrations: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fynq: get applied migrations: %w", err)
	}

	records := make([]MigrationRecord, 0, len(migrations))
	for _, m := range migrations {
		rec := MigrationRecord{Name: m.Name, Version: migrationVersion(m.Name)}
		if a, ok := applied[m.Name]; ok {
			t := a.AppliedAt
			rec.Applied = true
			rec.AppliedAt = &t
			rec.Checksum = a.Checksum
		}
		records = append(records, rec)
	}
	return records, nil
}
