package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// LatestSchemaVersion is the highest migration shipped with this package.
const LatestSchemaVersion = 3

// Schema declares which optional columns a deployed database has. Version 1
// is the bare chat tables, version 2 adds archive/rating/feedback/metadata to
// sessions, version 3 adds sender/timestamp to messages.
type Schema struct {
	Version   int
	Archive   bool
	Rating    bool
	Feedback  bool
	Metadata  bool
	Sender    bool
	Timestamp bool
}

// SchemaFor returns the column set of a schema version.
func SchemaFor(version int) Schema {
	return Schema{
		Version:   version,
		Archive:   version >= 2,
		Rating:    version >= 2,
		Feedback:  version >= 2,
		Metadata:  version >= 2,
		Sender:    version >= 3,
		Timestamp: version >= 3,
	}
}

func (sc Schema) sessionColumns() string {
	cols := []string{"id", "user_id", "title", "created_at", "updated_at"}
	if sc.Archive {
		cols = append(cols, "is_archived")
	}
	if sc.Rating {
		cols = append(cols, "rating")
	}
	if sc.Feedback {
		cols = append(cols, "feedback")
	}
	if sc.Metadata {
		cols = append(cols, "metadata")
	}
	return strings.Join(cols, ", ")
}

func (sc Schema) messageColumns() string {
	cols := []string{"id", "session_id", "message_order", "content", "is_user", "created_at"}
	if sc.Sender {
		cols = append(cols, "sender")
	}
	return strings.Join(cols, ", ")
}

// CreateSchema applies all pending migrations and adopts the resulting schema.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	if err := s.Migrate(ctx); err != nil {
		return err
	}
	_, err := s.DetectSchema(ctx)
	return err
}

// DetectSchema derives the schema version from the applied migrations and
// switches the store to it.
func (s *PGStore) DetectSchema(ctx context.Context) (Schema, error) {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return Schema{}, fmt.Errorf("fynq: ensure migrations table: %w", err)
	}
	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return Schema{}, fmt.Errorf("fynq: get applied migrations: %w", err)
	}

	version := 0
	for name := range applied {
		if v := migrationVersion(name); v > version {
			version = v
		}
	}
	s.schema = SchemaFor(version)
	return s.schema, nil
}

// DropSchema drops the chat tables and the migrations tracking table.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		DROP TABLE IF EXISTS fynq_migrations CASCADE;
		DROP TABLE IF EXISTS chat_messages CASCADE;
		DROP TABLE IF EXISTS chat_sessions CASCADE;
	`)
	return err
}

// migrationVersion parses the numeric prefix of "0002_session_extras".
func migrationVersion(name string) int {
	prefix, _, _ := strings.Cut(name, "_")
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return v
}
