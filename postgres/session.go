package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/meikuraledutech/fynq"
)

// ListSessions returns the owner's sessions, most recently active first.
// Archived sessions are included; filtering is the caller's decision.
func (s *PGStore) ListSessions(ctx context.Context, ownerID string) ([]fynq.Session, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+s.schema.sessionColumns()+`
		 FROM chat_sessions WHERE user_id = $1
		 ORDER BY updated_at DESC, created_at DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("fynq: list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []fynq.Session
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("fynq: scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fynq: list sessions: %w", err)
	}
	return sessions, nil
}

// CreateSession inserts a session. Metadata is written only when non-empty
// and the schema has the column.
func (s *PGStore) CreateSession(ctx context.Context, in fynq.NewSession) (*fynq.Session, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fynq.DefaultTitle
	}

	cols := []string{"id", "user_id", "title"}
	args := []any{uuid.New().String(), in.OwnerID, title}
	if s.schema.Metadata && len(in.Metadata) > 0 {
		cols = append(cols, "metadata")
		args = append(args, in.Metadata)
	}

	sql := fmt.Sprintf(`INSERT INTO chat_sessions (%s) VALUES (%s) RETURNING %s`,
		strings.Join(cols, ", "), placeholders(len(args)), s.schema.sessionColumns())

	sess, err := s.scanSession(s.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, fmt.Errorf("fynq: create session: %w", err)
	}
	return &sess, nil
}

// UpdateSession applies a partial update. Fields whose column is absent from
// the schema yield fynq.ErrUnsupported.
func (s *PGStore) UpdateSession(ctx context.Context, sessionID string, upd fynq.SessionUpdate) error {
	if upd.Empty() {
		return nil
	}

	var sets []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.IsArchived != nil {
		if !s.schema.Archive {
			return fmt.Errorf("fynq: update session is_archived: %w", fynq.ErrUnsupported)
		}
		add("is_archived", *upd.IsArchived)
	}
	if upd.Rating != nil {
		if !s.schema.Rating {
			return fmt.Errorf("fynq: update session rating: %w", fynq.ErrUnsupported)
		}
		add("rating", *upd.Rating)
	}
	if upd.Feedback != nil {
		if !s.schema.Feedback {
			return fmt.Errorf("fynq: update session feedback: %w", fynq.ErrUnsupported)
		}
		add("feedback", *upd.Feedback)
	}
	args = append(args, sessionID)

	tag, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE chat_sessions SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...,
	)
	if err != nil {
		return fmt.Errorf("fynq: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fynq.ErrSessionNotFound
	}
	return nil
}

// TouchSession bumps updated_at to now, never moving it backwards.
func (s *PGStore) TouchSession(ctx context.Context, sessionID string) error {
	return touchSession(ctx, s.db, sessionID)
}

func touchSession(ctx context.Context, q querier, sessionID string) error {
	tag, err := q.Exec(ctx,
		`UPDATE chat_sessions SET updated_at = GREATEST(updated_at, clock_timestamp()) WHERE id = $1`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("fynq: touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fynq.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session; its messages go with it.
func (s *PGStore) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("fynq: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fynq.ErrSessionNotFound
	}
	return nil
}

// scanSession reads one row selected with sessionColumns.
func (s *PGStore) scanSession(row pgx.Row) (fynq.Session, error) {
	var (
		sess     fynq.Session
		archived pgtype.Bool
		rating   pgtype.Int4
		feedback pgtype.Text
		metadata map[string]any
	)
	dest := []any{&sess.ID, &sess.OwnerID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt}
	if s.schema.Archive {
		dest = append(dest, &archived)
	}
	if s.schema.Rating {
		dest = append(dest, &rating)
	}
	if s.schema.Feedback {
		dest = append(dest, &feedback)
	}
	if s.schema.Metadata {
		dest = append(dest, &metadata)
	}

	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fynq.Session{}, fynq.ErrSessionNotFound
		}
		return fynq.Session{}, err
	}

	sess.IsArchived = archived.Valid && archived.Bool
	if rating.Valid {
		r := int(rating.Int32)
		sess.Rating = &r
	}
	if feedback.Valid {
		f := feedback.String
		sess.Feedback = &f
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	sess.Metadata = metadata
	return sess, nil
}

// placeholders returns "$1, $2, ..., $n".
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}
