package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/meikuraledutech/fynq"
)

// InsertMessage appends a message to a session with the next message_order.
func (s *PGStore) InsertMessage(ctx context.Context, sessionID string, content string, sender fynq.Sender) (*fynq.Message, error) {
	var msg *fynq.Message
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		msg, err = s.insertMessage(ctx, tx, sessionID, content, sender)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fynq: add message: %w", err)
	}
	return msg, nil
}

// AppendMessage inserts the message and bumps the session's updated_at in one
// transaction.
func (s *PGStore) AppendMessage(ctx context.Context, sessionID string, content string, sender fynq.Sender) (*fynq.Message, error) {
	var msg *fynq.Message
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var err error
		if msg, err = s.insertMessage(ctx, tx, sessionID, content, sender); err != nil {
			return err
		}
		return touchSession(ctx, tx, sessionID)
	})
	if err != nil {
		return nil, fmt.Errorf("fynq: append message: %w", err)
	}
	return msg, nil
}

// insertMessage locks the parent session row so concurrent appends to one
// session get distinct, increasing message_order and created_at values.
func (s *PGStore) insertMessage(ctx context.Context, tx pgx.Tx, sessionID string, content string, sender fynq.Sender) (*fynq.Message, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("invalid sender %q", sender)
	}

	var locked string
	err := tx.QueryRow(ctx, `SELECT id FROM chat_sessions WHERE id = $1 FOR UPDATE`, sessionID).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fynq.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock session: %w", err)
	}

	msg := &fynq.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Content:   content,
		Sender:    sender,
	}
	isUser, senderText := encodeSender(sender)

	sql := `INSERT INTO chat_messages (id, session_id, content, is_user, message_order, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE((SELECT MAX(message_order) FROM chat_messages WHERE session_id = $2), 0) + 1, clock_timestamp())
		 RETURNING message_order, created_at`
	args := []any{msg.ID, sessionID, content, isUser}
	if s.schema.Sender {
		sql = `INSERT INTO chat_messages (id, session_id, content, is_user, message_order, created_at, sender, timestamp)
		 VALUES ($1, $2, $3, $4, COALESCE((SELECT MAX(message_order) FROM chat_messages WHERE session_id = $2), 0) + 1, clock_timestamp(), $5, clock_timestamp())
		 RETURNING message_order, created_at`
		args = append(args, senderText)
	}

	if err := tx.QueryRow(ctx, sql, args...).Scan(&msg.Seq, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert: %w", err)
	}
	return msg, nil
}

// ListMessages returns a session's messages ordered by created_at, then
// message_order.
func (s *PGStore) ListMessages(ctx context.Context, sessionID string) ([]fynq.Message, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+s.schema.messageColumns()+`
		 FROM chat_messages WHERE session_id = $1
		 ORDER BY created_at ASC, message_order ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("fynq: list messages: %w", err)
	}
	defer rows.Close()

	var messages []fynq.Message
	for rows.Next() {
		var (
			msg    fynq.Message
			isUser bool
			sender pgtype.Text
		)
		dest := []any{&msg.ID, &msg.SessionID, &msg.Seq, &msg.Content, &isUser, &msg.CreatedAt}
		if s.schema.Sender {
			dest = append(dest, &sender)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("fynq: scan message: %w", err)
		}
		msg.Sender = decodeSender(sender, isUser)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fynq: list messages: %w", err)
	}
	return messages, nil
}

// encodeSender produces both column encodings of a sender.
func encodeSender(s fynq.Sender) (isUser bool, sender string) {
	return s == fynq.SenderUser, string(s)
}

// decodeSender prefers the sender column and falls back to is_user.
func decodeSender(sender pgtype.Text, isUser bool) fynq.Sender {
	if sender.Valid {
		if parsed, err := fynq.ParseSender(sender.String); err == nil {
			return parsed
		}
	}
	if isUser {
		return fynq.SenderUser
	}
	return fynq.SenderBot
}
