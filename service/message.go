package service

import (
	"context"
	"log/slog"

	"github.com/meikuraledutech/fynq"
)

type MessageService struct {
	store fynq.RemoteStore
	log   *slog.Logger
}

// NewMessageService creates a MessageService. A nil logger uses slog.Default().
func NewMessageService(store fynq.RemoteStore, logger *slog.Logger) *MessageService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{store: store, log: logger}
}

// LoadMessages returns a session's messages in conversation order.
func (m *MessageService) LoadMessages(ctx context.Context, sessionID string) []fynq.Message {
	msgs, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		m.log.Error("load messages failed", "op", "load_messages", "session_id", sessionID, "err", err)
		return []fynq.Message{}
	}
	fynq.SortMessages(msgs)
	return msgs
}

// AddMessage appends a message and bumps the session's updated_at. Stores
// implementing fynq.AtomicAppender do both in one write; otherwise a failed
// bump is logged and the inserted message is still returned.
func (m *MessageService) AddMessage(ctx context.Context, sessionID, content string, sender fynq.Sender) *fynq.Message {
	if !sender.Valid() {
		m.log.Error("add message with invalid sender", "op", "add_message", "session_id", sessionID, "sender", string(sender))
		return nil
	}

	if app, ok := m.store.(fynq.AtomicAppender); ok {
		msg, err := app.AppendMessage(ctx, sessionID, content, sender)
		if err != nil {
			m.log.Error("append message failed", "op", "add_message", "session_id", sessionID, "err", err)
			return nil
		}
		return msg
	}

	msg, err := m.store.InsertMessage(ctx, sessionID, content, sender)
	if err != nil {
		m.log.Error("insert message failed", "op", "add_message", "session_id", sessionID, "err", err)
		return nil
	}
	if err := m.store.TouchSession(ctx, sessionID); err != nil {
		m.log.Warn("touch session failed", "op", "add_message", "session_id", sessionID, "err", err)
	}
	return msg
}
