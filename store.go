package fynq

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound = errors.New("fynq: session not found")
	ErrUnsupported     = errors.New("fynq: operation not supported by schema")
)

// NewSession carries the caller-supplied fields of a session insert.
type NewSession struct {
	OwnerID  string
	Title    string
	Metadata map[string]any
}

// SessionUpdate is a partial update; nil fields are left untouched.
type SessionUpdate struct {
	IsArchived *bool
	Rating     *int
	Feedback   *string
}

// Empty reports whether the update would not change any column.
func (u SessionUpdate) Empty() bool {
	return u.IsArchived == nil && u.Rating == nil && u.Feedback == nil
}

// RemoteStore is the authoritative relational store for sessions and messages.
type RemoteStore interface {
	// Sessions
	ListSessions(ctx context.Context, ownerID string) ([]Session, error)
	CreateSession(ctx context.Context, in NewSession) (*Session, error)
	UpdateSession(ctx context.Context, sessionID string, upd SessionUpdate) error
	TouchSession(ctx context.Context, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error

	// Messages
	ListMessages(ctx context.Context, sessionID string) ([]Message, error)
	InsertMessage(ctx context.Context, sessionID string, content string, sender Sender) (*Message, error)
}

// AtomicAppender is implemented by stores that can insert a message and bump
// the owning session's updated_at in one transaction.
type AtomicAppender interface {
	AppendMessage(ctx context.Context, sessionID string, content string, sender Sender) (*Message, error)
}
