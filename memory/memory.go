// Package memory is an in-process fynq.RemoteStore. It backs offline mode in
// the CLI and stands in for PostgreSQL in tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meikuraledutech/fynq"
)

// Store keeps sessions and messages in maps guarded by one lock. Message
// insert and session touch are separate writes, as with a store that has no
// transactions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*fynq.Session
	messages map[string][]fynq.Message
	seq      map[string]int64
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now for created_at and updated_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*fynq.Session),
		messages: make(map[string][]fynq.Message),
		seq:      make(map[string]int64),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ fynq.RemoteStore = (*Store)(nil)

func (s *Store) ListSessions(_ context.Context, ownerID string) ([]fynq.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]fynq.Session, 0)
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID {
			sessions = append(sessions, cloneSession(*sess))
		}
	}
	fynq.SortSessions(sessions)
	return sessions, nil
}

func (s *Store) CreateSession(_ context.Context, in fynq.NewSession) (*fynq.Session, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fynq.DefaultTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &fynq.Session{
		ID:        uuid.New().String(),
		OwnerID:   in.OwnerID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  maps.Clone(in.Metadata),
	}
	if sess.Metadata == nil {
		sess.Metadata = map[string]any{}
	}
	s.sessions[sess.ID] = sess

	out := cloneSession(*sess)
	return &out, nil
}

func (s *Store) UpdateSession(_ context.Context, sessionID string, upd fynq.SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fynq.ErrSessionNotFound
	}
	if upd.IsArchived != nil {
		sess.IsArchived = *upd.IsArchived
	}
	if upd.Rating != nil {
		r := *upd.Rating
		sess.Rating = &r
	}
	if upd.Feedback != nil {
		f := *upd.Feedback
		sess.Feedback = &f
	}
	return nil
}

func (s *Store) TouchSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fynq.ErrSessionNotFound
	}
	if now := s.now(); now.After(sess.UpdatedAt) {
		sess.UpdatedAt = now
	}
	return nil
}

func (s *Store) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return fynq.ErrSessionNotFound
	}
	delete(s.sessions, sessionID)
	delete(s.messages, sessionID)
	delete(s.seq, sessionID)
	return nil
}

func (s *Store) ListMessages(_ context.Context, sessionID string) ([]fynq.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := append([]fynq.Message{}, s.messages[sessionID]...)
	fynq.SortMessages(messages)
	return messages, nil
}

func (s *Store) InsertMessage(_ context.Context, sessionID string, content string, sender fynq.Sender) (*fynq.Message, error) {
	if !sender.Valid() {
		return nil, fmt.Errorf("fynq: add message: invalid sender %q", sender)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, fynq.ErrSessionNotFound
	}
	s.seq[sessionID]++
	msg := fynq.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Seq:       s.seq[sessionID],
		Content:   content,
		Sender:    sender,
		CreatedAt: s.now(),
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return &msg, nil
}

func cloneSession(sess fynq.Session) fynq.Session {
	if sess.Rating != nil {
		r := *sess.Rating
		sess.Rating = &r
	}
	if sess.Feedback != nil {
		f := *sess.Feedback
		sess.Feedback = &f
	}
	sess.Metadata = maps.Clone(sess.Metadata)
	return sess
}
