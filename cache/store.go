package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/meikuraledutech/fynq"
)

const (
	sessionsBucketPrefix = "sessions:"
	messagesBucketPrefix = "messages:"
)

// SessionsBucket names the bucket holding an owner's sessions.
func SessionsBucket(ownerID string) string { return sessionsBucketPrefix + ownerID }

// MessagesBucket names the bucket holding a session's messages.
func MessagesBucket(sessionID string) string { return messagesBucketPrefix + sessionID }

// entry wraps a cached entity with the stamp it was written at. A write only
// replaces an existing entry whose stamp is not newer.
type entry[T any] struct {
	Stamp int64 `json:"stamp"`
	Value T     `json:"value"`
}

// Store is the typed cache used by the sync core. Each session and message is
// its own key, so concurrent writers of different entities never clobber
// each other.
type Store struct {
	kv  KV
	log *slog.Logger

	// serializes read-compare-write of stamps
	mu sync.Mutex
}

// NewStore wraps kv. A nil logger uses slog.Default().
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, log: logger}
}

// Close closes the underlying KV.
func (s *Store) Close() error {
	return s.kv.Close()
}

// PutSessions writes sessions stamped with their updated_at.
func (s *Store) PutSessions(ctx context.Context, ownerID string, sessions ...fynq.Session) error {
	for _, sess := range sessions {
		if err := put(ctx, s, SessionsBucket(ownerID), sess.ID, sess.UpdatedAt.UnixNano(), sess); err != nil {
			return fmt.Errorf("fynq: cache session %s: %w", sess.ID, err)
		}
	}
	return nil
}

// Sessions returns the cached sessions of an owner, most recent first.
func (s *Store) Sessions(ctx context.Context, ownerID string) ([]fynq.Session, error) {
	sessions, err := all[fynq.Session](ctx, s, SessionsBucket(ownerID))
	if err != nil {
		return nil, fmt.Errorf("fynq: cached sessions: %w", err)
	}
	fynq.SortSessions(sessions)
	return sessions, nil
}

// RemoveSession deletes a session and every cached message of it.
func (s *Store) RemoveSession(ctx context.Context, ownerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, SessionsBucket(ownerID), sessionID); err != nil {
		return fmt.Errorf("fynq: uncache session %s: %w", sessionID, err)
	}
	if err := s.kv.Drop(ctx, MessagesBucket(sessionID)); err != nil {
		return fmt.Errorf("fynq: uncache messages of %s: %w", sessionID, err)
	}
	return nil
}

// PutMessages writes messages stamped with their created_at.
func (s *Store) PutMessages(ctx context.Context, sessionID string, messages ...fynq.Message) error {
	for _, msg := range messages {
		if err := put(ctx, s, MessagesBucket(sessionID), msg.ID, msg.CreatedAt.UnixNano(), msg); err != nil {
			return fmt.Errorf("fynq: cache message %s: %w", msg.ID, err)
		}
	}
	return nil
}

// Messages returns the cached messages of a session in conversation order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]fynq.Message, error) {
	messages, err := all[fynq.Message](ctx, s, MessagesBucket(sessionID))
	if err != nil {
		return nil, fmt.Errorf("fynq: cached messages: %w", err)
	}
	fynq.SortMessages(messages)
	return messages, nil
}

// RemoveMessage deletes one cached message.
func (s *Store) RemoveMessage(ctx context.Context, sessionID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, MessagesBucket(sessionID), messageID); err != nil {
		return fmt.Errorf("fynq: uncache message %s: %w", messageID, err)
	}
	return nil
}

func put[T any](ctx context.Context, s *Store, bucket, key string, stamp int64, v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, err := s.kv.Get(ctx, bucket, key); err == nil {
		var cur entry[T]
		if json.Unmarshal(raw, &cur) == nil && cur.Stamp > stamp {
			return nil
		}
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	raw, err := json.Marshal(entry[T]{Stamp: stamp, Value: v})
	if err != nil {
		return err
	}
	return s.kv.Put(ctx, bucket, key, raw)
}

// all decodes a bucket. Undecodable entries are logged and skipped.
func all[T any](ctx context.Context, s *Store, bucket string) ([]T, error) {
	raw, err := s.kv.All(ctx, bucket)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for key, v := range raw {
		var e entry[T]
		if err := json.Unmarshal(v, &e); err != nil {
			s.log.Warn("skipping corrupt cache entry", "bucket", bucket, "key", key, "err", err)
			continue
		}
		out = append(out, e.Value)
	}
	return out, nil
}
