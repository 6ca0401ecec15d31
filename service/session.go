// Package service wraps a fynq.RemoteStore with the fail-open session and
// message operations the sync core builds on. Errors are logged here and
// turned into empty results, nil or false.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/meikuraledutech/fynq"
)

const (
	MinRating = 1
	MaxRating = 5
)

// ArchiveOutcome says what ArchiveSessionDetailed ended up doing.
type ArchiveOutcome int

const (
	ArchiveFailed ArchiveOutcome = iota
	Archived
	// Deleted means the archive write failed and the session was removed
	// instead.
	Deleted
)

func (o ArchiveOutcome) String() string {
	switch o {
	case Archived:
		return "archived"
	case Deleted:
		return "deleted"
	default:
		return "failed"
	}
}

type SessionService struct {
	store fynq.RemoteStore
	log   *slog.Logger
}

// NewSessionService creates a SessionService. A nil logger uses slog.Default().
func NewSessionService(store fynq.RemoteStore, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{store: store, log: logger}
}

// LoadSessions returns the owner's sessions, most recently active first.
// Archived sessions are dropped unless includeArchived is set.
func (s *SessionService) LoadSessions(ctx context.Context, ownerID string, includeArchived bool) []fynq.Session {
	all, err := s.store.ListSessions(ctx, ownerID)
	if err != nil {
		s.log.Error("load sessions failed", "op", "load_sessions", "owner_id", ownerID, "err", err)
		return []fynq.Session{}
	}

	out := make([]fynq.Session, 0, len(all))
	for _, sess := range all {
		if sess.IsArchived && !includeArchived {
			continue
		}
		out = append(out, sess)
	}
	fynq.SortSessions(out)
	return out
}

// CreateSession inserts a session. An empty title becomes fynq.DefaultTitle.
func (s *SessionService) CreateSession(ctx context.Context, ownerID, title string, metadata map[string]any) *fynq.Session {
	sess, err := s.store.CreateSession(ctx, fynq.NewSession{OwnerID: ownerID, Title: title, Metadata: metadata})
	if err != nil {
		s.log.Error("create session failed", "op", "create_session", "owner_id", ownerID, "err", err)
		return nil
	}
	return sess
}

// ArchiveSession hides a session from default listings, deleting it when the
// archive write fails. It reports whether either succeeded.
func (s *SessionService) ArchiveSession(ctx context.Context, sessionID string) bool {
	return s.ArchiveSessionDetailed(ctx, sessionID) != ArchiveFailed
}

// ArchiveSessionDetailed is ArchiveSession reporting which write landed.
func (s *SessionService) ArchiveSessionDetailed(ctx context.Context, sessionID string) ArchiveOutcome {
	archived := true
	err := s.store.UpdateSession(ctx, sessionID, fynq.SessionUpdate{IsArchived: &archived})
	if err == nil {
		return Archived
	}
	if errors.Is(err, fynq.ErrSessionNotFound) {
		s.log.Warn("archive of unknown session", "op", "archive_session", "session_id", sessionID)
		return ArchiveFailed
	}

	s.log.Warn("archive failed, deleting instead", "op", "archive_session", "session_id", sessionID, "err", err)
	if !s.DeleteSession(ctx, sessionID) {
		return ArchiveFailed
	}
	return Deleted
}

// RateSession stores a rating in [MinRating, MaxRating] and optional
// feedback. An out-of-range rating still lets non-empty feedback through;
// with neither there is nothing to write and it returns false.
func (s *SessionService) RateSession(ctx context.Context, sessionID string, rating int, feedback string) bool {
	var upd fynq.SessionUpdate
	if rating >= MinRating && rating <= MaxRating {
		upd.Rating = &rating
	}
	if fb := strings.TrimSpace(feedback); fb != "" {
		upd.Feedback = &fb
	}
	if upd.Empty() {
		return false
	}

	if err := s.store.UpdateSession(ctx, sessionID, upd); err != nil {
		s.log.Error("rate session failed", "op", "rate_session", "session_id", sessionID, "err", err)
		return false
	}
	return true
}

// DeleteSession removes a session and its messages.
func (s *SessionService) DeleteSession(ctx context.Context, sessionID string) bool {
	if err := s.store.DeleteSession(ctx, sessionID); err != nil {
		s.log.Error("delete session failed", "op", "delete_session", "session_id", sessionID, "err", err)
		return false
	}
	return true
}
