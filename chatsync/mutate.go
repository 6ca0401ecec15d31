package chatsync

import (
	"context"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/meikuraledutech/fynq"
	"github.com/meikuraledutech/fynq/service"
)

// CreateSession shows a temporary session at once, creates the real one
// remotely and swaps it in. On failure the temporary session is removed and
// nil is returned.
func (c *Chat) CreateSession(ctx context.Context, title string, metadata map[string]any) *fynq.Session {
	c.mu.Lock()
	owner, epoch := c.owner, c.epoch
	if owner == "" {
		c.mu.Unlock()
		return nil
	}
	now := c.now()
	temp := fynq.Session{
		ID:        c.tempID(),
		OwnerID:   owner,
		Title:     strings.TrimSpace(title),
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  metadata,
	}
	if temp.Title == "" {
		temp.Title = fynq.DefaultTitle
	}
	c.state.Sessions = fynq.MergeSessions(c.state.Sessions, []fynq.Session{temp})
	c.publishLocked()
	c.mu.Unlock()

	c.metrics.optimisticOp("create_session")
	if err := c.cache.PutSessions(ctx, owner, temp); err != nil {
		c.cacheFailed("create_session", err, "session_id", temp.ID)
	}

	created := c.sessions.CreateSession(ctx, owner, title, metadata)

	c.mu.Lock()
	if c.epoch == epoch {
		c.state.Sessions = fynq.WithoutSession(c.state.Sessions, temp.ID)
		if created != nil {
			c.state.Sessions = fynq.MergeSessions(c.state.Sessions, []fynq.Session{*created})
		}
		c.publishLocked()
	}
	c.mu.Unlock()

	if err := c.cache.RemoveSession(ctx, owner, temp.ID); err != nil {
		c.cacheFailed("create_session", err, "session_id", temp.ID)
	}
	if created == nil {
		c.metrics.rollback("create_session")
		c.log.Warn("optimistic create rolled back", "op", "create_session", "owner_id", owner)
		return nil
	}
	if err := c.cache.PutSessions(ctx, owner, *created); err != nil {
		c.cacheFailed("create_session", err, "session_id", created.ID)
	}

	c.LoadSessions(ctx, false)
	return created
}

// StartNewChat creates a session titled fynq.DefaultTitle and makes it the
// active one with no messages.
func (c *Chat) StartNewChat(ctx context.Context, metadata map[string]any) *fynq.Session {
	_, epoch, _ := c.current()
	sess := c.CreateSession(ctx, fynq.DefaultTitle, metadata)
	if sess == nil {
		return nil
	}

	c.mu.Lock()
	if c.epoch == epoch {
		c.state.CurrentSessionID = sess.ID
		c.state.CurrentMessages = []fynq.Message{}
		c.publishLocked()
	}
	c.mu.Unlock()
	return sess
}

// AddMessage shows a temporary message in the active list at once, stores
// the real one remotely and swaps it in, then refreshes the message and
// session lists. An empty sessionID targets the active session, starting a
// new chat when there is none. On failure the temporary message is removed
// and nil is returned.
func (c *Chat) AddMessage(ctx context.Context, sessionID, content string, sender fynq.Sender) *fynq.Message {
	owner, epoch, current := c.current()
	if owner == "" || !sender.Valid() {
		return nil
	}
	if sessionID == "" {
		sessionID = current
	}
	if sessionID == "" {
		sess := c.StartNewChat(ctx, nil)
		if sess == nil {
			return nil
		}
		sessionID = sess.ID
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	temp := fynq.Message{
		ID:        c.tempID(),
		SessionID: sessionID,
		Content:   content,
		Sender:    sender,
		CreatedAt: c.now(),
	}
	if c.state.CurrentSessionID == sessionID {
		if n := len(c.state.CurrentMessages); n > 0 {
			temp.Seq = c.state.CurrentMessages[n-1].Seq + 1
		}
		c.state.CurrentMessages = fynq.MergeMessages(c.state.CurrentMessages, []fynq.Message{temp})
		c.publishLocked()
	}
	c.mu.Unlock()

	c.metrics.optimisticOp("add_message")
	if err := c.cache.PutMessages(ctx, sessionID, temp); err != nil {
		c.cacheFailed("add_message", err, "session_id", sessionID)
	}

	stored := c.messages.AddMessage(ctx, sessionID, content, sender)

	c.mu.Lock()
	if c.epoch == epoch && c.state.CurrentSessionID == sessionID {
		c.state.CurrentMessages = fynq.WithoutMessage(c.state.CurrentMessages, temp.ID)
		if stored != nil {
			c.state.CurrentMessages = fynq.MergeMessages(c.state.CurrentMessages, []fynq.Message{*stored})
		}
		c.publishLocked()
	}
	c.mu.Unlock()

	if err := c.cache.RemoveMessage(ctx, sessionID, temp.ID); err != nil {
		c.cacheFailed("add_message", err, "message_id", temp.ID)
	}
	if stored == nil {
		c.metrics.rollback("add_message")
		c.log.Warn("optimistic append rolled back", "op", "add_message", "session_id", sessionID)
		return nil
	}
	if err := c.cache.PutMessages(ctx, sessionID, *stored); err != nil {
		c.cacheFailed("add_message", err, "message_id", stored.ID)
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() { c.reloadMessages(ctx, epoch, sessionID) })
	wg.Go(func() { c.LoadSessions(ctx, false) })
	wg.Wait()
	return stored
}

// DeleteSession removes a session remotely, then locally. Deleting the
// active session clears it.
func (c *Chat) DeleteSession(ctx context.Context, sessionID string) bool {
	owner, epoch, _ := c.current()
	if owner == "" {
		return false
	}
	if !c.sessions.DeleteSession(ctx, sessionID) {
		return false
	}
	c.dropLocal(ctx, owner, epoch, sessionID, true)
	c.LoadSessions(ctx, false)
	return true
}

// ArchiveSession archives a session, or deletes it when archiving is not
// possible, and removes it from the list. Archiving the active session
// clears it.
func (c *Chat) ArchiveSession(ctx context.Context, sessionID string) bool {
	return c.ArchiveSessionDetailed(ctx, sessionID) != service.ArchiveFailed
}

// ArchiveSessionDetailed is ArchiveSession reporting whether the session was
// archived or deleted.
func (c *Chat) ArchiveSessionDetailed(ctx context.Context, sessionID string) service.ArchiveOutcome {
	owner, epoch, _ := c.current()
	if owner == "" {
		return service.ArchiveFailed
	}
	outcome := c.sessions.ArchiveSessionDetailed(ctx, sessionID)
	if outcome == service.ArchiveFailed {
		return outcome
	}
	c.dropLocal(ctx, owner, epoch, sessionID, outcome == service.Deleted)
	c.LoadSessions(ctx, false)
	return outcome
}

// RateSession records a rating and feedback, then refreshes the list.
func (c *Chat) RateSession(ctx context.Context, sessionID string, rating int, feedback string) bool {
	owner, _, _ := c.current()
	if owner == "" {
		return false
	}
	if !c.sessions.RateSession(ctx, sessionID, rating, feedback) {
		return false
	}
	c.LoadSessions(ctx, false)
	return true
}

// dropLocal removes a session from state and cache. Deleted sessions are
// remembered so stale fetches cannot bring them back.
func (c *Chat) dropLocal(ctx context.Context, owner string, epoch uint64, sessionID string, deleted bool) {
	c.mu.Lock()
	if c.epoch == epoch {
		if deleted {
			c.gone[sessionID] = struct{}{}
		}
		c.state.Sessions = fynq.WithoutSession(c.state.Sessions, sessionID)
		if c.state.CurrentSessionID == sessionID {
			c.state.CurrentSessionID = ""
			c.state.CurrentMessages = []fynq.Message{}
		}
		c.publishLocked()
	}
	c.mu.Unlock()

	if err := c.cache.RemoveSession(ctx, owner, sessionID); err != nil {
		c.cacheFailed("remove_session", err, "session_id", sessionID)
	}
}
