package chatsync

import (
	"context"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/meikuraledutech/fynq"
)

// SetOwner switches the chat to another owner, resets the state and hydrates
// it. An empty owner signs out and leaves the state empty.
func (c *Chat) SetOwner(ctx context.Context, ownerID string) {
	c.mu.Lock()
	c.owner = ownerID
	c.epoch++
	c.gone = make(map[string]struct{})
	c.state = State{Sessions: []fynq.Session{}, CurrentMessages: []fynq.Message{}}
	c.publishLocked()
	c.mu.Unlock()

	if ownerID != "" {
		c.Hydrate(ctx)
	}
}

// Hydrate serves the cached sessions and active messages first, then
// replaces them with the merged remote lists and writes those back to the
// cache. Temporary records left in the cache by an interrupted write are
// purged.
func (c *Chat) Hydrate(ctx context.Context) {
	owner, epoch, current := c.current()
	if owner == "" {
		return
	}

	c.mu.Lock()
	c.state.Loading = true
	c.publishLocked()
	c.mu.Unlock()

	cachedSessions := c.cachedSessions(ctx, owner)
	var cachedMessages []fynq.Message
	if current != "" {
		cachedMessages = c.cachedMessages(ctx, current, true)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state.Sessions = c.mergeSessionsLocked(cachedSessions, false)
	if current != "" && c.state.CurrentSessionID == current {
		c.state.CurrentMessages = c.mergeMessagesLocked(cachedMessages)
	}
	c.publishLocked()
	c.mu.Unlock()

	var (
		remoteSessions []fynq.Session
		remoteMessages []fynq.Message
	)
	wg := conc.NewWaitGroup()
	wg.Go(func() {
		remoteSessions = c.sessions.LoadSessions(ctx, owner, false)
	})
	if current != "" {
		wg.Go(func() {
			remoteMessages = c.messages.LoadMessages(ctx, current)
		})
	}
	wg.Wait()

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.state.Sessions = c.mergeSessionsLocked(remoteSessions, false)
	if current != "" && c.state.CurrentSessionID == current {
		c.state.CurrentMessages = c.mergeMessagesLocked(remoteMessages)
	}
	c.state.Loading = false
	c.publishLocked()
	c.mu.Unlock()

	if err := c.cache.PutSessions(ctx, owner, remoteSessions...); err != nil {
		c.cacheFailed("hydrate", err, "owner_id", owner)
	}
	if current != "" {
		if err := c.cache.PutMessages(ctx, current, remoteMessages...); err != nil {
			c.cacheFailed("hydrate", err, "session_id", current)
		}
	}
}

// cachedSessions reads the owner's cached sessions and purges temporary
// ones. Archived sessions are dropped.
func (c *Chat) cachedSessions(ctx context.Context, owner string) []fynq.Session {
	all, err := c.cache.Sessions(ctx, owner)
	if err != nil {
		c.log.Warn("cache read failed", "op", "hydrate", "owner_id", owner, "err", err)
		c.metrics.cacheRead("sessions", false)
		return nil
	}

	out := make([]fynq.Session, 0, len(all))
	for _, s := range all {
		if fynq.IsTempID(s.ID) {
			if err := c.cache.RemoveSession(ctx, owner, s.ID); err != nil {
				c.cacheFailed("purge_temp", err, "session_id", s.ID)
			}
			continue
		}
		if s.IsArchived {
			continue
		}
		out = append(out, s)
	}
	c.metrics.cacheRead("sessions", len(out) > 0)
	return out
}

// cachedMessages reads a session's cached messages. Temporary messages are
// skipped, and removed from the cache when purge is set.
func (c *Chat) cachedMessages(ctx context.Context, sessionID string, purge bool) []fynq.Message {
	all, err := c.cache.Messages(ctx, sessionID)
	if err != nil {
		c.log.Warn("cache read failed", "op", "load_messages", "session_id", sessionID, "err", err)
		c.metrics.cacheRead("messages", false)
		return nil
	}

	out := make([]fynq.Message, 0, len(all))
	for _, m := range all {
		if fynq.IsTempID(m.ID) {
			if purge {
				if err := c.cache.RemoveMessage(ctx, sessionID, m.ID); err != nil {
					c.cacheFailed("purge_temp", err, "message_id", m.ID)
				}
			}
			continue
		}
		out = append(out, m)
	}
	c.metrics.cacheRead("messages", len(out) > 0)
	return out
}

// LoadSessions fetches the owner's sessions, merges them into the state and
// returns the resulting list. Pending optimistic sessions survive the merge.
// Archived sessions are kept only when includeArchived is set.
func (c *Chat) LoadSessions(ctx context.Context, includeArchived bool) []fynq.Session {
	owner, epoch, _ := c.current()
	if owner == "" {
		return nil
	}

	remote := c.sessions.LoadSessions(ctx, owner, includeArchived)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return nil
	}
	c.state.Sessions = c.mergeSessionsLocked(remote, includeArchived)
	out := append([]fynq.Session{}, c.state.Sessions...)
	c.publishLocked()
	c.mu.Unlock()

	if err := c.cache.PutSessions(ctx, owner, remote...); err != nil {
		c.cacheFailed("load_sessions", err, "owner_id", owner)
	}
	return out
}

// SwitchToSession makes sessionID the active session. Cached messages are
// shown immediately when present; the remote list is always fetched and
// merged in.
func (c *Chat) SwitchToSession(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.owner == "" {
		c.mu.Unlock()
		return
	}
	epoch := c.epoch
	if c.state.CurrentSessionID != sessionID {
		c.state.CurrentSessionID = sessionID
		c.state.CurrentMessages = []fynq.Message{}
		c.publishLocked()
	}
	c.mu.Unlock()

	if sessionID == "" {
		return
	}

	if cached := c.cachedMessages(ctx, sessionID, false); len(cached) > 0 {
		c.mu.Lock()
		if c.epoch == epoch && c.state.CurrentSessionID == sessionID {
			c.state.CurrentMessages = c.mergeMessagesLocked(cached)
			c.publishLocked()
		}
		c.mu.Unlock()
	}

	c.reloadMessages(ctx, epoch, sessionID)
}

// reloadMessages fetches a session's messages and merges them into the state
// when the session is still active.
func (c *Chat) reloadMessages(ctx context.Context, epoch uint64, sessionID string) {
	msgs := c.messages.LoadMessages(ctx, sessionID)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if c.state.CurrentSessionID == sessionID {
		c.state.CurrentMessages = c.mergeMessagesLocked(msgs)
		c.publishLocked()
	}
	_, gone := c.gone[sessionID]
	c.mu.Unlock()

	if gone {
		return
	}
	if err := c.cache.PutMessages(ctx, sessionID, msgs...); err != nil {
		c.cacheFailed("load_messages", err, "session_id", sessionID)
	}
}

// Run reconciles with the remote store every reconcile interval until ctx is
// done. It catches updates a best-effort session touch may have missed.
func (c *Chat) Run(ctx context.Context) error {
	t := time.NewTicker(c.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			c.reconcile(ctx)
		}
	}
}

func (c *Chat) reconcile(ctx context.Context) {
	owner, epoch, current := c.current()
	if owner == "" {
		return
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() { c.LoadSessions(ctx, false) })
	if current != "" {
		wg.Go(func() { c.reloadMessages(ctx, epoch, current) })
	}
	wg.Wait()
	c.metrics.reconciled()
	c.log.Debug("reconciled", "op", "reconcile", "owner_id", owner)
}
