package chatsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meikuraledutech/fynq"
	"github.com/meikuraledutech/fynq/cache"
	"github.com/meikuraledutech/fynq/memory"
	"github.com/meikuraledutech/fynq/service"
)

var errDown = errors.New("store down")

// fakeStore is a memory store with switchable failures and an optional gate
// that holds InsertMessage until it is closed.
type fakeStore struct {
	*memory.Store

	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]int
	gate  chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		Store: memory.New(memory.WithClock(ticker())),
		fail:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

func (f *fakeStore) setFail(method string, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[method] = on
}

func (f *fakeStore) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeStore) hit(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	if f.fail[method] {
		return errDown
	}
	return nil
}

func (f *fakeStore) ListSessions(ctx context.Context, ownerID string) ([]fynq.Session, error) {
	if err := f.hit("ListSessions"); err != nil {
		return nil, err
	}
	return f.Store.ListSessions(ctx, ownerID)
}

func (f *fakeStore) CreateSession(ctx context.Context, in fynq.NewSession) (*fynq.Session, error) {
	if err := f.hit("CreateSession"); err != nil {
		return nil, err
	}
	return f.Store.CreateSession(ctx, in)
}

func (f *fakeStore) UpdateSession(ctx context.Context, id string, upd fynq.SessionUpdate) error {
	if err := f.hit("UpdateSession"); err != nil {
		return err
	}
	return f.Store.UpdateSession(ctx, id, upd)
}

func (f *fakeStore) TouchSession(ctx context.Context, id string) error {
	if err := f.hit("TouchSession"); err != nil {
		return err
	}
	return f.Store.TouchSession(ctx, id)
}

func (f *fakeStore) DeleteSession(ctx context.Context, id string) error {
	if err := f.hit("DeleteSession"); err != nil {
		return err
	}
	return f.Store.DeleteSession(ctx, id)
}

func (f *fakeStore) ListMessages(ctx context.Context, id string) ([]fynq.Message, error) {
	if err := f.hit("ListMessages"); err != nil {
		return nil, err
	}
	return f.Store.ListMessages(ctx, id)
}

func (f *fakeStore) InsertMessage(ctx context.Context, id, content string, sender fynq.Sender) (*fynq.Message, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if err := f.hit("InsertMessage"); err != nil {
		return nil, err
	}
	return f.Store.InsertMessage(ctx, id, content, sender)
}

// ticker is a clock advancing one second per call.
func ticker() func() time.Time {
	cur := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

type harness struct {
	chat    *Chat
	store   *fakeStore
	cache   *cache.Store
	metrics *Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newFakeStore()
	cs := cache.NewStore(cache.NewMemoryKV(), logger)
	metrics := NewMetrics(prometheus.NewRegistry())

	var n atomic.Int64
	base := []Option{
		WithLogger(logger),
		WithMetrics(metrics),
		WithClock(ticker()),
		WithIDGenerator(func() string { return fmt.Sprintf("%d", n.Add(1)) }),
	}
	chat := New(
		service.NewSessionService(store, logger),
		service.NewMessageService(store, logger),
		cs,
		append(base, opts...)...,
	)
	return &harness{chat: chat, store: store, cache: cs, metrics: metrics}
}

func contents(msgs []fynq.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}

func TestOwnerAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	assert.Nil(t, h.chat.CreateSession(ctx, "x", nil))
	assert.Nil(t, h.chat.StartNewChat(ctx, nil))
	assert.Nil(t, h.chat.AddMessage(ctx, "", "hi", fynq.SenderUser))
	assert.Nil(t, h.chat.LoadSessions(ctx, true))
	assert.False(t, h.chat.DeleteSession(ctx, "s1"))
	assert.False(t, h.chat.ArchiveSession(ctx, "s1"))
	assert.False(t, h.chat.RateSession(ctx, "s1", 5, "great"))
	h.chat.SwitchToSession(ctx, "s1")
	h.chat.Hydrate(ctx)

	assert.Zero(t, h.store.totalCalls())
	snap := h.chat.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.CurrentSessionID)
}

func TestOptimisticAppendRoundTrip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, sess)

	gate := make(chan struct{})
	h.store.mu.Lock()
	h.store.gate = gate
	h.store.mu.Unlock()

	done := make(chan *fynq.Message)
	go func() {
		done <- h.chat.AddMessage(ctx, "", "hello", fynq.SenderUser)
	}()

	require.Eventually(t, func() bool {
		msgs := h.chat.Snapshot().CurrentMessages
		return len(msgs) == 1 && msgs[0].Content == "hello" && fynq.IsTempID(msgs[0].ID)
	}, time.Second, 5*time.Millisecond, "temporary message visible before the store answers")

	close(gate)
	msg := <-done
	require.NotNil(t, msg)

	msgs := h.chat.Snapshot().CurrentMessages
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID)
	assert.False(t, fynq.IsTempID(msgs[0].ID))

	cached, err := h.cache.Messages(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, msg.ID, cached[0].ID)
}

func TestNewChatThenMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	older := h.chat.CreateSession(ctx, "Older", nil)
	require.NotNil(t, older)

	sess := h.chat.StartNewChat(ctx, map[string]any{"subject": "math"})
	require.NotNil(t, sess)
	assert.Equal(t, fynq.DefaultTitle, sess.Title)

	snap := h.chat.Snapshot()
	assert.Equal(t, sess.ID, snap.CurrentSessionID)
	assert.Empty(t, snap.CurrentMessages)

	require.NotNil(t, h.chat.AddMessage(ctx, "", "what is a prime?", fynq.SenderUser))
	require.NotNil(t, h.chat.AddMessage(ctx, sess.ID, "a number with two divisors", fynq.SenderBot))

	snap = h.chat.Snapshot()
	assert.Equal(t, []string{"what is a prime?", "a number with two divisors"}, contents(snap.CurrentMessages))
	assert.Equal(t, fynq.SenderBot, snap.CurrentMessages[1].Sender)
	require.Len(t, snap.Sessions, 2)
	assert.Equal(t, sess.ID, snap.Sessions[0].ID)
	for _, s := range snap.Sessions {
		assert.False(t, fynq.IsTempID(s.ID))
	}
}

func TestAddMessageWithoutActiveSessionStartsChat(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	msg := h.chat.AddMessage(ctx, "", "hi", fynq.SenderUser)
	require.NotNil(t, msg)

	snap := h.chat.Snapshot()
	assert.Equal(t, msg.SessionID, snap.CurrentSessionID)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, []string{"hi"}, contents(snap.CurrentMessages))
}

func TestAddMessageToInactiveSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	other := h.chat.CreateSession(ctx, "other", nil)
	require.NotNil(t, other)
	active := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, active)

	require.NotNil(t, h.chat.AddMessage(ctx, other.ID, "side note", fynq.SenderUser))
	snap := h.chat.Snapshot()
	assert.Empty(t, snap.CurrentMessages)
	assert.Equal(t, other.ID, snap.Sessions[0].ID, "touched session moves to the top")
}

func TestDeleteActiveSessionClearsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, sess)
	require.NotNil(t, h.chat.AddMessage(ctx, "", "hi", fynq.SenderUser))

	require.True(t, h.chat.DeleteSession(ctx, sess.ID))
	snap := h.chat.Snapshot()
	assert.Empty(t, snap.CurrentSessionID)
	assert.Empty(t, snap.CurrentMessages)
	assert.Empty(t, snap.Sessions)

	cached, err := h.cache.Sessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cached)
	msgs, err := h.cache.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.False(t, h.chat.DeleteSession(ctx, sess.ID))
}

func TestArchiveSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	keep := h.chat.CreateSession(ctx, "keep", nil)
	require.NotNil(t, keep)
	sess := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, sess)

	require.True(t, h.chat.ArchiveSession(ctx, sess.ID))
	snap := h.chat.Snapshot()
	assert.Empty(t, snap.CurrentSessionID)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, keep.ID, snap.Sessions[0].ID)

	all := h.chat.LoadSessions(ctx, true)
	assert.Len(t, all, 2)
	assert.Len(t, h.chat.LoadSessions(ctx, false), 1)
}

func TestArchiveFallbackDeleteStaysGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.CreateSession(ctx, "", nil)
	require.NotNil(t, sess)

	h.store.setFail("UpdateSession", true)
	require.Equal(t, service.Deleted, h.chat.ArchiveSessionDetailed(ctx, sess.ID))
	assert.Empty(t, h.chat.LoadSessions(ctx, true))
}

func TestRateSessionBounds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.CreateSession(ctx, "", nil)
	require.NotNil(t, sess)

	assert.False(t, h.chat.RateSession(ctx, sess.ID, 0, ""))
	assert.False(t, h.chat.RateSession(ctx, sess.ID, 7, ""))
	assert.True(t, h.chat.RateSession(ctx, sess.ID, 5, "loved it"))

	snap := h.chat.Snapshot()
	require.Len(t, snap.Sessions, 1)
	require.NotNil(t, snap.Sessions[0].Rating)
	assert.Equal(t, 5, *snap.Sessions[0].Rating)
	assert.Equal(t, "loved it", *snap.Sessions[0].Feedback)
}

func TestCreateSessionRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")
	h.store.setFail("CreateSession", true)

	assert.Nil(t, h.chat.CreateSession(ctx, "x", nil))
	assert.Nil(t, h.chat.StartNewChat(ctx, nil))
	assert.Nil(t, h.chat.AddMessage(ctx, "", "orphan", fynq.SenderUser))

	snap := h.chat.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.CurrentSessionID)

	cached, err := h.cache.Sessions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cached)

	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.rollbacks.WithLabelValues("create_session")))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.optimistic.WithLabelValues("create_session")))
}

func TestAddMessageRollsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, sess)
	require.NotNil(t, h.chat.AddMessage(ctx, "", "first", fynq.SenderUser))

	h.store.setFail("InsertMessage", true)
	assert.Nil(t, h.chat.AddMessage(ctx, "", "second", fynq.SenderUser))

	assert.Equal(t, []string{"first"}, contents(h.chat.Snapshot().CurrentMessages))
	cached, err := h.cache.Messages(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, contents(cached))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rollbacks.WithLabelValues("add_message")))

	assert.Nil(t, h.chat.AddMessage(ctx, "", "x", fynq.Sender("narrator")))
}

func TestHydratePurgesTempLeftovers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, h.cache.PutSessions(ctx, "u1",
		fynq.Session{ID: "temp-crashed", OwnerID: "u1", UpdatedAt: at},
		fynq.Session{ID: "offline-1", OwnerID: "u1", Title: "cached", UpdatedAt: at},
	))
	require.NoError(t, h.cache.PutMessages(ctx, "offline-1",
		fynq.Message{ID: "m1", SessionID: "offline-1", Content: "kept", CreatedAt: at},
		fynq.Message{ID: "temp-9", SessionID: "offline-1", Content: "lost", CreatedAt: at},
	))

	h.chat.SetOwner(ctx, "u1")
	snap := h.chat.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, "offline-1", snap.Sessions[0].ID)
	assert.False(t, snap.Loading)

	h.store.setFail("ListMessages", true)
	h.chat.SwitchToSession(ctx, "offline-1")
	assert.Equal(t, []string{"kept"}, contents(h.chat.Snapshot().CurrentMessages), "cached messages served when remote fails")

	h.chat.Hydrate(ctx)
	msgs, err := h.cache.Messages(ctx, "offline-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, contents(msgs))

	sessions, err := h.cache.Sessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "offline-1", sessions[0].ID)
}

func TestHydrateMergesRemoteIntoCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	remote, err := h.store.Store.CreateSession(ctx, fynq.NewSession{OwnerID: "u1", Title: "from server"})
	require.NoError(t, err)

	h.chat.SetOwner(ctx, "u1")
	snap := h.chat.Snapshot()
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, remote.ID, snap.Sessions[0].ID)

	cached, err := h.cache.Sessions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, "from server", cached[0].Title)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.cacheReads.WithLabelValues("sessions", "miss")))

	h.chat.SetOwner(ctx, "u1")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.cacheReads.WithLabelValues("sessions", "hit")))
}

func TestLoadSessionsFailOpenKeepsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")

	sess := h.chat.CreateSession(ctx, "", nil)
	require.NotNil(t, sess)

	h.store.setFail("ListSessions", true)
	list := h.chat.LoadSessions(ctx, false)
	require.Len(t, list, 1)
	assert.Equal(t, sess.ID, list[0].ID)
}

func TestSetOwnerResetsState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.chat.SetOwner(ctx, "u1")
	require.NotNil(t, h.chat.StartNewChat(ctx, nil))

	h.chat.SetOwner(ctx, "u2")
	snap := h.chat.Snapshot()
	assert.Empty(t, snap.Sessions)
	assert.Empty(t, snap.CurrentSessionID)
	assert.Equal(t, "u2", h.chat.Owner())

	h.chat.SetOwner(ctx, "")
	assert.Nil(t, h.chat.StartNewChat(ctx, nil))
}

func TestSubscribeDeliversLatestState(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	ch, cancel := h.chat.Subscribe()
	first := <-ch
	assert.Empty(t, first.Sessions)

	h.chat.SetOwner(ctx, "u1")
	sess := h.chat.StartNewChat(ctx, nil)
	require.NotNil(t, sess)

	latest := <-ch
	assert.Equal(t, sess.ID, latest.CurrentSessionID)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestRunReconciles(t *testing.T) {
	h := newHarness(t, WithReconcileInterval(10*time.Millisecond))
	h.chat.SetOwner(context.Background(), "u1")

	added, err := h.store.Store.CreateSession(context.Background(), fynq.NewSession{OwnerID: "u1", Title: "elsewhere"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.chat.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, s := range h.chat.Snapshot().Sessions {
			if s.ID == added.ID {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
	assert.Greater(t, testutil.ToFloat64(h.metrics.reconciles), 0.0)
}

func TestNewWithoutCacheUsesMemory(t *testing.T) {
	store := memory.New()
	chat := New(service.NewSessionService(store, nil), service.NewMessageService(store, nil), nil, WithLogger(nil))
	ctx := context.Background()

	chat.SetOwner(ctx, "u1")
	require.NotNil(t, chat.AddMessage(ctx, "", "hi", fynq.SenderUser))
	assert.Len(t, chat.Snapshot().CurrentMessages, 1)
}
