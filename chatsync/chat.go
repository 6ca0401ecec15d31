// Package chatsync keeps the UI-visible chat state in step with the remote
// store and the local cache. Mutations are applied locally first with a
// temporary id, then confirmed or rolled back once the remote write returns.
package chatsync

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meikuraledutech/fynq"
	"github.com/meikuraledutech/fynq/cache"
	"github.com/meikuraledutech/fynq/service"
)

// DefaultReconcileInterval is how often Run refreshes from the remote store.
const DefaultReconcileInterval = time.Minute

// State is what the UI renders.
type State struct {
	Sessions         []fynq.Session
	CurrentMessages  []fynq.Message
	CurrentSessionID string
	Loading          bool
}

func (s State) clone() State {
	s.Sessions = append([]fynq.Session{}, s.Sessions...)
	s.CurrentMessages = append([]fynq.Message{}, s.CurrentMessages...)
	return s
}

// Chat is the synchronization core for one owner. It is safe for concurrent
// use; the lock is never held across remote or cache I/O.
type Chat struct {
	sessions *service.SessionService
	messages *service.MessageService
	cache    *cache.Store
	log      *slog.Logger
	metrics  *Metrics
	now      func() time.Time
	newID    func() string
	interval time.Duration

	mu    sync.Mutex
	owner string
	// epoch changes with the owner; results of I/O started under an older
	// epoch are discarded.
	epoch uint64
	state State
	// ids deleted during this epoch, kept out of later merges
	gone map[string]struct{}
	subs map[chan State]struct{}
}

// Option configures a Chat.
type Option func(*Chat)

func WithLogger(l *slog.Logger) Option {
	return func(c *Chat) { c.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(c *Chat) { c.metrics = m }
}

// WithClock replaces time.Now for stamping optimistic records.
func WithClock(now func() time.Time) Option {
	return func(c *Chat) { c.now = now }
}

// WithIDGenerator replaces the random suffix of temporary ids.
func WithIDGenerator(gen func() string) Option {
	return func(c *Chat) { c.newID = gen }
}

func WithReconcileInterval(d time.Duration) Option {
	return func(c *Chat) { c.interval = d }
}

// New builds a Chat with no owner. A nil cache store keeps the cache in
// memory only.
func New(sessions *service.SessionService, messages *service.MessageService, store *cache.Store, opts ...Option) *Chat {
	c := &Chat{
		sessions: sessions,
		messages: messages,
		cache:    store,
		log:      slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		interval: DefaultReconcileInterval,
		gone:     make(map[string]struct{}),
		subs:     make(map[chan State]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.cache == nil {
		c.cache = cache.NewStore(cache.NewMemoryKV(), c.log)
	}
	if c.interval <= 0 {
		c.interval = DefaultReconcileInterval
	}
	c.state = State{Sessions: []fynq.Session{}, CurrentMessages: []fynq.Message{}}
	return c
}

// Snapshot returns a copy of the current state.
func (c *Chat) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Owner returns the current owner id, "" when signed out.
func (c *Chat) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Subscribe returns a channel that receives the state after every change.
// Only the latest state is kept for slow readers. The current state is
// delivered immediately. Call cancel to stop and close the channel.
func (c *Chat) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.state.clone()
	c.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, ch)
			close(ch)
			c.mu.Unlock()
		})
	}
	return ch, cancel
}

// publishLocked must be called with mu held.
func (c *Chat) publishLocked() {
	for ch := range c.subs {
		snap := c.state.clone()
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// current returns the owner, epoch and active session id.
func (c *Chat) current() (owner string, epoch uint64, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner, c.epoch, c.state.CurrentSessionID
}

func (c *Chat) mergeSessionsLocked(next []fynq.Session, includeArchived bool) []fynq.Session {
	merged := fynq.MergeSessions(c.state.Sessions, next)
	out := merged[:0]
	for _, s := range merged {
		if _, gone := c.gone[s.ID]; gone {
			continue
		}
		if s.IsArchived && !includeArchived {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (c *Chat) mergeMessagesLocked(next []fynq.Message) []fynq.Message {
	if _, gone := c.gone[c.state.CurrentSessionID]; gone {
		return []fynq.Message{}
	}
	cur := c.state.CurrentSessionID
	in := make([]fynq.Message, 0, len(next))
	for _, m := range next {
		if m.SessionID == cur {
			in = append(in, m)
		}
	}
	return fynq.MergeMessages(c.state.CurrentMessages, in)
}

func (c *Chat) tempID() string {
	return fynq.TempIDPrefix + c.newID()
}

func (c *Chat) cacheFailed(op string, err error, args ...any) {
	c.log.Warn("cache write failed", append([]any{"op", op, "err", err}, args...)...)
}
