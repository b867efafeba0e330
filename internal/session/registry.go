// Package session provides the in-process registry of active discovery
// sessions: a cache of each session's latest state and context, a per-session
// lock that serializes turns, and a cancellable sweep that evicts idle or
// expired sessions.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// Registry defaults.
const (
	DefaultIdleTimeout   = 30 * time.Minute
	DefaultMaxLifetime   = 24 * time.Hour
	DefaultSweepInterval = time.Minute
)

// EvictReason says why a session left the registry.
type EvictReason string

const (
	EvictIdle     EvictReason = "idle"
	EvictLifetime EvictReason = "max_lifetime"
	EvictManual   EvictReason = "manual"
)

// EvictCallback is called after a session is removed.
type EvictCallback func(sessionID string, reason EvictReason)

// Snapshot is a copy of a cached session.
type Snapshot struct {
	State      models.ConversationState
	Context    models.ConversationContext
	CreatedAt  time.Time
	LastActive time.Time
}

type entry struct {
	lock       sync.Mutex
	inflight   int // guarded by Registry.mu
	loaded     bool
	state      models.ConversationState
	context    models.ConversationContext
	createdAt  time.Time
	lastActive time.Time
}

// Registry maps session ids to their cached state. It is safe for concurrent use.
type Registry struct {
	mu            sync.Mutex
	sessions      map[string]*entry
	idleTimeout   time.Duration
	maxLifetime   time.Duration
	sweepInterval time.Duration
	onEvict       EvictCallback
	now           func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithIdleTimeout sets how long a session may sit unused before eviction.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Registry) { r.idleTimeout = d }
}

// WithMaxLifetime sets the maximum age of a cached session.
func WithMaxLifetime(d time.Duration) Option {
	return func(r *Registry) { r.maxLifetime = d }
}

// WithSweepInterval sets how often Run sweeps.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.sweepInterval = d }
}

// WithEvictCallback registers fn to observe evictions.
func WithEvictCallback(fn EvictCallback) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// WithClock overrides the registry clock.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sessions:      make(map[string]*entry),
		idleTimeout:   DefaultIdleTimeout,
		maxLifetime:   DefaultMaxLifetime,
		sweepInterval: DefaultSweepInterval,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create caches a new session. It fails with ErrSessionExists if the id is
// already cached with state.
func (r *Registry) Create(st models.ConversationState, cc models.ConversationContext) error {
	if st.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	e, ok := r.sessions[st.SessionID]
	if ok && e.loaded {
		return models.NewStateError(st.SessionID, models.ErrSessionExists)
	}
	if !ok {
		e = &entry{createdAt: now}
		r.sessions[st.SessionID] = e
	}
	e.loaded = true
	e.state = st.Clone()
	e.context = cc.Clone()
	e.lastActive = now
	slog.Debug("Registry.Create: session cached", "sessionID", st.SessionID, "size", len(r.sessions))
	return nil
}

// Get returns a copy of the cached session.
func (r *Registry) Get(sessionID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sessionID]
	if !ok || !e.loaded {
		return Snapshot{}, false
	}
	return Snapshot{
		State:      e.state.Clone(),
		Context:    e.context.Clone(),
		CreatedAt:  e.createdAt,
		LastActive: e.lastActive,
	}, true
}

// Update replaces the cached state and context. The session need not have
// been cached before, so a turn can repopulate an evicted session.
func (r *Registry) Update(st models.ConversationState, cc models.ConversationContext) error {
	if st.SessionID == "" {
		return models.NewValidationError("session_id", models.ErrEmptySessionID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	e, ok := r.sessions[st.SessionID]
	if !ok {
		e = &entry{createdAt: now}
		r.sessions[st.SessionID] = e
	}
	e.loaded = true
	e.state = st.Clone()
	e.context = cc.Clone()
	e.lastActive = now
	return nil
}

// Evict removes a session unless a turn holds it. It reports whether the
// session was removed.
func (r *Registry) Evict(sessionID string) bool {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok || e.inflight > 0 {
		r.mu.Unlock()
		return false
	}
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	r.notify(sessionID, EvictManual)
	return true
}

// Len returns the number of cached sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// WithSession runs fn while holding the session's lock. Turns for the same
// session run one at a time; the session cannot be evicted while fn runs.
// An entry that fn never populated is dropped once no caller holds it, so
// lookups of unknown ids leave nothing behind.
func (r *Registry) WithSession(sessionID string, fn func() error) error {
	r.mu.Lock()
	e, ok := r.sessions[sessionID]
	if !ok {
		now := r.now()
		e = &entry{createdAt: now, lastActive: now}
		r.sessions[sessionID] = e
	}
	e.inflight++
	r.mu.Unlock()

	e.lock.Lock()
	defer func() {
		e.lock.Unlock()
		r.mu.Lock()
		e.inflight--
		e.lastActive = r.now()
		if !e.loaded && e.inflight == 0 && r.sessions[sessionID] == e {
			delete(r.sessions, sessionID)
		}
		r.mu.Unlock()
	}()
	return fn()
}

// Sweep evicts sessions idle past the idle timeout or older than the max
// lifetime, skipping any with a turn in flight. It returns the number evicted.
func (r *Registry) Sweep() int {
	now := r.now()
	type evicted struct {
		id     string
		reason EvictReason
	}
	var out []evicted

	r.mu.Lock()
	for id, e := range r.sessions {
		if e.inflight > 0 {
			continue
		}
		switch {
		case r.maxLifetime > 0 && now.Sub(e.createdAt) >= r.maxLifetime:
			out = append(out, evicted{id, EvictLifetime})
		case r.idleTimeout > 0 && now.Sub(e.lastActive) >= r.idleTimeout:
			out = append(out, evicted{id, EvictIdle})
		default:
			continue
		}
		delete(r.sessions, id)
	}
	remaining := len(r.sessions)
	r.mu.Unlock()

	for _, ev := range out {
		r.notify(ev.id, ev.reason)
	}
	if len(out) > 0 {
		slog.Info("Registry.Sweep: evicted sessions", "count", len(out), "remaining", remaining)
	}
	return len(out)
}

// Run sweeps on every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	slog.Info("Registry.Run: sweep started", "interval", r.sweepInterval, "idleTimeout", r.idleTimeout, "maxLifetime", r.maxLifetime)
	for {
		select {
		case <-ticker.C:
			r.Sweep()
		case <-ctx.Done():
			slog.Info("Registry.Run: sweep stopped", "reason", ctx.Err())
			return
		}
	}
}

func (r *Registry) notify(sessionID string, reason EvictReason) {
	slog.Debug("Registry: session evicted", "sessionID", sessionID, "reason", reason)
	if r.onEvict != nil {
		r.onEvict(sessionID, reason)
	}
}
