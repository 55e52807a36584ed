package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrIDExhausted     = errors.New("could not allocate a unique session id")
)

const maxIDAttempts = 8

// Session binds an id to the engine that exclusively owns the conversation
type Session struct {
	ID        string
	Engine    *engine.Engine
	CreatedAt time.Time
}

// Info is a read-only view of a session, safe to expose for diagnostics
type Info struct {
	State          string    `json:"state"`
	CreatedAt      time.Time `json:"created_at"`
	LastActive     time.Time `json:"last_active"`
	StreamAttached bool      `json:"stream_attached"`
	InFlight       int       `json:"in_flight"`
}

// Factory builds a fresh engine for session id. The registry appends its own
// close hook to opts; the factory must pass opts through to engine.New.
type Factory func(id string, opts ...engine.Option) (*engine.Engine, error)

// Observer is notified of registry changes, e.g. to feed metrics
type Observer interface {
	SessionCreated(id string)
	SessionEvicted(id string, reason engine.CloseReason, lifetime time.Duration)
}

// Registry manages session lifecycle
type Registry struct {
	factory  Factory
	store    Store
	newID    func() (string, error)
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithStore injects the map guard. The default is NewLockedStore().
func WithStore(s Store) Option {
	return func(r *Registry) { r.store = s }
}

// WithIDGenerator overrides session id generation
func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *Registry) { r.newID = fn }
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(r *Registry) { r.observer = o }
}

// WithLogger sets the registry logger
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry
func NewRegistry(factory Factory, opts ...Option) *Registry {
	r := &Registry{
		factory: factory,
		store:   NewLockedStore(),
		newID:   generateSessionID,
		logger:  log.Logger.With().Str("component", "registry").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a new id and engine and inserts them atomically
func (r *Registry) Create() (*Session, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := r.newID()
		if err != nil {
			return nil, errors.Wrap(err, "generate session id")
		}
		if _, taken := r.store.Load(id); taken {
			r.logger.Warn().Msg("session id collision, regenerating")
			continue
		}

		sess := &Session{ID: id, CreatedAt: r.now()}
		eng, err := r.factory(id, engine.WithOnClose(func(_ string, reason engine.CloseReason) {
			r.release(sess, reason)
		}))
		if err != nil {
			return nil, errors.Wrap(err, "create engine")
		}
		sess.Engine = eng

		if !r.store.Insert(sess) {
			// Lost a race for the id; the hook's compare-and-delete is a no-op.
			eng.Close(engine.ReasonInitFailed)
			continue
		}

		r.logger.Debug().Str("session_id", id).Msg("session created")
		if r.observer != nil {
			r.observer.SessionCreated(id)
		}
		return sess, nil
	}
	return nil, ErrIDExhausted
}

// Lookup returns the active session bound to id
func (r *Registry) Lookup(id string) (*Session, error) {
	if id == "" {
		return nil, ErrSessionNotFound
	}
	sess, ok := r.store.Load(id)
	if !ok || sess.Engine.State() != engine.StateActive {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Evict removes id and closes its engine. It is idempotent and reports
// whether this call removed the session.
func (r *Registry) Evict(id string, reason engine.CloseReason) bool {
	sess, ok := r.store.LoadAndDelete(id)
	if !ok {
		return false
	}
	r.finish(sess, reason)
	sess.Engine.Close(reason)
	return true
}

// Count returns the number of registered sessions, initialized or not
func (r *Registry) Count() int {
	return r.store.Len()
}

// Snapshot describes every registered session
func (r *Registry) Snapshot() []Info {
	var out []Info
	r.store.Range(func(s *Session) bool {
		out = append(out, Info{
			State:          s.Engine.State().String(),
			CreatedAt:      s.CreatedAt,
			LastActive:     s.Engine.LastActive(),
			StreamAttached: s.Engine.StreamAttached(),
			InFlight:       s.Engine.InFlight(),
		})
		return true
	})
	return out
}

// CloseAll evicts every session, e.g. on shutdown
func (r *Registry) CloseAll(reason engine.CloseReason) int {
	var ids []string
	r.store.Range(func(s *Session) bool {
		ids = append(ids, s.ID)
		return true
	})
	closed := 0
	for _, id := range ids {
		if r.Evict(id, reason) {
			closed++
		}
	}
	return closed
}

// release runs when an engine closes itself.
func (r *Registry) release(sess *Session, reason engine.CloseReason) {
	if sess == nil || !r.store.CompareAndDelete(sess.ID, sess) {
		return
	}
	r.finish(sess, reason)
}

// finish is called exactly once per session, by whoever removed it.
func (r *Registry) finish(sess *Session, reason engine.CloseReason) {
	lifetime := r.now().Sub(sess.CreatedAt)
	r.logger.Info().
		Str("session_id", sess.ID).
		Str("reason", string(reason)).
		Dur("lifetime", lifetime).
		Msg("session evicted")
	if r.observer != nil {
		r.observer.SessionEvicted(sess.ID, reason, lifetime)
	}
}

// generateSessionID returns a random (version 4) UUID drawn from crypto/rand
func generateSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
