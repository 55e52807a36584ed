package engine

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/wricardo/mcp-training/userdirectory/core/sampling"
)

var (
	ErrClosed              = errors.New("conversation closed")
	ErrStreamActive        = errors.New("a stream is already attached to this session")
	ErrSamplingUnavailable = errors.New("sampling unavailable: client cannot sample and no fallback provider is configured")
	ErrSamplingTimeout     = errors.New("sampling request timed out")
)

const (
	notificationBuffer   = 100
	outboundBuffer       = 16
	defaultSamplingLimit = 60 * time.Second
)

// Engine processes the messages of exactly one session.
type Engine struct {
	id     string
	srv    *server.MCPServer
	logger zerolog.Logger
	now    func() time.Time

	state      atomic.Int32
	lastActive atomic.Int64
	inflight   atomic.Int32
	createdAt  time.Time

	// turn serializes requests and notifications.
	turn chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce   sync.Once
	closeReason atomic.Value
	onClose     func(id string, reason CloseReason)

	notifications chan mcp.JSONRPCNotification
	outbound      chan mcp.JSONRPCRequest

	streamMu sync.Mutex
	stream   *Stream

	clientMu     sync.RWMutex
	clientInfo   mcp.Implementation
	clientCaps   mcp.ClientCapabilities
	logLevel     mcp.LoggingLevel
	nextOutbound atomic.Int64
	pendingMu    sync.Mutex
	pending      map[int64]chan Message

	sampler         sampling.Provider
	samplingTimeout time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithSampler sets the provider used when the client cannot sample itself.
func WithSampler(p sampling.Provider) Option {
	return func(e *Engine) { e.sampler = p }
}

// WithSamplingTimeout bounds how long a sampling request waits for the client.
func WithSamplingTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.samplingTimeout = d
		}
	}
}

// WithOnClose registers the hook called once when the conversation closes.
func WithOnClose(fn func(id string, reason CloseReason)) Option {
	return func(e *Engine) { e.onClose = fn }
}

// WithLogger sets the engine logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine bound to session id. srv must not be shared with any
// other engine.
func New(id string, srv *server.MCPServer, opts ...Option) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		id:              id,
		srv:             srv,
		logger:          log.Logger,
		now:             time.Now,
		turn:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
		notifications:   make(chan mcp.JSONRPCNotification, notificationBuffer),
		outbound:        make(chan mcp.JSONRPCRequest, outboundBuffer),
		pending:         make(map[int64]chan Message),
		logLevel:        mcp.LoggingLevelError,
		samplingTimeout: defaultSamplingLimit,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("session_id", id).Logger()
	e.createdAt = e.now()
	e.lastActive.Store(e.createdAt.UnixNano())

	if err := srv.RegisterSession(ctx, e); err != nil {
		e.logger.Warn().Err(err).Msg("register session with mcp server")
	}
	return e
}

// ID returns the session id the engine is bound to
func (e *Engine) ID() string { return e.id }

// State returns the current lifecycle state
func (e *Engine) State() State { return State(e.state.Load()) }

// CreatedAt returns when the engine was created
func (e *Engine) CreatedAt() time.Time { return e.createdAt }

// LastActive returns the time of the last inbound message
func (e *Engine) LastActive() time.Time {
	return time.Unix(0, e.lastActive.Load())
}

// InFlight returns the number of calls holding or waiting for the turn
func (e *Engine) InFlight() int { return int(e.inflight.Load()) }

// Done is closed when the conversation closes
func (e *Engine) Done() <-chan struct{} { return e.ctx.Done() }

// CloseReason returns why the conversation closed, or "" while it is open
func (e *Engine) CloseReason() CloseReason {
	r, _ := e.closeReason.Load().(CloseReason)
	return r
}

// Handle processes one inbound message. It returns (nil, nil) for accepted
// notifications and replies, a *ProtocolError for malformed or out-of-order
// messages, and ErrClosed once the conversation is over.
func (e *Engine) Handle(ctx context.Context, raw []byte) (mcp.JSONRPCMessage, error) {
	msg, err := Classify(raw)
	if err != nil {
		return nil, err
	}
	if e.State() == StateClosed {
		return nil, ErrClosed
	}
	e.touch()

	if msg.Kind == KindResponse {
		e.deliver(msg)
		return nil, nil
	}

	e.inflight.Add(1)
	defer e.inflight.Add(-1)

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.ctx.Done():
		return nil, ErrClosed
	}
	defer func() { <-e.turn }()

	switch e.State() {
	case StateClosed:
		return nil, ErrClosed
	case StateUninitialized:
		if msg.Kind == KindRequest && !msg.IsInitialize() {
			return nil, &ProtocolError{Code: mcp.INVALID_REQUEST, Message: "session not initialized", ID: msg.ID.Value()}
		}
	case StateActive:
		if msg.IsInitialize() {
			return nil, &ProtocolError{Code: mcp.INVALID_REQUEST, Message: "session already initialized", ID: msg.ID.Value()}
		}
	}

	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	start := e.now()
	resp := e.dispatch(e.srv.WithContext(hctx, e), msg, raw)
	e.logger.Debug().
		Str("method", msg.Method).
		Str("kind", msg.Kind.String()).
		Dur("took", e.now().Sub(start)).
		Msg("message handled")

	return resp, nil
}

// dispatch hands the message to mcp-go, converting a handler panic into an
// internal error reply and closing the conversation.
func (e *Engine) dispatch(ctx context.Context, msg Message, raw []byte) (resp mcp.JSONRPCMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("method", msg.Method).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("conversation engine fault")
			if msg.Kind == KindRequest {
				perr := &ProtocolError{Code: mcp.INTERNAL_ERROR, Message: "internal error", ID: msg.ID.Value()}
				resp = perr.JSONRPC()
			} else {
				resp = nil
			}
			e.Close(ReasonEngineFault)
		}
	}()
	return e.srv.HandleMessage(ctx, json.RawMessage(raw))
}

// Close ends the conversation. Only the first call has any effect; it
// releases waiters, unregisters from the MCP server and runs the close hook.
// It reports whether this call performed the close.
func (e *Engine) Close(reason CloseReason) bool {
	closed := false
	e.closeOnce.Do(func() {
		closed = true
		e.closeReason.Store(reason)
		e.state.Store(int32(StateClosed))
		e.cancel()
		e.srv.UnregisterSession(context.Background(), e.id)
		e.logger.Info().Str("reason", string(reason)).Msg("conversation closed")
	})
	if closed && e.onClose != nil {
		e.onClose(e.id, reason)
	}
	return closed
}

func (e *Engine) touch() {
	e.lastActive.Store(e.now().UnixNano())
}

// deliver routes a client reply to the server-initiated request waiting for it.
func (e *Engine) deliver(msg Message) {
	id, ok := outboundID(msg.ID)
	if !ok {
		e.logger.Debug().Interface("id", msg.ID.Value()).Msg("reply with foreign id ignored")
		return
	}
	e.pendingMu.Lock()
	ch, ok := e.pending[id]
	delete(e.pending, id)
	e.pendingMu.Unlock()
	if !ok {
		e.logger.Debug().Int64("id", id).Msg("reply for unknown request ignored")
		return
	}
	ch <- msg
}

// awaiting reports whether a server-initiated request still has a waiter
func (e *Engine) awaiting(id mcp.RequestId) bool {
	n, ok := outboundID(id)
	if !ok {
		return false
	}
	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	_, ok = e.pending[n]
	return ok
}

func outboundID(id mcp.RequestId) (int64, bool) {
	switch v := id.Value().(type) {
	case int64:
		return v, true
	case float64:
		return int64(v), v == float64(int64(v))
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}
