package engine

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
)

// Stream is the single server-to-client channel of a session. It yields
// notifications and server-initiated requests in the order they were queued.
type Stream struct {
	e        *Engine
	detached chan struct{}
	once     sync.Once
}

// AttachStream claims the session's stream. Only one stream may be attached
// at a time.
func (e *Engine) AttachStream() (*Stream, error) {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()

	if e.State() == StateClosed {
		return nil, ErrClosed
	}
	if e.stream != nil {
		return nil, ErrStreamActive
	}
	e.stream = &Stream{e: e, detached: make(chan struct{})}
	e.touch()
	e.logger.Debug().Msg("stream attached")
	return e.stream, nil
}

// StreamAttached reports whether a stream is currently attached
func (e *Engine) StreamAttached() bool {
	e.streamMu.Lock()
	defer e.streamMu.Unlock()
	return e.stream != nil
}

// Next blocks until a message is ready for the client. It returns ErrClosed
// when the conversation ends and ctx.Err() when ctx is done.
func (s *Stream) Next(ctx context.Context) (mcp.JSONRPCMessage, error) {
	select {
	case <-s.detached:
		return nil, context.Canceled
	default:
	}
	for {
		select {
		case req := <-s.e.outbound:
			if !s.e.awaiting(req.ID) {
				s.e.logger.Debug().Interface("request_id", req.ID.Value()).Msg("abandoned request dropped")
				continue
			}
			return req, nil
		case n := <-s.e.notifications:
			return n, nil
		case <-s.e.ctx.Done():
			return nil, ErrClosed
		case <-s.detached:
			return nil, context.Canceled
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Done is closed when the stream is detached
func (s *Stream) Done() <-chan struct{} {
	return s.detached
}

// Detach releases the stream so another one can be attached.
func (s *Stream) Detach() {
	s.once.Do(func() {
		close(s.detached)
		s.e.streamMu.Lock()
		if s.e.stream == s {
			s.e.stream = nil
		}
		s.e.streamMu.Unlock()
		s.e.logger.Debug().Msg("stream detached")
	})
}
