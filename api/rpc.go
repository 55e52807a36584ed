package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/hlog"

	"github.com/wricardo/mcp-training/userdirectory/core/engine"
	"github.com/wricardo/mcp-training/userdirectory/core/session"
	"github.com/wricardo/mcp-training/userdirectory/transport/websocket"
)

// StatusClientClosedRequest is recorded when the client went away before
// the answer was ready. Nothing is written to the connection.
const StatusClientClosedRequest = 499

// RPC Handlers

// handlePost classifies a POST as initialization or continuation
func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) int {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return respondRPCError(w, http.StatusRequestEntityTooLarge, mcp.INVALID_REQUEST, msgBodyTooLarge, nil)
		}
		return respondRPCError(w, http.StatusBadRequest, mcp.PARSE_ERROR, msgUnreadableBody, nil)
	}

	sid := r.Header.Get(HeaderSessionID)
	if sid == "" {
		msg, err := engine.Classify(raw)
		if err != nil || !msg.IsInitialize() {
			return respondNoSession(w)
		}
		return s.initialize(w, r, raw)
	}

	sess, err := s.registry.Lookup(sid)
	if err != nil {
		return respondNoSession(w)
	}
	return s.forward(w, r, sess, raw)
}

// initialize creates a session and runs the init message through its engine
func (s *Server) initialize(w http.ResponseWriter, r *http.Request, raw []byte) int {
	logger := hlog.FromRequest(r)
	if !s.limiter.Allow(remoteKey(r), s.now()) {
		logger.Warn().Msg("session initialization rate limited")
		return respondRPCError(w, http.StatusTooManyRequests, CodeNoValidSession, msgTooManyInits, nil)
	}

	sess, err := s.registry.Create()
	if err != nil {
		logger.Error().Err(err).Msg("create session")
		return respondRPCError(w, http.StatusInternalServerError, mcp.INTERNAL_ERROR, msgSessionCreation, nil)
	}

	resp, err := sess.Engine.Handle(r.Context(), raw)
	if r.Context().Err() != nil {
		s.registry.Evict(sess.ID, engine.ReasonTransportClosed)
		return StatusClientClosedRequest
	}
	if err != nil {
		s.registry.Evict(sess.ID, engine.ReasonInitFailed)
		return s.respondEngineError(w, r, err)
	}
	if resp == nil || isErrorReply(resp) {
		s.registry.Evict(sess.ID, engine.ReasonInitFailed)
		if resp == nil {
			return respondRPCError(w, http.StatusBadRequest, mcp.INVALID_REQUEST, "initialize produced no response", nil)
		}
		respondJSON(w, http.StatusBadRequest, resp)
		return http.StatusBadRequest
	}

	logger.Info().Str("session_id", sess.ID).Msg("session initialized")
	w.Header().Set(HeaderSessionID, sess.ID)
	respondJSON(w, http.StatusOK, resp)
	return http.StatusOK
}

// forward delivers a continuation message to the session's engine
func (s *Server) forward(w http.ResponseWriter, r *http.Request, sess *session.Session, raw []byte) int {
	// A turn may queue behind other calls or wait on sampling; the server
	// write timeout must not cut it off.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	resp, err := sess.Engine.Handle(r.Context(), raw)
	if r.Context().Err() != nil {
		s.disconnected(r, sess)
		return StatusClientClosedRequest
	}
	if err != nil {
		return s.respondEngineError(w, r, err)
	}

	w.Header().Set(HeaderSessionID, sess.ID)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return http.StatusAccepted
	}
	respondJSON(w, http.StatusOK, resp)
	return http.StatusOK
}

// respondEngineError maps an error returned by Engine.Handle to a reply
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, err error) int {
	var perr *engine.ProtocolError
	switch {
	case errors.As(err, &perr):
		return respondRPCError(w, http.StatusBadRequest, perr.Code, perr.Message, perr.ID)
	case errors.Is(err, engine.ErrClosed):
		// The session ended while this call was queued.
		return respondNoSession(w)
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("engine failed")
		return respondRPCError(w, http.StatusInternalServerError, mcp.INTERNAL_ERROR, msgInternal, nil)
	}
}

// disconnected treats a client that went away as the end of its session
func (s *Server) disconnected(r *http.Request, sess *session.Session) {
	hlog.FromRequest(r).Info().Str("session_id", sess.ID).Msg("client disconnected")
	if s.cfg.EvictOnDisconnect {
		s.registry.Evict(sess.ID, engine.ReasonTransportClosed)
	}
}

// handleGet opens the server-to-client stream of a session
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) int {
	sess, err := s.registry.Lookup(r.Header.Get(HeaderSessionID))
	if err != nil {
		return respondNoSession(w)
	}

	stream, err := sess.Engine.AttachStream()
	switch {
	case errors.Is(err, engine.ErrStreamActive):
		return respondRPCError(w, http.StatusConflict, CodeNoValidSession, msgStreamConflict, nil)
	case err != nil:
		return respondNoSession(w)
	}

	if websocket.IsUpgrade(r) {
		return s.serveWebsocket(w, r, sess, stream)
	}
	return s.serveSSE(w, r, sess, stream)
}

func (s *Server) serveWebsocket(w http.ResponseWriter, r *http.Request, sess *session.Session, stream *engine.Stream) int {
	logger := hlog.FromRequest(r).With().Str("session_id", sess.ID).Logger()
	err := websocket.Serve(w, r, stream, sess.Engine.Handle, logger)
	switch {
	case errors.Is(err, engine.ErrClosed):
		return http.StatusSwitchingProtocols
	case errors.Is(err, websocket.ErrPeerClosed):
		s.disconnected(r, sess)
		return StatusClientClosedRequest
	default:
		// The upgrader already answered the request.
		logger.Warn().Err(err).Msg("websocket stream failed")
		return http.StatusBadRequest
	}
}

// serveSSE writes the stream as server-sent events until either side ends
func (s *Server) serveSSE(w http.ResponseWriter, r *http.Request, sess *session.Session, stream *engine.Stream) int {
	defer stream.Detach()

	sse, err := newSSEWriter(w)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("event stream unsupported")
		return respondRPCError(w, http.StatusInternalServerError, mcp.INTERNAL_ERROR, msgInternal, nil)
	}
	w.Header().Set(HeaderSessionID, sess.ID)
	if err := sse.open(); err != nil {
		s.disconnected(r, sess)
		return StatusClientClosedRequest
	}

	for {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.KeepAlive)
		msg, err := stream.Next(ctx)
		cancel()

		switch {
		case r.Context().Err() != nil:
			s.disconnected(r, sess)
			return StatusClientClosedRequest
		case errors.Is(err, engine.ErrClosed), errors.Is(err, context.Canceled):
			// Conversation over or stream detached on the server side.
			return http.StatusOK
		case errors.Is(err, context.DeadlineExceeded):
			err = sse.keepAlive()
		case err != nil:
			hlog.FromRequest(r).Error().Err(err).Msg("event stream failed")
			return http.StatusOK
		default:
			err = sse.message(msg)
		}
		if err != nil {
			s.disconnected(r, sess)
			return StatusClientClosedRequest
		}
	}
}

// handleDelete terminates a session at the client's request
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) int {
	sid := r.Header.Get(HeaderSessionID)
	if _, err := s.registry.Lookup(sid); err != nil {
		return respondNoSession(w)
	}
	if !s.registry.Evict(sid, engine.ReasonClientTerminated) {
		return respondNoSession(w)
	}
	hlog.FromRequest(r).Info().Str("session_id", sid).Msg("session terminated by client")
	w.WriteHeader(http.StatusOK)
	return http.StatusOK
}
