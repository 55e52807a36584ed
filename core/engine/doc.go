// Package engine provides the conversation engine that processes every
// JSON-RPC message of one MCP session.
//
// The engine package implements:
//   - Message classification (request, notification, response) and batch rejection
//   - The session lifecycle: uninitialized, active, closed
//   - Strict per-session ordering of requests and notifications
//   - Delivery of client replies to server-initiated requests
//   - The server-to-client stream carrying notifications and sampling requests
//   - Sampling through the client, with a server-side fallback provider
//   - A close hook so the owner can evict the session exactly once
//
// Core Types:
//
// Engine wraps a dedicated *server.MCPServer from mcp-go and implements the
// mcp-go ClientSession family of interfaces (ClientSession,
// SessionWithClientInfo, SessionWithLogging, SessionWithSampling), so tool
// handlers running inside the engine can call server.ServerFromContext(ctx)
// and reach back to the client. An engine is never shared between sessions.
//
// Ordering:
//
// Requests and notifications take a single conversation turn, acquired with
// the caller's context, so two concurrent POSTs for the same session are
// processed one after the other. Replies to server-initiated requests skip
// the turn: a tool handler holding the turn while it waits for a sampling
// reply would otherwise deadlock.
//
// Usage:
//
//	eng := engine.New(id, srv,
//		engine.WithSampler(fallback),
//		engine.WithOnClose(func(id string, reason engine.CloseReason) {
//			registry.Evict(id, reason)
//		}),
//	)
//
//	resp, err := eng.Handle(r.Context(), body)
//	switch {
//	case errors.Is(err, engine.ErrClosed):
//		// session is gone
//	case err != nil:
//		// *engine.ProtocolError: reject with HTTP 400
//	case resp == nil:
//		// notification or reply: HTTP 202
//	}
package engine
