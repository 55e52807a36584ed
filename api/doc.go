// Package api provides the HTTP router that binds JSON-RPC calls to their
// session's conversation.
//
// The api package implements:
//   - Classification of each call as initialization, continuation or termination
//   - Session creation, lookup and eviction through the session registry
//   - The server-to-client stream as server-sent events or a websocket
//   - JSON-RPC error envelopes for protocol errors
//   - Per-address rate limiting of session initialization
//   - Prometheus metrics, health and session diagnostics
//
// Endpoints:
//
// RPC (default path /rpc):
//   - POST /rpc - Deliver one JSON-RPC message
//   - GET /rpc - Open the notification stream of a session
//   - DELETE /rpc - Terminate a session
//
// Diagnostics:
//   - GET /healthz - Liveness and session count
//   - GET /metrics - Prometheus metrics
//   - GET /api/sessions - Session count and states (never ids)
//
// Sessions:
//
// A POST without the Mcp-Session-Id header must carry an initialize request.
// The router creates a session, runs the message through its fresh engine and
// returns the new id in the Mcp-Session-Id response header. Every later call
// echoes that header. An unknown, expired or missing id is answered with:
//
//	HTTP/1.1 400 Bad Request
//	{"jsonrpc":"2.0","error":{"code":-32000,"message":"Bad Request: No valid session ID provided"},"id":null}
//
// Status Codes:
//
//   - 200: JSON-RPC response, or DELETE accepted
//   - 202: notification or client reply accepted, no body
//   - 400: protocol error (malformed message, unknown session, failed initialize)
//   - 409: GET while the session already has a stream
//   - 413: body larger than the configured limit
//   - 429: too many initializations from one address
//
// Disconnects:
//
// When a client goes away before its answer is ready, nothing is written and
// the session is evicted with reason transport_closed (configurable). The
// request is recorded with status 499.
//
// Usage:
//
//	metrics := api.NewMetrics()
//	registry := session.NewRegistry(factory, session.WithObserver(metrics))
//	router := api.NewServer(registry, api.DefaultConfig(), api.WithMetrics(metrics))
//	http.ListenAndServe(":5000", router)
package api
