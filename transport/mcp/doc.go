// Package mcp exposes the user directory over the Model Context Protocol.
//
// The mcp package implements:
//   - MCP server construction with the advertised identity and capabilities
//   - Tool definitions for creating users
//   - Resources for reading the directory
//   - The fake-user prompt
//   - A sampler that asks the connected client (or the session's fallback
//     provider) for model output
//
// MCP Tools:
//
//   - create-user: append a user from name, email, address and phone
//   - create-random-user: ask a model for fake user data and append it
//
// MCP Resources:
//
//   - users://all: every user as a JSON array
//   - users://{userId}/profile: one user, or {"error":"User <id> not found"}
//
// MCP Prompts:
//
//   - generate-fake-user: a user message asking for a fake user with a given name
//
// Failures:
//
// Handler failures never become JSON-RPC errors. Tools answer with a result
// flagged isError whose text is the caller-safe message of the service error
// ("failed to save user", "Failed to parse user data", ...); the full error
// is logged. Resources answer with an {"error": ...} JSON body.
//
// Usage:
//
//	handlers := mcp.NewHandlers(userService)
//	srv := handlers.NewServer() // one per conversation
//
//	// stdio mode
//	server.ServeStdio(srv)
package mcp
