// Package service contains the business logic behind the user directory
// exposed over MCP.
//
// The service package implements:
//   - User and NewUser record types
//   - UserService, the operations the MCP tools, resources and prompts call
//   - UserStore, the storage contract implemented by package store
//   - Sampler, the model-sampling contract used to fabricate random users
//   - Error, a typed handler failure carrying an operation and a Kind
//
// Errors:
//
// Every failure returned by UserService is an *Error. Callers at the
// protocol boundary log the full error and hand the client only the
// generic text returned by Error.Public, so a broken store or a model that
// answers with garbage never tears down the conversation.
//
// Concurrency:
//
// A single UserService is shared by every session. It holds no mutable state
// of its own; the UserStore it wraps must be safe for concurrent use.
//
// Usage:
//
//	svc := service.NewUserService(st)
//	user, err := svc.CreateUser(ctx, service.NewUser{Name: "Ada", ...})
//	if err != nil {
//		log.Error().Err(err).Msg("create user")
//		return mcp.NewToolResultText(service.Public(err)), nil
//	}
package service
