// Package session provides the session registry: the process-wide mapping
// from MCP session id to the conversation engine that owns it.
//
// The session package implements:
//   - Unguessable session id generation (random UUIDs)
//   - Atomic create, lookup and evict per id
//   - Exactly-once eviction, whoever triggers it first
//   - An injectable map guard (mutex-protected map or sync.Map)
//   - Idle session sweeping as a safety net for abandoned clients
//
// Core Types:
//
// Registry owns every live Session. A Session pairs an id with the
// *engine.Engine that is exclusively bound to it. Store is the concurrency
// guard around the id map; NewLockedStore and NewSyncMapStore are
// interchangeable and the registry behaves identically on both.
//
// Eviction:
//
// A session leaves the registry by exactly one path: the caller that
// removes the map entry is the one that closes the engine and reports the
// eviction. Evict from the router (DELETE, transport closure), a close
// initiated by the engine itself (handler fault) and the idle sweep all race
// for that removal; losers are no-ops. The map lock is held only for the
// map operation, never while an engine processes a message.
//
// Usage:
//
//	reg := session.NewRegistry(factory, session.WithObserver(metrics))
//
//	sess, err := reg.Create()
//	if err != nil {
//		return err
//	}
//
//	sess, err = reg.Lookup(id)
//	if errors.Is(err, session.ErrSessionNotFound) {
//		// reject with -32000
//	}
//
//	reg.Evict(id, engine.ReasonClientTerminated)
//
//	go reg.RunSweeper(ctx, 30*time.Minute, time.Minute)
package session
