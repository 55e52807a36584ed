// Package websocket carries a session's server-to-client stream over a
// websocket connection.
//
// The websocket package implements:
//   - Upgrading a GET on the RPC endpoint when the client asks for it
//   - Writing every notification and server-initiated request as one text frame
//   - Reading client frames (typically sampling replies) back into the engine
//   - Ping/pong keep-alive with read and write deadlines
//
// Architecture:
//
// Serve runs three pumps per connection: streamPump pulls messages from the
// engine.Stream, writePump owns all writes to the connection, and readPump
// owns all reads. Inbound frames are dispatched on their own goroutine so a
// tool call waiting for a sampling reply never blocks the reader that would
// deliver it.
//
// Connection Lifecycle:
//
// 1. The router resolves the session and attaches its stream
// 2. Serve upgrades the connection and starts the pumps
// 3. The first pump to stop ends the connection
// 4. Serve detaches the stream and reports why it ended
//
// Serve returns engine.ErrClosed when the conversation was closed on the
// server side (a close frame is sent) and ErrPeerClosed when the client went
// away; the router treats the latter as a transport fault.
package websocket
