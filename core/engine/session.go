package engine

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

var (
	_ server.ClientSession         = (*Engine)(nil)
	_ server.SessionWithClientInfo = (*Engine)(nil)
	_ server.SessionWithLogging    = (*Engine)(nil)
	_ server.SessionWithSampling   = (*Engine)(nil)
)

// Initialize is called by mcp-go once the initialize request succeeded.
func (e *Engine) Initialize() {
	if e.state.CompareAndSwap(int32(StateUninitialized), int32(StateActive)) {
		e.logger.Info().Msg("conversation initialized")
	}
}

func (e *Engine) Initialized() bool {
	return e.State() == StateActive
}

func (e *Engine) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return e.notifications
}

func (e *Engine) SessionID() string {
	return e.id
}

func (e *Engine) GetClientInfo() mcp.Implementation {
	e.clientMu.RLock()
	defer e.clientMu.RUnlock()
	return e.clientInfo
}

func (e *Engine) SetClientInfo(info mcp.Implementation) {
	e.clientMu.Lock()
	e.clientInfo = info
	e.clientMu.Unlock()
	e.logger.Debug().Str("client", info.Name).Str("client_version", info.Version).Msg("client info")
}

func (e *Engine) GetClientCapabilities() mcp.ClientCapabilities {
	e.clientMu.RLock()
	defer e.clientMu.RUnlock()
	return e.clientCaps
}

func (e *Engine) SetClientCapabilities(caps mcp.ClientCapabilities) {
	e.clientMu.Lock()
	e.clientCaps = caps
	e.clientMu.Unlock()
}

func (e *Engine) SetLogLevel(level mcp.LoggingLevel) {
	e.clientMu.Lock()
	e.logLevel = level
	e.clientMu.Unlock()
}

func (e *Engine) GetLogLevel() mcp.LoggingLevel {
	e.clientMu.RLock()
	defer e.clientMu.RUnlock()
	return e.logLevel
}
