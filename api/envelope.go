package api

import (
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
)

// Error codes outside the JSON-RPC reserved range used by the router
const (
	CodeNoValidSession = -32000
)

const (
	msgNoValidSession  = "Bad Request: No valid session ID provided"
	msgTooManyInits    = "Too Many Requests: session initialization rate exceeded"
	msgStreamConflict  = "Conflict: a stream is already open for this session"
	msgBodyTooLarge    = "Request body too large"
	msgUnreadableBody  = "Failed to read request body"
	msgSessionCreation = "Internal error: could not create session"
	msgInternal        = "Internal error"
)

// rpcErrorBody is the JSON-RPC error envelope written by the router itself
type rpcErrorBody struct {
	JSONRPC string         `json:"jsonrpc"`
	Error   rpcErrorDetail `json:"error"`
	ID      any            `json:"id"`
}

type rpcErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondRPCError(w http.ResponseWriter, status, code int, message string, id any) int {
	respondJSON(w, status, rpcErrorBody{
		JSONRPC: mcp.JSONRPC_VERSION,
		Error:   rpcErrorDetail{Code: code, Message: message},
		ID:      id,
	})
	return status
}

func respondNoSession(w http.ResponseWriter) int {
	return respondRPCError(w, http.StatusBadRequest, CodeNoValidSession, msgNoValidSession, nil)
}

// isErrorReply reports whether msg is a JSON-RPC error produced by the engine
func isErrorReply(msg mcp.JSONRPCMessage) bool {
	switch msg.(type) {
	case mcp.JSONRPCError, *mcp.JSONRPCError:
		return true
	}
	return false
}
