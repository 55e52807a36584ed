package engine

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Kind is the shape of an inbound JSON-RPC message.
type Kind int

const (
	KindRequest Kind = iota + 1
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

// Message is the envelope of an inbound JSON-RPC message.
type Message struct {
	Kind   Kind
	Method string
	ID     mcp.RequestId
	Result json.RawMessage
	Error  *ReplyError
}

// ReplyError is the error member of a client reply.
type ReplyError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("client error %d: %s", e.Code, e.Message)
}

// IsInitialize reports whether m is an initialize request.
func (m Message) IsInitialize() bool {
	return m.Kind == KindRequest && m.Method == string(mcp.MethodInitialize)
}

// ProtocolError is a malformed or out-of-sequence message. It is reported to
// the caller synchronously and never closes the conversation.
type ProtocolError struct {
	Code    int
	Message string
	ID      any
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// JSONRPC renders the error as a JSON-RPC error message.
func (e *ProtocolError) JSONRPC() mcp.JSONRPCError {
	out := mcp.JSONRPCError{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      mcp.NewRequestId(e.ID),
	}
	out.Error.Code = e.Code
	out.Error.Message = e.Message
	return out
}

func protocolError(code int, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Message: msg}
}

// Classify decodes the envelope of raw without dispatching it.
func Classify(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, protocolError(mcp.PARSE_ERROR, "empty message")
	}
	switch trimmed[0] {
	case '[':
		return Message{}, protocolError(mcp.INVALID_REQUEST, "batch messages are not supported")
	case '{':
	default:
		return Message{}, protocolError(mcp.INVALID_REQUEST, "message must be a JSON object")
	}

	var env struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      *mcp.RequestId  `json:"id"`
		Method  string          `json:"method"`
		Result  json.RawMessage `json:"result"`
		Error   *ReplyError     `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{}, protocolError(mcp.PARSE_ERROR, "Failed to parse message")
	}

	var id mcp.RequestId
	if env.ID != nil {
		id = *env.ID
	}
	if env.JSONRPC != mcp.JSONRPC_VERSION {
		return Message{}, &ProtocolError{Code: mcp.INVALID_REQUEST, Message: "Invalid JSON-RPC version", ID: id.Value()}
	}

	msg := Message{Method: env.Method, ID: id, Result: env.Result, Error: env.Error}
	switch {
	case env.Method != "" && env.ID == nil:
		msg.Kind = KindNotification
	case env.Method != "":
		msg.Kind = KindRequest
	case env.ID != nil && (env.Result != nil || env.Error != nil):
		msg.Kind = KindResponse
	default:
		return Message{}, &ProtocolError{Code: mcp.INVALID_REQUEST, Message: "message has neither method nor result", ID: id.Value()}
	}
	return msg, nil
}
