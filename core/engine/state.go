package engine

// State is the lifecycle state of a conversation.
type State int32

const (
	StateUninitialized State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CloseReason records why a conversation ended.
type CloseReason string

const (
	ReasonClientTerminated CloseReason = "client_terminated"
	ReasonTransportClosed  CloseReason = "transport_closed"
	ReasonIdleTimeout      CloseReason = "idle_timeout"
	ReasonInitFailed       CloseReason = "init_failed"
	ReasonShutdown         CloseReason = "shutdown"
	ReasonEngineFault      CloseReason = "engine_fault"
)
