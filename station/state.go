package station

import "apsta/internal/check"

// State is the station connection lifecycle state.
type State uint8

const (
	StateIdle State = iota + 1
	StateConnecting
	StateConnected
	StateRetrying
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateRetrying:
		return "retrying"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transition returns to when the edge s -> to is legal and s otherwise.
// Self edges are always legal.
func (s State) Transition(to State) State {
	ok := s == to
	switch s {
	case StateIdle:
		ok = ok || to == StateConnecting || to == StateConnected
	case StateConnecting:
		ok = ok || to == StateConnected || to == StateRetrying || to == StateFailed
	case StateConnected:
		ok = ok || to == StateRetrying || to == StateFailed
	case StateRetrying:
		ok = ok || to == StateConnected || to == StateFailed
	case StateFailed:
		ok = ok || to == StateConnecting || to == StateConnected
	}
	check.Assertf(ok, "station transition: %s -> %s", s, to)
	if !ok {
		return s
	}
	return to
}

// Signal classifies what an event meant for observers.
type Signal uint8

const (
	SignalNone Signal = iota
	// SignalConnectFailure: one attempt failed and a retry was issued.
	SignalConnectFailure
	// SignalRetryExhausted: the retry budget is spent. Emitted once per session.
	SignalRetryExhausted
	SignalAddressAcquired
)

func (s Signal) String() string {
	switch s {
	case SignalNone:
		return "none"
	case SignalConnectFailure:
		return "connect_failure"
	case SignalRetryExhausted:
		return "retry_exhausted"
	case SignalAddressAcquired:
		return "address_acquired"
	default:
		return "unknown"
	}
}
