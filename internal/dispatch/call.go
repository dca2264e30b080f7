package dispatch

import "sync/atomic"

// State tracks a tool call through its lifecycle:
// Received → Validated → Dispatched → (Completed | Failed | Cancelled).
type State int32

const (
	StateReceived State = iota
	StateValidated
	StateDispatched
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateValidated:
		return "validated"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Call is one in-flight tool invocation. The session manager owns it until
// dispatch completes; state transitions are CAS-guarded so cancellation can
// race the dispatch pipeline safely.
type Call struct {
	RequestID string
	Tool      string
	Args      map[string]any

	state atomic.Int32
}

// NewCall creates a call in the Received state.
func NewCall(requestID, tool string, args map[string]any) *Call {
	c := &Call{RequestID: requestID, Tool: tool, Args: args}
	c.state.Store(int32(StateReceived))
	return c
}

// State returns the current lifecycle state.
func (c *Call) State() State {
	return State(c.state.Load())
}

// advance moves from exactly `from` to `to`. It fails when another
// transition (typically cancellation) won the race.
func (c *Call) advance(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// Cancel moves any non-terminal state to Cancelled. An in-flight upstream
// call is not aborted; its result is discarded on arrival because the
// terminal state is already Cancelled.
func (c *Call) Cancel() bool {
	for {
		cur := c.State()
		if cur.Terminal() {
			return cur == StateCancelled
		}
		if c.state.CompareAndSwap(int32(cur), int32(StateCancelled)) {
			return true
		}
	}
}
