package channel

// CommandState is a position in the per-command state machine from
// spec.md §4.3. Transitions are driven exclusively by Channel, under
// its mutex; callers only ever observe a state, never set one.
type CommandState int

const (
	// StateInitial is the state of a Command between construction and
	// its first admission attempt.
	StateInitial CommandState = iota
	// StateActive means the command's request frame is on the wire on
	// some transport, awaiting a response.
	StateActive
	// StatePending means the command is queued locally, waiting for a
	// slot, a transport, or channel reconnection before it can be sent.
	StatePending
	// StateRetry means the command's original attempt was lost to a
	// transport failure and it is queued for re-dispatch on another
	// transport, retaining its slot and commandSN.
	StateRetry
	// StateIndoubt means a response may or may not have reached the
	// server before the transport carrying it failed; the command
	// cannot be safely retried until this is resolved.
	StateIndoubt
	// StateAbort means a task-management exchange to cancel this
	// command is in flight or queued.
	StateAbort
	// StateFinal is terminal: the command has a result (success,
	// error, or abort confirmation) and will never transition again.
	StateFinal
)

func (s CommandState) String() string {
	switch s {
	case StateInitial:
		return "INITIAL"
	case StateActive:
		return "ACTIVE"
	case StatePending:
		return "PENDING"
	case StateRetry:
		return "RETRY"
	case StateIndoubt:
		return "INDOUBT"
	case StateAbort:
		return "ABORT"
	case StateFinal:
		return "FINAL"
	default:
		return "UNKNOWN"
	}
}
