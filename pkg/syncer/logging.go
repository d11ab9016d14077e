package syncer

// OperationLogger records coordinator activity: state transitions, poll
// outcomes, and hydration failures. Implementations must not call back
// into the Coordinator.
type OperationLogger interface {
	LogOperation(entry OperationLog)
}

// OperationLog describes one coordinator operation.
type OperationLog struct {
	Operation string
	From      State
	To        State
	Cause     string
	MessageID string
	Error     error
}

// Operation names emitted by the coordinator.
const (
	operationTransition = "transition"
	operationConnect    = "connect"
	operationPoll       = "poll"
	operationHydrate    = "hydrate"
)
