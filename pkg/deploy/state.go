package deploy

// State is the lifecycle position of a deployment request. Only the
// synchronous states up to Queued are visible to the submitter; the rest
// appear in logs and metrics.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateValidating State = "VALIDATING"
	StateRejected   State = "REJECTED"
	StateValidated  State = "VALIDATED"
	StateQueued     State = "QUEUED"
	StateRunning    State = "RUNNING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailed     State = "FAILED"
)

// Terminal reports whether no further transition follows s.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateSucceeded || s == StateFailed
}
