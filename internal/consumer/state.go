package consumer

// State is the lifecycle stage of a Runtime.
type State int32

// Runtime states
const (
	StateInit State = iota
	StateConnecting
	StateRunning
	StateTerminatingNormal
	StateTerminatingError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateRunning:
		return "running"
	case StateTerminatingNormal:
		return "terminating_normal"
	case StateTerminatingError:
		return "terminating_error"
	default:
		return "unknown"
	}
}
