package master

// State is the controller's lifecycle position. Transitions only move
// forward within one session; a controller is not reused across sessions.
type State int32

const (
	Idle State = iota
	Discovering
	SubordinatesStarting
	AwaitingReadiness
	MasterRunning
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case SubordinatesStarting:
		return "subordinates_starting"
	case AwaitingReadiness:
		return "awaiting_readiness"
	case MasterRunning:
		return "master_running"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
