package server

// LifecycleState is the coarse state of a server connection.
type LifecycleState int

const (
	StateStopped LifecycleState = iota
	StateStarting
	StateRunning
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// StateChange is delivered to state listeners on every transition.
type StateChange struct {
	Old LifecycleState
	New LifecycleState
}
