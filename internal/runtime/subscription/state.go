package subscription

// State is the lifecycle position of an Adapter.
type State int32

const (
	Created State = iota
	Starting
	Running
	Stopping
	Stopped
	// Failed is terminal and reachable from Starting or Running.
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return "unknown"
}
