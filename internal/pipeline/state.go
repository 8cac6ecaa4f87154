package pipeline

// State is the lifecycle state of the detection pipeline. Recording is only
// reachable from Running, so recording always implies running.
type State int32

const (
	Idle State = iota
	Running
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Recording:
		return "recording"
	default:
		return "unknown"
	}
}

// Active reports whether a worker is attached to a frame source.
func (s State) Active() bool {
	return s == Running || s == Recording
}
