package peripheral

// State is the lifecycle state of a Peripheral.
type State int32

const (
	StateIdle State = iota
	StateAdvertising
	StateConnected
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// serving reports whether events and fan-outs are processed in s.
func (s State) serving() bool {
	return s == StateAdvertising || s == StateConnected
}
