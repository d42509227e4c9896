package cmdbuf

// State is the lifecycle state of a command buffer.
type State uint8

const (
	StateUninitialized State = iota
	StateBuilding
	StateMapAppend
	StateSubmitReady
	StateIncomplete
	stateReleased
)

var stateNames = [...]string{
	StateUninitialized: "uninitialized",
	StateBuilding:      "building",
	StateMapAppend:     "map-append",
	StateSubmitReady:   "submit-ready",
	StateIncomplete:    "incomplete",
	stateReleased:      "released",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}
