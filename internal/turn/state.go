package turn

// State is the stage the driver is in. Exactly one turn is in flight at a
// time, so the whole loop is described by a single State.
type State int32

const (
	Idle State = iota
	CapturingUtterance
	Transcribing
	AwaitingResponse
	Speaking
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case CapturingUtterance:
		return "capturing"
	case Transcribing:
		return "transcribing"
	case AwaitingResponse:
		return "awaiting_response"
	case Speaking:
		return "speaking"
	case Terminated:
		return "terminated"
	}
	return "unknown"
}
