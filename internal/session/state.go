package session

// State is the controller lifecycle state. Exactly one state holds at a time;
// all transitions happen on the controller's event loop.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConfiguring
	StateReady
	StateUserTurn
	StateAssistantTurn
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConfiguring:
		return "configuring"
	case StateReady:
		return "ready"
	case StateUserTurn:
		return "user_turn"
	case StateAssistantTurn:
		return "assistant_turn"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
