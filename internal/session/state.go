package session

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	LoggedOut
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// Trigger is a lifecycle input to the state machine.
type Trigger int

const (
	TriggerStart  Trigger = iota // process start
	TriggerOpen                  // transport reported an open connection
	TriggerClose                 // recoverable close or connect failure
	TriggerLogout                // authoritative logout
)

func (t Trigger) String() string {
	switch t {
	case TriggerStart:
		return "start"
	case TriggerOpen:
		return "open"
	case TriggerClose:
		return "close"
	case TriggerLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Action tells the run loop what to do after a transition.
type Action int

const (
	ActionNone      Action = iota
	ActionConnect          // connect now
	ActionReconnect        // wait the backoff, then connect
	ActionStop             // terminal; never reconnect
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionConnect:
		return "connect"
	case ActionReconnect:
		return "reconnect"
	case ActionStop:
		return "stop"
	default:
		return "unknown"
	}
}

// Transition is the reconnect policy. It has no side effects.
func Transition(s State, t Trigger) (State, Action) {
	if s == LoggedOut {
		return LoggedOut, ActionStop
	}
	switch t {
	case TriggerLogout:
		return LoggedOut, ActionStop
	case TriggerStart:
		if s == Disconnected {
			return Connecting, ActionConnect
		}
		return s, ActionNone
	case TriggerOpen:
		if s == Connecting || s == Connected {
			return Connected, ActionNone
		}
		return s, ActionNone
	case TriggerClose:
		if s == Connecting || s == Connected {
			return Connecting, ActionReconnect
		}
		return s, ActionNone
	}
	return s, ActionNone
}
