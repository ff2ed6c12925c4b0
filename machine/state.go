package machine

import (
	"strconv"
	"strings"
)

// State is the controller operating state.
type State uint32

const (
	Disconnected State = iota
	Connecting
	Idle
	Run
	Hold
	Jog
	Home
	Alarm
	Check
	Door
	Sleep
)

var stateNames = [...]string{
	Disconnected: "Disconnected",
	Connecting:   "Connecting",
	Idle:         "Idle",
	Run:          "Run",
	Hold:         "Hold",
	Jog:          "Jog",
	Home:         "Home",
	Alarm:        "Alarm",
	Check:        "Check",
	Door:         "Door",
	Sleep:        "Sleep",
}

// String returns the firmware style name of the state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// IsConnected reports whether the state implies a live, initialized session.
func (s State) IsConnected() bool {
	return s != Disconnected && s != Connecting
}

// IsMoving reports whether the machine is executing motion.
func (s State) IsMoving() bool {
	return s == Run || s == Jog || s == Home
}

// ParseState parses a firmware state name such as "Idle", "Hold:1" or "Door:0".
// The optional sub state after the colon is returned separately, or -1 when absent.
func ParseState(name string) (state State, sub int, ok bool) {
	sub = -1
	if i := strings.IndexByte(name, ':'); i >= 0 {
		if n, err := strconv.Atoi(name[i+1:]); err == nil {
			sub = n
		}
		name = name[:i]
	}

	for i, n := range stateNames {
		if i <= int(Connecting) {
			continue
		}
		if strings.EqualFold(n, name) {
			return State(i), sub, true
		}
	}

	// aliases used by TinyG, g2core and Smoothieware
	switch strings.ToLower(name) {
	case "ready", "stop", "end", "program-stop", "program-end", "initializing":
		return Idle, sub, true
	case "cycle", "running", "probe":
		return Run, sub, true
	case "feedhold", "holding":
		return Hold, sub, true
	case "homing":
		return Home, sub, true
	case "jogging":
		return Jog, sub, true
	case "shutdown", "panic", "halt":
		return Alarm, sub, true
	}

	return Disconnected, sub, false
}

// transitions lists, for every state, the states it may move to.
// Disconnected is reachable from every state and is not listed.
var transitions = map[State][]State{
	Disconnected: {Connecting},
	Connecting:   {Idle, Alarm},
	Idle:         {Run, Jog, Home, Alarm, Check, Door, Sleep, Hold},
	Run:          {Hold, Idle, Alarm, Door},
	Hold:         {Run, Idle, Alarm, Door},
	Jog:          {Idle, Alarm, Hold, Door},
	Home:         {Idle, Alarm},
	Alarm:        {Idle},
	Check:        {Idle, Alarm, Hold},
	Door:         {Hold, Idle, Alarm},
	Sleep:        {Alarm, Idle},
}

// CanTransition reports whether the state machine permits moving from one state to another.
func CanTransition(from, to State) bool {
	if from == to || to == Disconnected {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
