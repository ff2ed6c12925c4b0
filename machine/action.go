package machine

// Action is a user request gated by the controller state.
type Action uint8

const (
	ActionStream Action = iota
	ActionExecute
	ActionJog
	ActionHome
	ActionPause
	ActionResume
	ActionCancel
	ActionUnlock
	ActionReset
	ActionCheckMode
	ActionSettings
	ActionOverride
)

var actionNames = [...]string{
	ActionStream:    "stream",
	ActionExecute:   "execute",
	ActionJog:       "jog",
	ActionHome:      "home",
	ActionPause:     "pause",
	ActionResume:    "resume",
	ActionCancel:    "cancel",
	ActionUnlock:    "unlock",
	ActionReset:     "reset",
	ActionCheckMode: "check mode",
	ActionSettings:  "settings",
	ActionOverride:  "override",
}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// allowed lists the states in which each action may be requested.
// Alarm is handled separately so that motion requests get an AlarmError.
var allowed = map[Action][]State{
	ActionStream:    {Idle, Check},
	ActionExecute:   {Idle, Check},
	ActionJog:       {Idle, Jog},
	ActionHome:      {Idle},
	ActionPause:     {Run, Jog, Check, Hold},
	ActionResume:    {Hold, Door, Run},
	ActionCancel:    {Idle, Run, Hold, Jog, Home, Check, Door, Alarm},
	ActionUnlock:    {Idle, Alarm, Check, Sleep},
	ActionReset:     {Idle, Run, Hold, Jog, Home, Alarm, Check, Door, Sleep},
	ActionCheckMode: {Idle, Check},
	ActionSettings:  {Idle, Alarm, Check},
	ActionOverride:  {Idle, Run, Hold, Jog, Home, Check, Door},
}

// Permits reports whether the action may be requested while in state s.
func (a Action) Permits(s State) bool {
	for _, st := range allowed[a] {
		if st == s {
			return true
		}
	}
	return false
}
