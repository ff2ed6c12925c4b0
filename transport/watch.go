package transport

// PortAction is the kind of a hot-plug change.
type PortAction uint8

const (
	PortAdded PortAction = iota
	PortRemoved
)

func (a PortAction) String() string {
	if a == PortAdded {
		return "added"
	}
	return "removed"
}

// PortEvent reports a serial device being attached or detached.
type PortEvent struct {
	Action PortAction
	Port   string
}
