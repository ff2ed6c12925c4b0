// Package machine models the live state of a CNC controller: positions, status snapshots,
// overrides, alarms and the controller state machine.
//
// Positions are always stored in millimeters. Conversion to inches happens only when a value
// leaves the engine, via Position.In.
//
// MachineStatus values are immutable. Every update produces a new value with Apply, so a
// pointer obtained from the controller can be read without synchronization.
//
// StateMgr tracks the controller State. It validates requested transitions, follows the
// states reported by the firmware, and latches Alarm until an explicit unlock or reset.
package machine
