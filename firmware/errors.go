package firmware

import "errors"

var (
	// ErrUnsupportedCommand is returned when a family cannot express a command.
	ErrUnsupportedCommand = errors.New("firmware: unsupported command")

	// ErrSettingsReadOnly is returned when writing settings to a family configured externally.
	ErrSettingsReadOnly = errors.New("firmware: settings are read-only")

	// ErrUnknownFamily is returned for an unrecognized family name.
	ErrUnknownFamily = errors.New("firmware: unknown family")

	// ErrInvalidJog is returned for a jog request without any axis movement or a non-positive feed.
	ErrInvalidJog = errors.New("firmware: invalid jog request")

	// ErrOverrideRange is returned for an override percentage outside the firmware limits.
	ErrOverrideRange = errors.New("firmware: override out of range")

	// ErrInvalidSetting is returned for an empty or malformed setting key or value.
	ErrInvalidSetting = errors.New("firmware: invalid setting")
)
