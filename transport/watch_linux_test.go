//go:build linux

package transport

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/require"
)

func TestToPortEvent(t *testing.T) {
	require := require.New(t)

	ev, ok := toPortEvent(netlink.UEvent{
		Action: netlink.ADD,
		KObj:   "/devices/pci0000:00/usb1/1-1/1-1:1.0/ttyUSB0/tty/ttyUSB0",
		Env:    map[string]string{"SUBSYSTEM": "tty", "DEVNAME": "ttyUSB0"},
	})
	require.True(ok)
	require.Equal(PortEvent{Action: PortAdded, Port: "/dev/ttyUSB0"}, ev)

	ev, ok = toPortEvent(netlink.UEvent{
		Action: netlink.REMOVE,
		KObj:   "/devices/pci0000:00/usb1/1-2/1-2:1.0/tty/ttyACM0",
		Env:    map[string]string{"SUBSYSTEM": "tty"},
	})
	require.True(ok)
	require.Equal(PortEvent{Action: PortRemoved, Port: "/dev/ttyACM0"}, ev)
	require.Equal("removed", ev.Action.String())

	_, ok = toPortEvent(netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"SUBSYSTEM": "tty", "DEVNAME": "/dev/tty3"},
	})
	require.False(ok)

	_, ok = toPortEvent(netlink.UEvent{
		Action: netlink.CHANGE,
		Env:    map[string]string{"SUBSYSTEM": "tty", "DEVNAME": "ttyUSB1"},
	})
	require.False(ok)
}
