package transport

import (
	"path/filepath"
	"regexp"
	"sort"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
	Product      string
}

var candidatePort = regexp.MustCompile(`^(ttyUSB\d+|ttyACM\d+|ttyAMA\d+|ttyS\d+|cu\.usbserial.*|cu\.usbmodem.*|cu\.wchusbserial.*|tty\.usbserial.*|tty\.usbmodem.*|COM\d+)$`)

// IsCandidatePort reports whether name looks like a port a CNC controller attaches to.
func IsCandidatePort(name string) bool {
	return candidatePort.MatchString(filepath.Base(name))
}

// ListPorts returns the candidate serial ports with their USB details, USB ports first.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	return filterPorts(details), nil
}

func filterPorts(details []*enumerator.PortDetails) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || !IsCandidatePort(d.Name) {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			IsUSB:        d.IsUSB,
			VID:          d.VID,
			PID:          d.PID,
			SerialNumber: d.SerialNumber,
			Product:      d.Product,
		})
	}
	sort.SliceStable(ports, func(i, j int) bool {
		if ports[i].IsUSB != ports[j].IsUSB {
			return ports[i].IsUSB
		}
		return ports[i].Name < ports[j].Name
	})

	return ports
}
