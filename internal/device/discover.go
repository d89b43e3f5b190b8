package device

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port found on the system.
type PortInfo struct {
	Name        string
	Description string
	VID         string
	PID         string
}

// Lister enumerates the serial ports currently present.
type Lister func() ([]PortInfo, error)

var (
	knownDescriptions = []string{"Arduino", "USB Serial"}
	knownVendors      = []string{"2341", "2A03"}
)

func ListSerialPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		ports = append(ports, PortInfo{
			Name:        d.Name,
			Description: d.Product,
			VID:         d.VID,
			PID:         d.PID,
		})
	}
	return ports, nil
}

// matchesBoard reports whether the port looks like the microcontroller.
func matchesBoard(p PortInfo) bool {
	for _, sig := range knownDescriptions {
		if strings.Contains(p.Description, sig) {
			return true
		}
	}
	for _, vid := range knownVendors {
		if strings.EqualFold(p.VID, vid) {
			return true
		}
	}
	return false
}

func pickBoard(ports []PortInfo) (string, bool) {
	for _, p := range ports {
		if matchesBoard(p) {
			return p.Name, true
		}
	}
	return "", false
}

func hasPort(ports []PortInfo, name string) bool {
	for _, p := range ports {
		if p.Name == name {
			return true
		}
	}
	return false
}
