package bridge

import (
	"fmt"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Port is the subset of a serial handle the channel needs
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// PortInfo describes one serial port found on the host
type PortInfo struct {
	Name        string
	Description string
	VID         string
	PID         string
}

// Label is the text the device pattern is matched against
func (p PortInfo) Label() string {
	if p.Description == "" {
		return p.Name
	}
	return fmt.Sprintf("%s (%s)", p.Description, p.Name)
}

// Driver lists and opens serial ports
type Driver interface {
	List() ([]PortInfo, error)
	Open(name string, s Settings) (Port, error)
}

// SerialDriver opens real ports through go.bug.st/serial
type SerialDriver struct{}

func (SerialDriver) List() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerate serial ports: %w", err)
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

func (SerialDriver) Open(name string, s Settings) (Port, error) {
	mode := &serial.Mode{
		BaudRate: s.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(s.ReadTimeout); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
