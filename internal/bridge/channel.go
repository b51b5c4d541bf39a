// Package bridge owns the serial link to the microcontroller that relays
// the autosampler's ready signal. It sends single-byte commands and reads
// CRLF-terminated response lines.
package bridge

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/logging"
)

var (
	ErrDeviceNotFound  = errors.New("no bridge device found")
	ErrAmbiguousDevice = errors.New("more than one bridge device found")
	ErrConnect         = errors.New("failed to connect to bridge")
	ErrDisconnected    = errors.New("bridge disconnected")
	ErrClosed          = errors.New("bridge session closed")
)

// maxLineLength bounds a response line when the device never sends '\n'
const maxLineLength = 256

// Settings are the fixed link parameters
type Settings struct {
	BaudRate    int
	ReadTimeout time.Duration
}

// DefaultSettings returns 115200 baud with a one second read timeout
func DefaultSettings() Settings {
	return Settings{BaudRate: 115200, ReadTimeout: time.Second}
}

// Channel is an open session with the bridge. At most one exists per run.
type Channel struct {
	mu      sync.Mutex
	port    Port
	name    string
	pending []byte
	closed  bool
	log     *logging.Logger
}

// Matching returns the ports whose label matches pattern
func Matching(ports []PortInfo, pattern *regexp.Regexp) []PortInfo {
	var found []PortInfo
	for _, p := range ports {
		if pattern.MatchString(p.Label()) {
			found = append(found, p)
		}
	}
	return found
}

// Open finds exactly one port matching pattern and opens it
func Open(driver Driver, pattern *regexp.Regexp, settings Settings, log *logging.Logger) (*Channel, error) {
	ports, err := driver.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnect, err)
	}

	found := Matching(ports, pattern)
	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w (pattern %q, %d ports scanned)", ErrDeviceNotFound, pattern.String(), len(ports))
	case 1:
	default:
		names := make([]string, len(found))
		for i, p := range found {
			names[i] = p.Name
		}
		return nil, fmt.Errorf("%w: %v", ErrAmbiguousDevice, names)
	}

	name := found[0].Name
	port, err := driver.Open(name, settings)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrConnect, name, err)
	}

	log.Info("bridge connected", "port", name, "description", found[0].Description, "baud", settings.BaudRate)
	return &Channel{port: port, name: name, log: log}, nil
}

// PortName returns the name of the open port
func (c *Channel) PortName() string {
	return c.name
}

// Send writes one command byte
func (c *Channel) Send(cmd byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.port.ResetOutputBuffer(); err != nil {
		return c.disconnected("reset output", err)
	}
	if _, err := c.port.Write([]byte{cmd}); err != nil {
		return c.disconnected("write", err)
	}
	return nil
}

// ReadLine reads one response line with CR/LF stripped. A read timeout
// returns whatever arrived so far, which is empty if the device was silent.
func (c *Channel) ReadLine() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	buf := make([]byte, 64)
	for {
		if i := bytes.IndexByte(c.pending, '\n'); i >= 0 {
			line := c.pending[:i]
			c.pending = append([]byte(nil), c.pending[i+1:]...)
			return trimLine(line), nil
		}
		if len(c.pending) >= maxLineLength {
			line := c.pending
			c.pending = nil
			return trimLine(line), nil
		}

		n, err := c.port.Read(buf)
		if err != nil {
			return nil, c.disconnected("read", err)
		}
		if n == 0 {
			line := c.pending
			c.pending = nil
			return trimLine(line), nil
		}
		c.pending = append(c.pending, buf[:n]...)
	}
}

// Flush discards buffered input
func (c *Channel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.pending = nil
	if err := c.port.ResetInputBuffer(); err != nil {
		return c.disconnected("reset input", err)
	}
	return nil
}

// Close releases the port. Safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.pending = nil
	err := c.port.Close()
	if err != nil {
		c.log.Warn("bridge close failed", "port", c.name, "error", err)
		return err
	}
	c.log.Info("bridge closed", "port", c.name)
	return nil
}

func (c *Channel) disconnected(op string, err error) error {
	c.log.Error("bridge i/o error", "port", c.name, "op", op, "error", err)
	return fmt.Errorf("%w: %s %s: %v", ErrDisconnected, op, c.name, err)
}

func trimLine(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}
