// Package simulate provides in-process stand-ins for the bridge, analyzer
// and sampler so a whole batch can be rehearsed without instruments.
package simulate

import (
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/bridge"
)

// PortName is the name the simulated bridge port is listed under
const PortName = "SIM0"

// Latch is the shared signal line between the simulated sampler and bridge
type Latch struct {
	mu      sync.Mutex
	latched bool
	live    bool
}

// Raise asserts the sampler's ready signal, setting the latch
func (l *Latch) Raise() {
	l.mu.Lock()
	l.latched = true
	l.live = true
	l.mu.Unlock()
}

// Drop releases the live signal. The latch stays set until cleared.
func (l *Latch) Drop() {
	l.mu.Lock()
	l.live = false
	l.mu.Unlock()
}

func (l *Latch) state() (latched, live bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latched, l.live
}

func (l *Latch) clear() {
	l.mu.Lock()
	l.latched = false
	l.mu.Unlock()
}

// Driver lists a single Arduino-like port backed by a Latch
type Driver struct {
	Latch *Latch
	// OnTrigger is called when the bridge relays a trigger to the sampler
	OnTrigger func()
}

func (d *Driver) List() ([]bridge.PortInfo, error) {
	return []bridge.PortInfo{{Name: PortName, Description: "Arduino Uno (simulated)"}}, nil
}

func (d *Driver) Open(name string, s bridge.Settings) (bridge.Port, error) {
	return &port{latch: d.Latch, onTrigger: d.OnTrigger, timeout: s.ReadTimeout}, nil
}

// port answers commands like the bridge firmware
type port struct {
	mu        sync.Mutex
	latch     *Latch
	onTrigger func()
	timeout   time.Duration
	out       []byte
	closed    bool
}

func (p *port) Write(b []byte) (int, error) {
	for _, cmd := range b {
		p.handle(cmd)
	}
	return len(b), nil
}

func (p *port) handle(cmd byte) {
	var reply string
	switch cmd {
	case 'R':
		if _, live := p.latch.state(); live {
			reply = "Signal From Autosampler Detected"
		}
	case 'S':
		if latched, _ := p.latch.state(); latched {
			reply = "Autosampler Signal Latched As True"
		}
	case 'C':
		p.latch.clear()
		reply = "Autosampler Signal Latch Cleared"
	case 'T':
		reply = "Signal Sent To Autosampler"
		if p.onTrigger != nil {
			p.onTrigger()
		}
	}
	if reply == "" {
		return
	}
	p.mu.Lock()
	p.out = append(p.out, reply+"\r\n"...)
	p.mu.Unlock()
}

func (p *port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.out) == 0 {
		p.mu.Unlock()
		// silent device: behave like a read timeout
		time.Sleep(p.timeout)
		return 0, nil
	}
	n := copy(b, p.out)
	p.out = p.out[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *port) ResetInputBuffer() error {
	p.mu.Lock()
	p.out = nil
	p.mu.Unlock()
	return nil
}

func (p *port) ResetOutputBuffer() error { return nil }

func (p *port) SetReadTimeout(t time.Duration) error {
	p.timeout = t
	return nil
}

func (p *port) Close() error {
	p.closed = true
	return nil
}
