package simulate

import (
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/driver"
)

// DriverName is the registry name of the simulated drivers
const DriverName = "simulated"

// Rig wires a simulated bridge, analyzer and sampler to one latch
type Rig struct {
	Latch    *Latch
	Bridge   *Driver
	Analyzer *Analyzer
	Sampler  *Sampler
}

// Timing controls how fast the simulated instruments respond
type Timing struct {
	Move           time.Duration
	Dwell          time.Duration
	Pulse          time.Duration
	ScriptDuration time.Duration
}

// DefaultTiming is quick enough for a rehearsal run
func DefaultTiming() Timing {
	return Timing{
		Move:           2 * time.Second,
		Dwell:          8 * time.Second,
		Pulse:          1500 * time.Millisecond,
		ScriptDuration: 3 * time.Second,
	}
}

// NewRig builds a connected set of simulated instruments
func NewRig(t Timing, extension string) *Rig {
	latch := &Latch{}
	sampler := &Sampler{Latch: latch, Move: t.Move, Dwell: t.Dwell, Pulse: t.Pulse}
	return &Rig{
		Latch:    latch,
		Bridge:   &Driver{Latch: latch, OnTrigger: sampler.Trigger},
		Analyzer: &Analyzer{Extension: extension, ScriptDuration: t.ScriptDuration},
		Sampler:  sampler,
	}
}

var (
	defaultOnce sync.Once
	defaultRig  *Rig
)

// Default returns the process-wide rig behind the registered "simulated" drivers
func Default() *Rig {
	defaultOnce.Do(func() {
		defaultRig = NewRig(DefaultTiming(), ".nano")
	})
	return defaultRig
}

func init() {
	driver.RegisterAnalyzer(DriverName, func() (driver.Analyzer, error) { return Default().Analyzer, nil })
	driver.RegisterSampler(DriverName, func() (driver.Sampler, error) { return Default().Sampler, nil })
}
