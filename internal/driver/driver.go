// Package driver defines the capability contracts the batch consumes from
// the analyzer and sampler control software, plus a registry so concrete
// automation drivers can be selected by name from configuration.
package driver

import (
	"context"
	"time"
)

// ScriptEnd is how waiting for the analyzer's end-of-script signal ended
type ScriptEnd int

const (
	ScriptSignaled ScriptEnd = iota
	ScriptTimedOut
	ScriptCancelled
)

func (s ScriptEnd) String() string {
	switch s {
	case ScriptSignaled:
		return "signaled"
	case ScriptTimedOut:
		return "timed_out"
	case ScriptCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Analyzer drives the particle analysis software.
// Implementations assume they are the only automation driving its windows.
type Analyzer interface {
	Exists(ctx context.Context) bool
	SetOutputFilename(ctx context.Context, base string) error
	LoadScript(ctx context.Context, path string) error
	// RunScript starts the loaded script, dismissing the overwrite prompt if shown
	RunScript(ctx context.Context) error
	// OpenExperiment opens a result file and waits until it is listed as loaded
	OpenExperiment(ctx context.Context, path string, matchTimeout time.Duration) error
	// ExportResults confirms the export dialog and waits for it to close
	ExportResults(ctx context.Context, timeout time.Duration) error
	WaitForScriptEnd(ctx context.Context, timeout time.Duration) (ScriptEnd, error)
	AbortScript(ctx context.Context) error
}

// SamplerRun is the result of starting the sampler's script
type SamplerRun int

const (
	SamplerRunning SamplerRun = iota
	SamplerButtonDisabled
	SamplerNoSamplesSelected
	SamplerFailed
)

func (r SamplerRun) String() string {
	switch r {
	case SamplerRunning:
		return "running"
	case SamplerButtonDisabled:
		return "run button disabled"
	case SamplerNoSamplesSelected:
		return "no samples selected"
	case SamplerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Sampler drives the autosampler control software
type Sampler interface {
	Exists(ctx context.Context) bool
	CloseAllChildWindows(ctx context.Context) error
	RunScript(ctx context.Context) (SamplerRun, error)
	HasCommunicationEstablished(ctx context.Context) bool
	HasActiveScript(ctx context.Context) bool
	HasReportedError(ctx context.Context) bool
	AbortScript(ctx context.Context) error
}
