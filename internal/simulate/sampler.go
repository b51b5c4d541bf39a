package simulate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/driver"
)

// Sampler imitates the autosampler controller running a script that, for
// each position, moves, signals ready, dwells for the measurement, signals
// done and then waits for a trigger.
type Sampler struct {
	Latch *Latch

	// Positions is how many samples the script visits. Zero means no limit.
	Positions int
	Move      time.Duration
	Dwell     time.Duration
	Pulse     time.Duration
	// FailWith makes RunScript report this state instead of starting
	FailWith driver.SamplerRun

	mu       sync.Mutex
	running  bool
	errored  bool
	cancel   context.CancelFunc
	triggers chan struct{}
}

// Trigger advances the sampler script. Wired to the simulated bridge.
func (s *Sampler) Trigger() {
	s.mu.Lock()
	ch := s.triggers
	s.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (s *Sampler) Exists(ctx context.Context) bool { return true }

func (s *Sampler) CloseAllChildWindows(ctx context.Context) error { return nil }

func (s *Sampler) RunScript(ctx context.Context) (driver.SamplerRun, error) {
	if s.FailWith != driver.SamplerRunning {
		return s.FailWith, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return driver.SamplerButtonDisabled, nil
	}
	// the script outlives the call that started it
	scriptCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.running = true
	s.cancel = cancel
	s.triggers = make(chan struct{}, 1)
	go s.script(scriptCtx, s.triggers)
	return driver.SamplerRunning, nil
}

func (s *Sampler) script(ctx context.Context, triggers chan struct{}) {
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	for pos := 1; s.Positions == 0 || pos <= s.Positions; pos++ {
		if pos > 1 && !wait(ctx, triggers) {
			return
		}
		if !sleep(ctx, s.Move) || !s.pulse(ctx) {
			return
		}
		if !sleep(ctx, s.Dwell) || !s.pulse(ctx) {
			return
		}
	}
	// final trigger lets the script end
	wait(ctx, triggers)
}

func (s *Sampler) pulse(ctx context.Context) bool {
	s.Latch.Raise()
	ok := sleep(ctx, s.Pulse)
	s.Latch.Drop()
	return ok
}

// HasCommunicationEstablished always reports a healthy link
func (s *Sampler) HasCommunicationEstablished(ctx context.Context) bool { return true }

// HasActiveScript reports true: the simulated controller always has a script loaded
func (s *Sampler) HasActiveScript(ctx context.Context) bool { return true }

func (s *Sampler) HasReportedError(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errored
}

// InjectError makes the next HasReportedError call report an error
func (s *Sampler) InjectError() {
	s.mu.Lock()
	s.errored = true
	s.mu.Unlock()
}

func (s *Sampler) AbortScript(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return errors.New("no sampler script running")
	}
	s.cancel()
	return nil
}

// Running reports whether the sampler script is active
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return false
	case <-ch:
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
