package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/driver"
	"github.com/hochfrequenz/nta-batch/internal/latch"
)

// callLog records every call to the fakes in order
type callLog struct {
	mu     sync.Mutex
	calls  []string
	onCall func(n int, name string)
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	n := len(l.calls)
	hook := l.onCall
	l.mu.Unlock()
	if hook != nil {
		hook(n, name)
	}
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(name string) int {
	n := 0
	for _, c := range l.list() {
		if c == name {
			n++
		}
	}
	return n
}

// fakeBridge answers every command correctly unless told otherwise.
// Each read costs one second of fake time.
type fakeBridge struct {
	log   *callLog
	clock *clock.FakeClock

	// ignore is how many of each command go unanswered before replies start
	ignore map[byte]int
	// failFrom makes every bridge call from the n-th one (1-based) fail
	failFrom int

	mu     sync.Mutex
	n      int
	last   byte
	seen   map[byte]int
	closes int
}

func (b *fakeBridge) call(name string) error {
	b.mu.Lock()
	b.n++
	n := b.n
	b.mu.Unlock()
	b.log.add(name)
	if b.failFrom > 0 && n >= b.failFrom {
		return errors.New("serial port vanished")
	}
	return nil
}

func (b *fakeBridge) Send(cmd byte) error {
	if err := b.call("bridge." + string(cmd)); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.seen == nil {
		b.seen = map[byte]int{}
	}
	b.seen[cmd]++
	b.last = cmd
	return nil
}

func (b *fakeBridge) ReadLine() ([]byte, error) {
	b.clock.Advance(time.Second)
	if err := b.call("bridge.read"); err != nil {
		return nil, err
	}

	b.mu.Lock()
	cmd := b.last
	seen := b.seen[cmd]
	b.mu.Unlock()

	if seen <= b.ignore[cmd] {
		return nil, nil
	}
	switch cmd {
	case latch.CmdProbe:
		return []byte(latch.RespProbe), nil
	case latch.CmdCheck:
		return []byte(latch.RespCheck), nil
	case latch.CmdReset:
		return []byte(latch.RespReset), nil
	case latch.CmdTrigger:
		return []byte(latch.RespTrigger), nil
	}
	return nil, nil
}

func (b *fakeBridge) Flush() error {
	return b.call("bridge.flush")
}

func (b *fakeBridge) Close() error {
	b.mu.Lock()
	b.closes++
	b.mu.Unlock()
	return nil
}

// fakeAnalyzer writes <base>.nano when an acquisition script runs so the
// processing phase can find it
type fakeAnalyzer struct {
	log *callLog

	exists    bool
	failOn    map[string]int // call name -> 1-based occurrence that fails
	scriptEnd driver.ScriptEnd

	mu     sync.Mutex
	counts map[string]int
	base   string
	opened []string
	aborts int
}

func (a *fakeAnalyzer) hit(name string) error {
	a.log.add("analyzer." + name)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.counts == nil {
		a.counts = map[string]int{}
	}
	a.counts[name]++
	if n, ok := a.failOn[name]; ok && n == a.counts[name] {
		return fmt.Errorf("%s failed", name)
	}
	return nil
}

func (a *fakeAnalyzer) Exists(ctx context.Context) bool {
	a.log.add("analyzer.Exists")
	return a.exists
}

func (a *fakeAnalyzer) SetOutputFilename(ctx context.Context, base string) error {
	if err := a.hit("SetOutputFilename"); err != nil {
		return err
	}
	a.mu.Lock()
	a.base = base
	a.mu.Unlock()
	return nil
}

func (a *fakeAnalyzer) LoadScript(ctx context.Context, path string) error {
	return a.hit("LoadScript")
}

func (a *fakeAnalyzer) RunScript(ctx context.Context) error {
	if err := a.hit("RunScript"); err != nil {
		return err
	}
	a.mu.Lock()
	base := a.base
	a.base = ""
	a.mu.Unlock()
	if base != "" {
		return os.WriteFile(base+".nano", []byte("raw"), 0644)
	}
	return nil
}

func (a *fakeAnalyzer) OpenExperiment(ctx context.Context, path string, matchTimeout time.Duration) error {
	if err := a.hit("OpenExperiment"); err != nil {
		return err
	}
	a.mu.Lock()
	a.opened = append(a.opened, filepath.Base(path))
	a.mu.Unlock()
	return nil
}

func (a *fakeAnalyzer) ExportResults(ctx context.Context, timeout time.Duration) error {
	return a.hit("ExportResults")
}

func (a *fakeAnalyzer) WaitForScriptEnd(ctx context.Context, timeout time.Duration) (driver.ScriptEnd, error) {
	if err := a.hit("WaitForScriptEnd"); err != nil {
		return driver.ScriptTimedOut, err
	}
	if ctx.Err() != nil {
		return driver.ScriptCancelled, nil
	}
	return a.scriptEnd, nil
}

func (a *fakeAnalyzer) AbortScript(ctx context.Context) error {
	a.log.add("analyzer.AbortScript")
	a.mu.Lock()
	a.aborts++
	a.mu.Unlock()
	return errors.New("nothing to abort")
}

type fakeSampler struct {
	log *callLog

	exists   bool
	comms    bool
	script   bool
	errorAt  int // HasReportedError returns true on this call (1-based)
	runState driver.SamplerRun

	mu       sync.Mutex
	errCalls int
	aborts   int
}

func (s *fakeSampler) Exists(ctx context.Context) bool {
	s.log.add("sampler.Exists")
	return s.exists
}

func (s *fakeSampler) CloseAllChildWindows(ctx context.Context) error {
	s.log.add("sampler.CloseAllChildWindows")
	return nil
}

func (s *fakeSampler) RunScript(ctx context.Context) (driver.SamplerRun, error) {
	s.log.add("sampler.RunScript")
	return s.runState, nil
}

func (s *fakeSampler) HasCommunicationEstablished(ctx context.Context) bool {
	s.log.add("sampler.HasCommunicationEstablished")
	return s.comms
}

func (s *fakeSampler) HasActiveScript(ctx context.Context) bool {
	s.log.add("sampler.HasActiveScript")
	return s.script
}

func (s *fakeSampler) HasReportedError(ctx context.Context) bool {
	s.log.add("sampler.HasReportedError")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errCalls++
	return s.errorAt > 0 && s.errCalls == s.errorAt
}

func (s *fakeSampler) AbortScript(ctx context.Context) error {
	s.log.add("sampler.AbortScript")
	s.mu.Lock()
	s.aborts++
	s.mu.Unlock()
	return nil
}
