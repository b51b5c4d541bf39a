package simulate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/driver"
)

// Analyzer imitates the particle analysis software. Acquisition scripts
// write <base><ext>, processing scripts need an opened experiment and
// export writes a summary next to it.
type Analyzer struct {
	Extension      string
	ScriptDuration time.Duration
	// Timestamped appends a "YYYY-MM-DD HH-MM-SS" stamp to result files
	Timestamped bool

	mu         sync.Mutex
	base       string
	script     string
	experiment string
	done       chan struct{}
	aborted    bool
}

func (a *Analyzer) Exists(ctx context.Context) bool { return true }

func (a *Analyzer) SetOutputFilename(ctx context.Context, base string) error {
	if base == "" {
		return errors.New("empty output filename")
	}
	a.mu.Lock()
	a.base = base
	a.mu.Unlock()
	return nil
}

func (a *Analyzer) LoadScript(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("load script: %w", err)
	}
	a.mu.Lock()
	a.script = path
	a.mu.Unlock()
	return nil
}

func (a *Analyzer) RunScript(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.script == "" {
		return errors.New("no script loaded")
	}

	var output string
	if a.base != "" {
		output = a.resultName(a.base)
		a.base = ""
	} else if a.experiment == "" {
		return errors.New("processing script needs an open experiment")
	}

	done := make(chan struct{})
	a.done = done
	a.aborted = false
	go func() {
		time.Sleep(a.ScriptDuration)
		if output != "" {
			os.WriteFile(output, []byte("simulated acquisition\n"), 0644)
		}
		close(done)
	}()
	return nil
}

func (a *Analyzer) resultName(base string) string {
	if a.Timestamped {
		return base + " " + time.Now().Format("2006-01-02 15-04-05") + a.Extension
	}
	return base + a.Extension
}

func (a *Analyzer) OpenExperiment(ctx context.Context, path string, matchTimeout time.Duration) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("open experiment: %w", err)
	}
	a.mu.Lock()
	a.experiment = path
	a.mu.Unlock()
	return nil
}

func (a *Analyzer) ExportResults(ctx context.Context, timeout time.Duration) error {
	a.mu.Lock()
	exp := a.experiment
	a.mu.Unlock()
	if exp == "" {
		return errors.New("no experiment open")
	}
	summary := strings.TrimSuffix(exp, filepath.Ext(exp)) + " summary.csv"
	return os.WriteFile(summary, []byte("sample,concentration\n"), 0644)
}

func (a *Analyzer) WaitForScriptEnd(ctx context.Context, timeout time.Duration) (driver.ScriptEnd, error) {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()
	if done == nil {
		return driver.ScriptTimedOut, errors.New("no script running")
	}

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		a.mu.Lock()
		aborted := a.aborted
		a.mu.Unlock()
		if aborted {
			return driver.ScriptCancelled, nil
		}
		return driver.ScriptSignaled, nil
	case <-ctx.Done():
		return driver.ScriptCancelled, nil
	case <-t.C:
		return driver.ScriptTimedOut, nil
	}
}

func (a *Analyzer) AbortScript(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.aborted = true
	a.base = ""
	return nil
}
