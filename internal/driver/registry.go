package driver

import (
	"fmt"
	"sort"
	"sync"
)

// AnalyzerFactory builds an Analyzer
type AnalyzerFactory func() (Analyzer, error)

// SamplerFactory builds a Sampler
type SamplerFactory func() (Sampler, error)

var (
	mu        sync.RWMutex
	analyzers = map[string]AnalyzerFactory{}
	samplers  = map[string]SamplerFactory{}
)

// RegisterAnalyzer makes an analyzer driver available by name.
// It panics if the name is already taken.
func RegisterAnalyzer(name string, f AnalyzerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := analyzers[name]; dup {
		panic("driver: analyzer registered twice: " + name)
	}
	analyzers[name] = f
}

// RegisterSampler makes a sampler driver available by name.
// It panics if the name is already taken.
func RegisterSampler(name string, f SamplerFactory) {
	mu.Lock()
	defer mu.Unlock()
	if _, dup := samplers[name]; dup {
		panic("driver: sampler registered twice: " + name)
	}
	samplers[name] = f
}

// NewAnalyzer builds the analyzer driver registered under name
func NewAnalyzer(name string) (Analyzer, error) {
	mu.RLock()
	f, ok := analyzers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown analyzer driver %q (available: %v)", name, AnalyzerNames())
	}
	return f()
}

// NewSampler builds the sampler driver registered under name
func NewSampler(name string) (Sampler, error) {
	mu.RLock()
	f, ok := samplers[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sampler driver %q (available: %v)", name, SamplerNames())
	}
	return f()
}

// AnalyzerNames lists registered analyzer drivers
func AnalyzerNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(analyzers))
	for n := range analyzers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SamplerNames lists registered sampler drivers
func SamplerNames() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(samplers))
	for n := range samplers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
