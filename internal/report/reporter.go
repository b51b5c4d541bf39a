// Package report carries batch progress from the orchestrator to whatever
// surfaces are attached: the log, the terminal UI, the web API, the run
// store and notifications.
package report

import (
	"sync"

	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// Reporter receives progress from a running batch. Calls arrive from the
// batch goroutine and must not block for long.
type Reporter interface {
	PhaseProgress(index int, phase domain.Phase, status domain.Status)
	StateChanged(state domain.State, index int)
	Failure(err error)
	BatchOutcome(outcome domain.Outcome)
}

// Nop discards every report
type Nop struct{}

func (Nop) PhaseProgress(int, domain.Phase, domain.Status) {}
func (Nop) StateChanged(domain.State, int)                 {}
func (Nop) Failure(error)                                  {}
func (Nop) BatchOutcome(domain.Outcome)                    {}

// Multi fans reports out to several reporters in order
type Multi []Reporter

func (m Multi) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	for _, r := range m {
		r.PhaseProgress(index, phase, status)
	}
}

func (m Multi) StateChanged(state domain.State, index int) {
	for _, r := range m {
		r.StateChanged(state, index)
	}
}

func (m Multi) Failure(err error) {
	for _, r := range m {
		r.Failure(err)
	}
}

func (m Multi) BatchOutcome(outcome domain.Outcome) {
	for _, r := range m {
		r.BatchOutcome(outcome)
	}
}

// Logging writes every report to a structured log
type Logging struct {
	Log  *logging.Logger
	Plan *domain.BatchPlan
}

func (l Logging) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	name := ""
	if l.Plan != nil && index < l.Plan.Len() {
		name = l.Plan.Samples[index].Name
	}
	l.Log.WithSample(index, name).WithPhase(string(phase)).Info("sample status", "status", string(status))
}

func (l Logging) StateChanged(state domain.State, index int) {
	l.Log.Info("state changed", "state", string(state), "sample_index", index)
}

func (l Logging) Failure(err error) {
	l.Log.Error("batch failure", "error", err)
}

func (l Logging) BatchOutcome(outcome domain.Outcome) {
	l.Log.Info("batch finished", "outcome", string(outcome), "message", outcome.Message())
}

// Event is one report in serialisable form
type Event struct {
	Kind    string         `json:"kind"`
	Index   int            `json:"index"`
	Phase   domain.Phase   `json:"phase,omitempty"`
	Status  domain.Status  `json:"status,omitempty"`
	State   domain.State   `json:"state,omitempty"`
	Outcome domain.Outcome `json:"outcome,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Event kinds
const (
	KindProgress = "progress"
	KindState    = "state"
	KindFailure  = "failure"
	KindOutcome  = "outcome"
)

// Func turns reports into Events and passes them to a single callback
type Func func(Event)

func (f Func) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	f(Event{Kind: KindProgress, Index: index, Phase: phase, Status: status})
}

func (f Func) StateChanged(state domain.State, index int) {
	f(Event{Kind: KindState, Index: index, State: state})
}

func (f Func) Failure(err error) {
	f(Event{Kind: KindFailure, Index: -1, Message: err.Error()})
}

func (f Func) BatchOutcome(outcome domain.Outcome) {
	f(Event{Kind: KindOutcome, Index: -1, Outcome: outcome, Message: outcome.Message()})
}

// Recorder keeps every event in memory. Used in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Reporter() Reporter {
	return Func(func(e Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	})
}

// Events returns a copy of the recorded events
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Outcomes returns only the outcome events
func (r *Recorder) Outcomes() []domain.Outcome {
	var out []domain.Outcome
	for _, e := range r.Events() {
		if e.Kind == KindOutcome {
			out = append(out, e.Outcome)
		}
	}
	return out
}
