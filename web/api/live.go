package api

import (
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// Live is the in-memory view of the current run. It is a report.Reporter:
// every report updates the view and is broadcast to connected clients.
type Live struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	samples   []SampleResponse
	state     domain.State
	index     int
	failures  []string
	outcome   domain.Outcome
	running   bool
	abort     func()
	hub       *SSEHub
}

// NewLive returns an idle view
func NewLive() *Live {
	return &Live{index: -1}
}

// Begin resets the view for a new run. abort cancels that run.
func (l *Live) Begin(runID string, plan *domain.BatchPlan, startedAt time.Time, abort func()) {
	samples := make([]SampleResponse, 0, plan.Len())
	for i, s := range plan.Samples {
		samples = append(samples, SampleResponse{
			Index:       i,
			Name:        s.Name,
			Directory:   plan.SampleDir(i),
			Acquisition: s.Acquisition,
			Processing:  s.Processing,
		})
	}

	l.mu.Lock()
	l.runID = runID
	l.startedAt = startedAt
	l.samples = samples
	l.state = domain.StateInit
	l.index = -1
	l.failures = nil
	l.outcome = ""
	l.running = true
	l.abort = abort
	l.mu.Unlock()

	l.broadcast("status", l.Status())
}

// Abort cancels the current run. It returns false when no run is active.
func (l *Live) Abort() bool {
	l.mu.Lock()
	abort := l.abort
	running := l.running
	l.mu.Unlock()
	if !running || abort == nil {
		return false
	}
	abort()
	return true
}

// Status returns a snapshot of the run
func (l *Live) Status() StatusResponse {
	l.mu.Lock()
	defer l.mu.Unlock()

	resp := StatusResponse{
		RunID:    l.runID,
		Running:  l.running,
		State:    string(l.state),
		Step:     l.state.At(l.index),
		Index:    l.index,
		Total:    len(l.samples),
		Outcome:  string(l.outcome),
		Failures: append([]string(nil), l.failures...),
	}
	if !l.startedAt.IsZero() {
		resp.StartedAt = l.startedAt.Format(time.RFC3339)
	}
	if l.outcome != "" {
		resp.Message = l.outcome.Message()
	}
	for _, s := range l.samples {
		if s.Acquisition == domain.StatusComplete {
			resp.Acquired++
		}
		if s.Processing == domain.StatusComplete {
			resp.Processed++
		}
	}
	return resp
}

// Samples returns a snapshot of the sample rows
func (l *Live) Samples() []SampleResponse {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SampleResponse(nil), l.samples...)
}

func (l *Live) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	l.mu.Lock()
	if index < 0 || index >= len(l.samples) {
		l.mu.Unlock()
		return
	}
	switch phase {
	case domain.PhaseAcquisition:
		l.samples[index].Acquisition = status
	case domain.PhaseProcessing:
		l.samples[index].Processing = status
	}
	row := l.samples[index]
	l.mu.Unlock()

	l.broadcast("sample", row)
}

func (l *Live) StateChanged(state domain.State, index int) {
	l.mu.Lock()
	l.state = state
	l.index = index
	l.mu.Unlock()

	l.broadcast("state", map[string]interface{}{"state": state, "index": index, "step": state.At(index)})
}

func (l *Live) Failure(err error) {
	l.mu.Lock()
	l.failures = append(l.failures, err.Error())
	l.mu.Unlock()

	l.broadcast("failure", map[string]string{"error": err.Error()})
}

func (l *Live) BatchOutcome(outcome domain.Outcome) {
	l.mu.Lock()
	l.outcome = outcome
	l.running = false
	l.abort = nil
	l.mu.Unlock()

	l.broadcast("outcome", map[string]string{"outcome": string(outcome), "message": outcome.Message()})
}

func (l *Live) attach(hub *SSEHub) {
	l.mu.Lock()
	l.hub = hub
	l.mu.Unlock()
}

func (l *Live) broadcast(kind string, data interface{}) {
	l.mu.Lock()
	hub := l.hub
	l.mu.Unlock()
	if hub != nil {
		hub.Broadcast(SSEEvent{Type: kind, Data: data})
	}
}
