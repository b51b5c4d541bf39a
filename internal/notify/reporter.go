package notify

import (
	"fmt"
	"sync"

	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// Reporter turns a batch outcome into a single notification carrying the
// outcome, the per-phase progress and the last failure reported.
type Reporter struct {
	notifier Notifier
	runID    string
	total    int
	log      *logging.Logger

	mu          sync.Mutex
	acquired    int
	processed   int
	lastFailure string
}

// NewReporter creates a Reporter for a run of total samples sending through n
func NewReporter(n Notifier, runID string, total int, log *logging.Logger) *Reporter {
	return &Reporter{notifier: n, runID: runID, total: total, log: log}
}

func (r *Reporter) PhaseProgress(_ int, phase domain.Phase, status domain.Status) {
	if status != domain.StatusComplete {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	switch phase {
	case domain.PhaseAcquisition:
		r.acquired++
	case domain.PhaseProcessing:
		r.processed++
	}
}

func (r *Reporter) StateChanged(domain.State, int) {}

func (r *Reporter) Failure(err error) {
	r.mu.Lock()
	r.lastFailure = err.Error()
	r.mu.Unlock()
}

func (r *Reporter) BatchOutcome(outcome domain.Outcome) {
	if err := r.notifier.Send(r.notification(outcome)); err != nil {
		r.log.Warn("notification failed", "outcome", string(outcome), "error", err)
	}
}

func (r *Reporter) notification(outcome domain.Outcome) Notification {
	n := Notification{Title: "NTA batch", Message: outcome.Message(), RunID: r.runID}

	switch outcome {
	case domain.OutcomeCompleted:
		n.Type = NotifySuccess
	case domain.OutcomeUserAborted:
		n.Type = NotifyWarning
	case domain.OutcomeDeviceDisconnected:
		n.Type = NotifyError
		n.Title = "NTA batch: bridge disconnected"
	default:
		n.Type = NotifyError
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n.Fields = []Field{
		{Name: "Outcome", Value: string(outcome)},
		{Name: "Samples", Value: fmt.Sprint(r.total)},
		{Name: "Acquired", Value: fmt.Sprintf("%d/%d", r.acquired, r.total)},
		{Name: "Processed", Value: fmt.Sprintf("%d/%d", r.processed, r.total)},
	}
	if outcome != domain.OutcomeCompleted && r.lastFailure != "" {
		n.Fields = append(n.Fields, Field{Name: "Last failure", Value: r.lastFailure, Long: true})
	}
	return n
}
