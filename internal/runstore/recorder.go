package runstore

import (
	"time"

	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// Recorder writes batch progress for one run to the store. Write errors
// are logged and never interrupt the batch.
type Recorder struct {
	store *Store
	runID string
	log   *logging.Logger
}

// NewRecorder returns a reporter bound to runID
func NewRecorder(store *Store, runID string, log *logging.Logger) *Recorder {
	return &Recorder{store: store, runID: runID, log: log.WithRun(runID)}
}

func (r *Recorder) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	if err := r.store.UpdateSampleStatus(r.runID, index, phase, status); err != nil {
		r.log.Warn("failed to store sample status", "sample_index", index, "error", err)
	}
}

func (r *Recorder) StateChanged(state domain.State, index int) {
	r.event("state", state.At(index))
}

func (r *Recorder) Failure(err error) {
	r.event("failure", err.Error())
}

func (r *Recorder) BatchOutcome(outcome domain.Outcome) {
	if err := r.store.FinishRun(r.runID, outcome, time.Now()); err != nil {
		r.log.Warn("failed to store outcome", "error", err)
	}
	r.event("outcome", outcome.Message())
}

func (r *Recorder) event(kind, msg string) {
	if err := r.store.AddEvent(r.runID, kind, msg); err != nil {
		r.log.Warn("failed to store event", "kind", kind, "error", err)
	}
}
