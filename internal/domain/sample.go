package domain

import "path/filepath"

// SampleTask is one row of the batch: where its data goes and which
// analyzer scripts acquire and process it
type SampleTask struct {
	Name            string
	OutputDirectory string
	AcquireScript   string
	ProcessScript   string

	Acquisition Status
	Processing  Status
}

// StatusOf returns the sample's status for the given phase
func (s *SampleTask) StatusOf(phase Phase) Status {
	if phase == PhaseProcessing {
		return s.Processing
	}
	return s.Acquisition
}

// SetStatus updates the sample's status for the given phase
func (s *SampleTask) SetStatus(phase Phase, status Status) {
	if phase == PhaseProcessing {
		s.Processing = status
		return
	}
	s.Acquisition = status
}

// BatchPlan is the ordered list of samples for one run
type BatchPlan struct {
	Samples               []*SampleTask
	IndividualDirectories bool
}

// NewBatchPlan builds a plan with every status reset to not started
func NewBatchPlan(samples []*SampleTask, individualDirectories bool) *BatchPlan {
	for _, s := range samples {
		s.Acquisition = StatusNotStarted
		s.Processing = StatusNotStarted
	}
	return &BatchPlan{Samples: samples, IndividualDirectories: individualDirectories}
}

// Len returns the number of samples in the plan
func (p *BatchPlan) Len() int {
	return len(p.Samples)
}

// SampleDir returns the directory holding the sample's data files.
// With individual directories this is <output>/<name>, otherwise <output>.
func (p *BatchPlan) SampleDir(i int) string {
	s := p.Samples[i]
	if p.IndividualDirectories {
		return filepath.Join(s.OutputDirectory, s.Name)
	}
	return s.OutputDirectory
}

// OutputBase returns the base filename handed to the analyzer for the
// sample's acquisition (no extension).
func (p *BatchPlan) OutputBase(i int) string {
	return filepath.Join(p.SampleDir(i), p.Samples[i].Name)
}

// Counts tallies statuses for a phase
func (p *BatchPlan) Counts(phase Phase) map[Status]int {
	counts := make(map[Status]int)
	for _, s := range p.Samples {
		counts[s.StatusOf(phase)]++
	}
	return counts
}
