package batch

import (
	"os"

	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// CreateDirectories makes the output directory of every sample and
// returns the names of samples whose directory could not be created.
// Existing directories are fine.
func CreateDirectories(plan *domain.BatchPlan) []string {
	var failed []string
	for i, s := range plan.Samples {
		if err := os.MkdirAll(plan.SampleDir(i), 0755); err != nil {
			failed = append(failed, s.Name)
		}
	}
	return failed
}
