// Package samplelist loads and validates the operator's sample table from
// CSV or YAML.
package samplelist

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// Column headers of the CSV sample table
const (
	ColName          = "Sample Name"
	ColSaveDirectory = "Save Directory"
	ColAcquireScript = "Acquire Script"
	ColProcessScript = "Process Script"
)

var requiredColumns = []string{ColName, ColSaveDirectory, ColAcquireScript, ColProcessScript}

// List is a loaded sample table
type List struct {
	Samples               []*domain.SampleTask
	IndividualDirectories bool
}

// Plan builds a batch plan. individual forces one sub-directory per sample
// even if the list itself does not ask for it.
func (l *List) Plan(individual bool) *domain.BatchPlan {
	return domain.NewBatchPlan(l.Samples, individual || l.IndividualDirectories)
}

// ValidationError lists every problem found in a sample table
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, strings.Join(e.Problems, "; "))
}

// Load reads a sample table, choosing the format by extension, and
// validates it
func Load(path string) (*List, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sample list: %w", err)
	}
	defer f.Close()

	var list *List
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		list, err = ParseCSV(f)
	case ".yaml", ".yml":
		list, err = ParseYAML(f)
	default:
		return nil, fmt.Errorf("unsupported sample list type %q (want .csv, .yaml or .yml)", filepath.Ext(path))
	}
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return nil, err
	}

	if err := Validate(list); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Path = path
		}
		return nil, err
	}
	return list, nil
}

// ParseCSV reads a table whose header names the required columns in any
// order. Extra columns are ignored and blank rows skipped.
func ParseCSV(r io.Reader) (*List, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &ValidationError{Problems: []string{"sample list is empty"}}
	}
	if err != nil {
		return nil, fmt.Errorf("read sample list header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Problems: []string{"missing columns: " + strings.Join(missing, ", ")}}
	}

	cell := func(record []string, col string) string {
		i := index[col]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	list := &List{}
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read sample list: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		list.Samples = append(list.Samples, &domain.SampleTask{
			Name:            cell(record, ColName),
			OutputDirectory: cell(record, ColSaveDirectory),
			AcquireScript:   cell(record, ColAcquireScript),
			ProcessScript:   cell(record, ColProcessScript),
		})
	}
	return list, nil
}

type yamlList struct {
	IndividualDirectories bool         `yaml:"individual_directories"`
	Samples               []yamlSample `yaml:"samples"`
}

type yamlSample struct {
	Name          string `yaml:"name"`
	SaveDirectory string `yaml:"save_directory"`
	AcquireScript string `yaml:"acquire_script"`
	ProcessScript string `yaml:"process_script"`
}

// ParseYAML reads a sample list document
func ParseYAML(r io.Reader) (*List, error) {
	var doc yamlList
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, &ValidationError{Problems: []string{"sample list is empty"}}
		}
		return nil, fmt.Errorf("parse sample list: %w", err)
	}

	list := &List{IndividualDirectories: doc.IndividualDirectories}
	for _, s := range doc.Samples {
		list.Samples = append(list.Samples, &domain.SampleTask{
			Name:            strings.TrimSpace(s.Name),
			OutputDirectory: strings.TrimSpace(s.SaveDirectory),
			AcquireScript:   strings.TrimSpace(s.AcquireScript),
			ProcessScript:   strings.TrimSpace(s.ProcessScript),
		})
	}
	return list, nil
}

// Validate checks for blank cells, duplicate names and script files that
// do not exist. Every problem is reported, not just the first.
func Validate(l *List) error {
	var problems []string

	if len(l.Samples) == 0 {
		problems = append(problems, "sample list has no samples")
	}

	seen := make(map[string]int)
	var badAcquire, badProcess []string
	for i, s := range l.Samples {
		row := i + 1
		var blank []string
		for c, v := range []string{s.Name, s.OutputDirectory, s.AcquireScript, s.ProcessScript} {
			if v == "" {
				blank = append(blank, requiredColumns[c])
			}
		}
		if len(blank) > 0 {
			problems = append(problems, fmt.Sprintf("row %d is missing %s", row, strings.Join(blank, ", ")))
		}

		if s.Name != "" {
			if first, dup := seen[s.Name]; dup {
				problems = append(problems, fmt.Sprintf("sample name %q on row %d repeats row %d", s.Name, row, first))
			} else {
				seen[s.Name] = row
			}
		}

		if s.AcquireScript != "" && !fileExists(s.AcquireScript) {
			badAcquire = append(badAcquire, s.Name)
		}
		if s.ProcessScript != "" && !fileExists(s.ProcessScript) {
			badProcess = append(badProcess, s.Name)
		}
	}

	if len(badAcquire) > 0 {
		problems = append(problems, "acquire script not found for: "+strings.Join(badAcquire, ", "))
	}
	if len(badProcess) > 0 {
		problems = append(problems, "process script not found for: "+strings.Join(badProcess, ", "))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
