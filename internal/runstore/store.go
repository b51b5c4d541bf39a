// Package runstore persists batch runs, per-sample status transitions and
// run events in SQLite so finished runs can be reviewed later.
package runstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// ErrNotFound is returned for unknown run IDs
var ErrNotFound = errors.New("run not found")

// Store provides SQLite-backed run persistence
type Store struct {
	db *sql.DB
}

// Run is one stored batch run
type Run struct {
	ID                    string
	StartedAt             time.Time
	FinishedAt            time.Time // zero while running
	Outcome               domain.Outcome
	SampleCount           int
	IndividualDirectories bool
	BridgePort            string
}

// Finished reports whether the run has an outcome
func (r *Run) Finished() bool {
	return r.Outcome != ""
}

// Sample is the stored state of one sample in a run
type Sample struct {
	Index           int
	Name            string
	OutputDirectory string
	AcquireScript   string
	ProcessScript   string
	Acquisition     domain.Status
	Processing      domain.Status
	UpdatedAt       time.Time
}

// Event is a state change or failure recorded during a run
type Event struct {
	Timestamp time.Time
	Kind      string
	Message   string
}

// New creates a new Store with the given database path. The parent
// directory is created if needed.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases shared and serialises writers
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun stores a new run with every sample of the plan and returns it
func (s *Store) CreateRun(plan *domain.BatchPlan, startedAt time.Time) (*Run, error) {
	run := &Run{
		ID:                    uuid.NewString(),
		StartedAt:             startedAt,
		SampleCount:           plan.Len(),
		IndividualDirectories: plan.IndividualDirectories,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO runs (id, started_at, sample_count, individual_directories)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.SampleCount, run.IndividualDirectories); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	for i, smp := range plan.Samples {
		if _, err := tx.Exec(`
			INSERT INTO samples (run_id, idx, name, output_directory, acquire_script, process_script, acquisition_status, processing_status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, i, smp.Name, smp.OutputDirectory, smp.AcquireScript, smp.ProcessScript,
			string(smp.Acquisition), string(smp.Processing), startedAt,
		); err != nil {
			return nil, fmt.Errorf("insert sample %s: %w", smp.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// SetBridgePort records which serial port the run used
func (s *Store) SetBridgePort(runID, port string) error {
	return s.exec1(`UPDATE runs SET bridge_port = ? WHERE id = ?`, port, runID)
}

// UpdateSampleStatus records a status change for one phase of a sample
func (s *Store) UpdateSampleStatus(runID string, index int, phase domain.Phase, status domain.Status) error {
	column := "acquisition_status"
	if phase == domain.PhaseProcessing {
		column = "processing_status"
	}
	return s.exec1(`UPDATE samples SET `+column+` = ?, updated_at = ? WHERE run_id = ? AND idx = ?`,
		string(status), time.Now(), runID, index)
}

// AddEvent appends an event to a run
func (s *Store) AddEvent(runID, kind, message string) error {
	_, err := s.db.Exec(`INSERT INTO events (run_id, timestamp, kind, message) VALUES (?, ?, ?, ?)`,
		runID, time.Now(), kind, message)
	return err
}

// FinishRun stores the run's outcome
func (s *Store) FinishRun(runID string, outcome domain.Outcome, finishedAt time.Time) error {
	return s.exec1(`UPDATE runs SET outcome = ?, finished_at = ? WHERE id = ?`,
		string(outcome), finishedAt, runID)
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, started_at, finished_at, outcome, sample_count, individual_directories, bridge_port
		FROM runs WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT id, started_at, finished_at, outcome, sample_count, individual_directories, bridge_port
		FROM runs ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ListSamples returns a run's samples in batch order
func (s *Store) ListSamples(runID string) ([]Sample, error) {
	rows, err := s.db.Query(`
		SELECT idx, name, output_directory, acquire_script, process_script, acquisition_status, processing_status, updated_at
		FROM samples WHERE run_id = ? ORDER BY idx
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var smp Sample
		var acq, proc string
		if err := rows.Scan(&smp.Index, &smp.Name, &smp.OutputDirectory, &smp.AcquireScript, &smp.ProcessScript, &acq, &proc, &smp.UpdatedAt); err != nil {
			return nil, err
		}
		smp.Acquisition = domain.Status(acq)
		smp.Processing = domain.Status(proc)
		samples = append(samples, smp)
	}
	return samples, rows.Err()
}

// ListEvents returns a run's events oldest first
func (s *Store) ListEvents(runID string) ([]Event, error) {
	rows, err := s.db.Query(`SELECT timestamp, kind, message FROM events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var msg sql.NullString
		if err := rows.Scan(&e.Timestamp, &e.Kind, &msg); err != nil {
			return nil, err
		}
		e.Message = msg.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *Store) exec1(query string, args ...interface{}) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var finished sql.NullTime
	var outcome, port sql.NullString

	if err := row.Scan(&run.ID, &run.StartedAt, &finished, &outcome, &run.SampleCount, &run.IndividualDirectories, &port); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	run.Outcome = domain.Outcome(outcome.String)
	run.BridgePort = port.String
	return &run, nil
}
