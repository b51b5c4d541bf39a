package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// Model is the TUI application model
type Model struct {
	// Data
	title    string
	samples  []*SampleRow
	state    domain.State
	index    int
	failures []string
	log      []string
	outcome  domain.Outcome
	prompt   *PromptMsg

	abort    func()
	aborting bool
	quitting bool

	// UI state
	width     int
	height    int
	activeTab int
	logScroll int

	// Refresh
	startedAt   time.Time
	lastRefresh time.Time
}

// SampleRow is the TUI's copy of one sample's progress
type SampleRow struct {
	Name        string
	Acquisition domain.Status
	Processing  domain.Status
}

// ModelConfig holds initial data for the TUI model
type ModelConfig struct {
	Title     string
	Plan      *domain.BatchPlan
	StartedAt time.Time
	// Abort cancels the running batch
	Abort func()
}

// NewModel creates a new TUI model
func NewModel(cfg ModelConfig) Model {
	var rows []*SampleRow
	if cfg.Plan != nil {
		for _, s := range cfg.Plan.Samples {
			rows = append(rows, &SampleRow{
				Name:        s.Name,
				Acquisition: s.Acquisition,
				Processing:  s.Processing,
			})
		}
	}
	title := cfg.Title
	if title == "" {
		title = "NTA Batch"
	}
	return Model{
		title:     title,
		samples:   rows,
		state:     domain.StateInit,
		index:     -1,
		abort:     cfg.Abort,
		startedAt: cfg.StartedAt,
	}
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Finished reports whether the batch outcome has arrived
func (m Model) Finished() bool {
	return m.outcome != ""
}

// TickMsg triggers a refresh
type TickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// ProgressMsg carries a sample status change
type ProgressMsg struct {
	Index  int
	Phase  domain.Phase
	Status domain.Status
}

// StateMsg carries a batch state change
type StateMsg struct {
	State domain.State
	Index int
}

// FailureMsg carries an error reported by the batch
type FailureMsg struct {
	Err string
}

// OutcomeMsg carries the terminal outcome
type OutcomeMsg struct {
	Outcome domain.Outcome
}

// PromptMsg asks the operator to retry or abort. The answer goes to Reply,
// which must be buffered.
type PromptMsg struct {
	Prompt cancel.Prompt
	Reply  chan<- cancel.Decision
}

// PromptClosedMsg withdraws an unanswered prompt
type PromptClosedMsg struct{}
