package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

const maxLogLines = 500

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		m.lastRefresh = time.Time(msg)
		if m.Finished() {
			return m, nil
		}
		return m, tickCmd()

	case ProgressMsg:
		if msg.Index >= 0 && msg.Index < len(m.samples) {
			row := m.samples[msg.Index]
			switch msg.Phase {
			case domain.PhaseAcquisition:
				row.Acquisition = msg.Status
			case domain.PhaseProcessing:
				row.Processing = msg.Status
			}
		}

	case StateMsg:
		m.state = msg.State
		m.index = msg.Index
		m.appendLog(msg.State.At(msg.Index))

	case FailureMsg:
		m.failures = append(m.failures, msg.Err)
		m.appendLog("error: " + msg.Err)

	case OutcomeMsg:
		m.outcome = msg.Outcome
		m.appendLog(msg.Outcome.Message())
		if m.prompt != nil {
			m.answer(cancel.Abort)
		}
		if m.quitting {
			return m, tea.Quit
		}

	case PromptMsg:
		p := msg
		m.prompt = &p

	case PromptClosedMsg:
		m.prompt = nil
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.prompt != nil {
		switch msg.String() {
		case "y", "r":
			m.answer(cancel.Retry)
			return m, nil
		case "n":
			m.answer(cancel.Abort)
			return m, nil
		}
	}

	switch msg.String() {
	case "q", "ctrl+c":
		if m.Finished() {
			return m, tea.Quit
		}
		m.quitting = true
		m.requestAbort()
	case "a":
		m.requestAbort()
	case "tab":
		m.activeTab = (m.activeTab + 1) % 2
		m.logScroll = 0
	case "j", "down":
		if m.activeTab == 1 && m.logScroll < len(m.log)-1 {
			m.logScroll++
		}
	case "k", "up":
		if m.activeTab == 1 && m.logScroll > 0 {
			m.logScroll--
		}
	}
	return m, nil
}

// requestAbort cancels the batch. A pending prompt is answered with abort.
func (m *Model) requestAbort() {
	if m.prompt != nil {
		m.answer(cancel.Abort)
	}
	if m.aborting || m.Finished() {
		return
	}
	m.aborting = true
	m.appendLog("abort requested")
	if m.abort != nil {
		m.abort()
	}
}

func (m *Model) answer(d cancel.Decision) {
	select {
	case m.prompt.Reply <- d:
	default:
	}
	m.appendLog(m.prompt.Prompt.Operation + ": " + d.String())
	m.prompt = nil
}

func (m *Model) appendLog(line string) {
	stamp := time.Now().Format("15:04:05")
	m.log = append(m.log, stamp+" "+line)
	if len(m.log) > maxLogLines {
		m.log = m.log[len(m.log)-maxLogLines:]
	}
}
