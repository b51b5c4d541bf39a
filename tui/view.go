package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	promptStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("214")).
		Padding(0, 1)

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	statusBarStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255"))

	tabActiveStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		Underline(true)

	tabInactiveStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))

	completedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	inProgressStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	dimmedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240"))
)

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	acq := m.countComplete(domain.PhaseAcquisition)
	proc := m.countComplete(domain.PhaseProcessing)
	header := fmt.Sprintf(" %s │ %s │ Acquired: %d/%d │ Processed: %d/%d │ Elapsed: %s ",
		m.title, m.state.At(m.index), acq, len(m.samples), proc, len(m.samples), formatDuration(m.elapsed()))
	b.WriteString(headerStyle.Width(m.width).Render(header))
	b.WriteString("\n")

	b.WriteString(m.renderTabs())
	b.WriteString("\n")

	if m.prompt != nil {
		b.WriteString(promptStyle.Width(m.width - 2).Render(m.renderPrompt()))
		b.WriteString("\n")
	}

	switch m.activeTab {
	case 0:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderSamples()))
		b.WriteString("\n")
		if len(m.failures) > 0 || m.Finished() {
			b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderResult()))
			b.WriteString("\n")
		}
	case 1:
		b.WriteString(sectionStyle.Width(m.width - 2).Render(m.renderLog()))
		b.WriteString("\n")
	}

	var statusBar string
	switch {
	case m.prompt != nil:
		statusBar = " [y]retry [n]abort "
	case m.Finished():
		statusBar = " [tab]switch [q]uit "
	case m.aborting:
		statusBar = " aborting... [tab]switch "
	default:
		statusBar = " [tab]switch [j/k]scroll [a]bort [q]uit "
	}
	b.WriteString(statusBarStyle.Width(m.width).Render(statusBar))

	return b.String()
}

func (m Model) renderTabs() string {
	tabs := []string{"Samples", "Log"}
	var parts []string

	for i, tab := range tabs {
		if i == m.activeTab {
			parts = append(parts, tabActiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		} else {
			parts = append(parts, tabInactiveStyle.Render(fmt.Sprintf(" %s ", tab)))
		}
	}

	return strings.Join(parts, "│")
}

func (m Model) renderSamples() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("SAMPLES"))
	b.WriteString("\n")

	if len(m.samples) == 0 {
		b.WriteString(dimmedStyle.Render("  No samples"))
		return b.String()
	}

	b.WriteString(dimmedStyle.Render(fmt.Sprintf("  %-3s %-30s %-14s %-14s", "#", "Sample", "Acquisition", "Processing")))
	b.WriteString("\n")
	for i, row := range m.samples {
		marker := " "
		if i == m.index {
			marker = "▶"
		}
		fmt.Fprintf(&b, "%s %-3d %-30s %s %s\n", marker, i+1, truncate(row.Name, 30),
			statusCell(row.Acquisition), statusCell(row.Processing))
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func statusCell(s domain.Status) string {
	text := fmt.Sprintf("%-14s", s.Label())
	switch s {
	case domain.StatusComplete:
		return completedStyle.Render(text)
	case domain.StatusInProgress:
		return inProgressStyle.Render(text)
	case domain.StatusCancelled:
		return errorStyle.Render(text)
	default:
		return dimmedStyle.Render(text)
	}
}

func (m Model) renderPrompt() string {
	p := m.prompt.Prompt
	var b strings.Builder
	b.WriteString(warningStyle.Render(fmt.Sprintf("%s failed (cycle %d)", p.Operation, p.Attempt)))
	b.WriteString("\n")
	b.WriteString(p.Message)
	b.WriteString("\n")
	b.WriteString("Retry? [y/n]")
	return b.String()
}

func (m Model) renderResult() string {
	var b strings.Builder
	if m.Finished() {
		style := completedStyle
		if m.outcome != domain.OutcomeCompleted {
			style = errorStyle
		}
		b.WriteString(style.Render(m.outcome.Message()))
		b.WriteString("\n")
	}
	for _, f := range m.failures {
		b.WriteString(errorStyle.Render("  ✗ " + f))
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) renderLog() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("LOG"))
	b.WriteString("\n")

	if len(m.log) == 0 {
		b.WriteString(dimmedStyle.Render("  Nothing yet"))
		return b.String()
	}

	maxVisible := m.height - 8
	if maxVisible < 5 {
		maxVisible = 5
	}
	end := min(m.logScroll+maxVisible, len(m.log))
	for _, line := range m.log[m.logScroll:end] {
		b.WriteString("  ")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (m Model) countComplete(phase domain.Phase) int {
	n := 0
	for _, row := range m.samples {
		s := row.Acquisition
		if phase == domain.PhaseProcessing {
			s = row.Processing
		}
		if s == domain.StatusComplete {
			n++
		}
	}
	return n
}

func (m Model) elapsed() time.Duration {
	if m.startedAt.IsZero() || m.lastRefresh.Before(m.startedAt) {
		return 0
	}
	return m.lastRefresh.Sub(m.startedAt)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
