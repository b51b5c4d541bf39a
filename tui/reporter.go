package tui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// Reporter forwards batch reports to a running program
type Reporter struct {
	Send func(tea.Msg)
}

// NewReporter returns a reporter bound to p
func NewReporter(p *tea.Program) Reporter {
	return Reporter{Send: p.Send}
}

func (r Reporter) PhaseProgress(index int, phase domain.Phase, status domain.Status) {
	r.Send(ProgressMsg{Index: index, Phase: phase, Status: status})
}

func (r Reporter) StateChanged(state domain.State, index int) {
	r.Send(StateMsg{State: state, Index: index})
}

func (r Reporter) Failure(err error) {
	r.Send(FailureMsg{Err: err.Error()})
}

func (r Reporter) BatchOutcome(outcome domain.Outcome) {
	r.Send(OutcomeMsg{Outcome: outcome})
}

// Decider shows recovery prompts in the TUI and waits for the operator
type Decider struct {
	Send func(tea.Msg)
}

// NewDecider returns a decider bound to p
func NewDecider(p *tea.Program) Decider {
	return Decider{Send: p.Send}
}

func (d Decider) AskRetryOrAbort(ctx context.Context, p cancel.Prompt) cancel.Decision {
	reply := make(chan cancel.Decision, 1)
	d.Send(PromptMsg{Prompt: p, Reply: reply})
	select {
	case <-ctx.Done():
		d.Send(PromptClosedMsg{})
		return cancel.Abort
	case dec := <-reply:
		return dec
	}
}
