package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextStart returns the first time after from matching expr
func NextStart(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start schedule %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// WaitUntil blocks until at or ctx is done
func WaitUntil(ctx context.Context, c clock.Clock, at time.Time) error {
	d := at.Sub(c.Now())
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Handle tracks a batch started by a Runner
type Handle struct {
	token   *cancel.Token
	done    chan struct{}
	outcome domain.Outcome
	started time.Time
}

// Abort requests cooperative cancellation
func (h *Handle) Abort() {
	h.token.Cancel()
}

// Wait blocks until the batch ends and returns its outcome
func (h *Handle) Wait() domain.Outcome {
	<-h.done
	return h.outcome
}

// Done is closed when the batch ends
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Started returns when the batch was started
func (h *Handle) Started() time.Time {
	return h.started
}

// Runner allows at most one active batch
type Runner struct {
	mu     sync.Mutex
	active *Handle
}

// Start runs o in the background. It fails with ErrAlreadyRunning while
// an earlier batch has not finished.
func (r *Runner) Start(o *Orchestrator, token *cancel.Token) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		select {
		case <-r.active.done:
		default:
			return nil, ErrAlreadyRunning
		}
	}

	h := &Handle{token: token, done: make(chan struct{}), started: time.Now()}
	r.active = h
	go func() {
		h.outcome = o.Run(token)
		close(h.done)
	}()
	return h, nil
}

// Active returns the current or most recent batch, or nil
func (r *Runner) Active() *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Running reports whether a batch is in progress
func (r *Runner) Running() bool {
	h := r.Active()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}
