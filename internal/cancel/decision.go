package cancel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Decision is the answer to an exhausted bounded retry
type Decision int

const (
	Abort Decision = iota
	Retry
)

func (d Decision) String() string {
	if d == Retry {
		return "retry"
	}
	return "abort"
}

// Prompt describes the exhausted retry cycle the operator is asked about
type Prompt struct {
	Operation string // e.g. "ResetLatch"
	Message   string
	Attempt   int // number of exhausted cycles so far, starting at 1
}

// RecoveryDecider chooses between retrying a full retry cycle and aborting.
// Implementations must return Abort when ctx is done.
type RecoveryDecider interface {
	AskRetryOrAbort(ctx context.Context, p Prompt) Decision
}

// DeciderFunc adapts a function to RecoveryDecider
type DeciderFunc func(ctx context.Context, p Prompt) Decision

func (f DeciderFunc) AskRetryOrAbort(ctx context.Context, p Prompt) Decision {
	return f(ctx, p)
}

// AutoRetry retries up to Max exhausted cycles, then aborts. Max of zero
// aborts immediately.
type AutoRetry struct {
	Max int

	mu    sync.Mutex
	asked int
}

func (a *AutoRetry) AskRetryOrAbort(ctx context.Context, p Prompt) Decision {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked++
	if ctx.Err() != nil || a.asked > a.Max {
		return Abort
	}
	return Retry
}

// Asked returns how many times the decider was consulted
func (a *AutoRetry) Asked() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.asked
}

// ConsoleDecider asks on a terminal. Anything but an explicit "r"/"retry"
// answer aborts. One goroutine reads In for the decider's lifetime, so
// successive prompts see successive lines.
type ConsoleDecider struct {
	In  io.Reader
	Out io.Writer

	once  sync.Once
	lines chan string
}

func (c *ConsoleDecider) readLines() {
	c.once.Do(func() {
		c.lines = make(chan string)
		go func() {
			defer close(c.lines)
			scanner := bufio.NewScanner(c.In)
			for scanner.Scan() {
				c.lines <- strings.ToLower(strings.TrimSpace(scanner.Text()))
			}
		}()
	})
}

func (c *ConsoleDecider) AskRetryOrAbort(ctx context.Context, p Prompt) Decision {
	c.readLines()
	fmt.Fprintf(c.Out, "\n%s failed (cycle %d): %s\nRetry or abort? [r/a]: ", p.Operation, p.Attempt, p.Message)

	select {
	case <-ctx.Done():
		return Abort
	case answer, ok := <-c.lines:
		if ok && (answer == "r" || answer == "retry") {
			return Retry
		}
		return Abort
	}
}
