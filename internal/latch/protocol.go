// Package latch implements the handshake with the autosampler bridge:
// probing the live signal, polling the latched ready signal, clearing the
// latch and sending the advance trigger.
package latch

import (
	"time"

	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// Command bytes understood by the bridge firmware
const (
	CmdProbe   byte = 'R'
	CmdCheck   byte = 'S'
	CmdReset   byte = 'C'
	CmdTrigger byte = 'T'
)

// Exact response lines, without the trailing CRLF
const (
	RespProbe   = "Signal From Autosampler Detected"
	RespCheck   = "Autosampler Signal Latched As True"
	RespReset   = "Autosampler Signal Latch Cleared"
	RespTrigger = "Signal Sent To Autosampler"
)

// Link is the bridge session the protocol talks through
type Link interface {
	Send(cmd byte) error
	ReadLine() ([]byte, error)
	Flush() error
}

// Result is the outcome of one protocol operation
type Result int

const (
	Signaled Result = iota
	Cleared
	Sent
	Aborted
	Disconnected
	TimedOut
)

func (r Result) String() string {
	switch r {
	case Signaled:
		return "signaled"
	case Cleared:
		return "cleared"
	case Sent:
		return "sent"
	case Aborted:
		return "aborted"
	case Disconnected:
		return "disconnected"
	case TimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Options tune the retry disciplines
type Options struct {
	Attempts      int
	RetryInterval time.Duration
	PollInterval  time.Duration
}

// DefaultOptions returns ten attempts one second apart and one second polls
func DefaultOptions() Options {
	return Options{Attempts: 10, RetryInterval: time.Second, PollInterval: time.Second}
}

// Protocol runs latch operations over a Link. It is owned by a single run
// and is not safe for concurrent use.
type Protocol struct {
	link  Link
	clock clock.Clock
	token *cancel.Token
	opts  Options
	log   *logging.Logger

	lastErr error
}

// New creates a Protocol. Zero option fields take their defaults.
func New(link Link, clk clock.Clock, token *cancel.Token, opts Options, log *logging.Logger) *Protocol {
	def := DefaultOptions()
	if opts.Attempts <= 0 {
		opts.Attempts = def.Attempts
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = def.RetryInterval
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	return &Protocol{link: link, clock: clk, token: token, opts: opts, log: log}
}

// LastError returns the link error behind the most recent Disconnected result
func (p *Protocol) LastError() error {
	return p.lastErr
}

// Probe polls the instantaneous sampler signal until it is seen or timeout elapses
func (p *Protocol) Probe(timeout time.Duration) Result {
	return p.poll("probe", CmdProbe, RespProbe, timeout)
}

// CheckLatch polls until the bridge reports the latched ready signal or
// timeout elapses. A TimedOut result is not retryable.
func (p *Protocol) CheckLatch(timeout time.Duration) Result {
	return p.poll("check_latch", CmdCheck, RespCheck, timeout)
}

// ResetLatch clears the latch with bounded retries
func (p *Protocol) ResetLatch() Result {
	return p.retry("reset_latch", CmdReset, RespReset, Cleared)
}

// SendTrigger tells the sampler to advance, with bounded retries
func (p *Protocol) SendTrigger() Result {
	return p.retry("send_trigger", CmdTrigger, RespTrigger, Sent)
}

func (p *Protocol) retry(op string, cmd byte, want string, success Result) Result {
	log := p.log.With("op", op)

	for attempt := 1; attempt <= p.opts.Attempts; attempt++ {
		if attempt > 1 {
			p.clock.Sleep(p.opts.RetryInterval)
		}
		// flush before the cancel check so a dead link is reported as such
		if err := p.link.Flush(); err != nil {
			return p.fail(log, err)
		}
		if p.token.Cancelled() {
			log.Info("cancelled", "attempt", attempt)
			return Aborted
		}
		if err := p.link.Send(cmd); err != nil {
			return p.fail(log, err)
		}
		line, err := p.link.ReadLine()
		if err != nil {
			return p.fail(log, err)
		}
		log.Debug("latch attempt", "attempt", attempt, "response", string(line))
		if string(line) == want {
			return success
		}
	}

	log.Warn("no confirmation from bridge", "attempts", p.opts.Attempts)
	return TimedOut
}

func (p *Protocol) poll(op string, cmd byte, want string, timeout time.Duration) Result {
	log := p.log.With("op", op)
	start := p.clock.Now()

	if err := p.link.Flush(); err != nil {
		return p.fail(log, err)
	}

	for probes := 1; ; probes++ {
		if err := p.link.Send(cmd); err != nil {
			return p.fail(log, err)
		}
		if p.token.Cancelled() {
			log.Info("cancelled", "probes", probes)
			return Aborted
		}
		line, err := p.link.ReadLine()
		if err != nil {
			return p.fail(log, err)
		}
		log.Debug("latch poll", "probe", probes, "response", string(line))
		if string(line) == want {
			return Signaled
		}
		if clock.Since(p.clock, start) >= timeout {
			log.Warn("signal not seen before timeout", "timeout", timeout, "probes", probes)
			return TimedOut
		}
		// an empty line already waited out the read timeout
		if len(line) > 0 {
			p.clock.Sleep(p.opts.PollInterval)
		}
	}
}

func (p *Protocol) fail(log *logging.Logger, err error) Result {
	p.lastErr = err
	log.Error("bridge link lost", "error", err)
	return Disconnected
}
