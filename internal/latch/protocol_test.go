package latch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/logging"
)

// fakeLink answers each command from a script. Every read costs one
// second of fake time, like the real one second read timeout.
type fakeLink struct {
	clock   *clock.FakeClock
	answer  func(cmd byte, n int) string
	err     error
	sends   []byte
	sentAt  []time.Time
	flushes int
	onSend  func(n int)
}

func (l *fakeLink) Send(cmd byte) error {
	if l.err != nil {
		return l.err
	}
	l.sends = append(l.sends, cmd)
	l.sentAt = append(l.sentAt, l.clock.Now())
	if l.onSend != nil {
		l.onSend(len(l.sends))
	}
	return nil
}

func (l *fakeLink) ReadLine() ([]byte, error) {
	if l.err != nil {
		return nil, l.err
	}
	l.clock.Advance(time.Second)
	if l.answer == nil {
		return nil, nil
	}
	return []byte(l.answer(l.sends[len(l.sends)-1], len(l.sends))), nil
}

func (l *fakeLink) Flush() error {
	if l.err != nil {
		return l.err
	}
	l.flushes++
	return nil
}

func newProtocol(link *fakeLink, token *cancel.Token) *Protocol {
	return New(link, link.clock, token, DefaultOptions(), logging.NopLogger())
}

func newFake() *fakeLink {
	return &fakeLink{clock: clock.Fake(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))}
}

func TestResetLatch_ExhaustsTenAttempts(t *testing.T) {
	link := newFake()
	link.answer = func(byte, int) string { return "garbage" }
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.ResetLatch(); got != TimedOut {
		t.Fatalf("ResetLatch = %v, want timed_out", got)
	}
	if len(link.sends) != 10 {
		t.Fatalf("sends = %d, want 10", len(link.sends))
	}
	for i := 1; i < len(link.sentAt); i++ {
		if gap := link.sentAt[i].Sub(link.sentAt[i-1]); gap < time.Second {
			t.Errorf("attempt %d spaced %v after previous, want >= 1s", i+1, gap)
		}
	}
	if link.flushes != 10 {
		t.Errorf("flushes = %d, want one per attempt", link.flushes)
	}
	if sleeps := link.clock.Sleeps(); len(sleeps) != 9 {
		t.Errorf("sleeps = %d, want 9 between attempts", len(sleeps))
	}
}

func TestSendTrigger_SucceedsOnThirdAttempt(t *testing.T) {
	link := newFake()
	link.answer = func(cmd byte, n int) string {
		if cmd == CmdTrigger && n == 3 {
			return RespTrigger
		}
		return ""
	}
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.SendTrigger(); got != Sent {
		t.Fatalf("SendTrigger = %v, want sent", got)
	}
	if len(link.sends) != 3 {
		t.Errorf("sends = %d, want 3", len(link.sends))
	}
}

func TestResetLatch_WrongResponseIsNotSuccess(t *testing.T) {
	link := newFake()
	// the trigger confirmation must not satisfy a reset
	link.answer = func(byte, int) string { return RespTrigger }
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.ResetLatch(); got != TimedOut {
		t.Errorf("ResetLatch = %v, want timed_out", got)
	}
}

func TestCheckLatch_SignaledOnKthProbe(t *testing.T) {
	for _, k := range []int{1, 4, 30} {
		link := newFake()
		link.answer = func(cmd byte, n int) string {
			if n == k {
				return RespCheck
			}
			return ""
		}
		p := newProtocol(link, cancel.NewToken(context.Background()))

		if got := p.CheckLatch(15 * time.Minute); got != Signaled {
			t.Fatalf("k=%d: CheckLatch = %v, want signaled", k, got)
		}
		if len(link.sends) != k {
			t.Errorf("k=%d: probes = %d, want %d", k, len(link.sends), k)
		}
		if link.flushes != 1 {
			t.Errorf("k=%d: flushes = %d, want 1", k, link.flushes)
		}
	}
}

func TestCheckLatch_TimesOut(t *testing.T) {
	link := newFake()
	start := link.clock.Now()
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.CheckLatch(15 * time.Minute); got != TimedOut {
		t.Fatalf("CheckLatch = %v, want timed_out", got)
	}
	if elapsed := link.clock.Elapsed(start); elapsed < 15*time.Minute {
		t.Errorf("elapsed = %v, want at least 15m", elapsed)
	}
	if elapsed := link.clock.Elapsed(start); elapsed > 15*time.Minute+2*time.Second {
		t.Errorf("elapsed = %v, overshot timeout", elapsed)
	}
}

func TestCheckLatch_SleepsOnlyAfterNonEmptyLine(t *testing.T) {
	link := newFake()
	link.answer = func(cmd byte, n int) string {
		switch n {
		case 1:
			return ""
		case 2:
			return "Autosampler Signal Latch Cleared"
		default:
			return RespCheck
		}
	}
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.CheckLatch(time.Minute); got != Signaled {
		t.Fatalf("CheckLatch = %v, want signaled", got)
	}
	if sleeps := link.clock.Sleeps(); len(sleeps) != 1 {
		t.Errorf("sleeps = %v, want exactly one after the stray line", sleeps)
	}
}

func TestProbe(t *testing.T) {
	link := newFake()
	link.answer = func(cmd byte, n int) string {
		if cmd == CmdProbe {
			return RespProbe
		}
		return ""
	}
	p := newProtocol(link, cancel.NewToken(context.Background()))

	if got := p.Probe(time.Minute); got != Signaled {
		t.Errorf("Probe = %v, want signaled", got)
	}
	if link.sends[0] != 'R' {
		t.Errorf("command = %q, want R", link.sends[0])
	}
}

func TestCancelDuringRetry(t *testing.T) {
	link := newFake()
	token := cancel.NewToken(context.Background())
	link.onSend = func(n int) {
		if n == 2 {
			token.Cancel()
		}
	}
	p := newProtocol(link, token)

	if got := p.SendTrigger(); got != Aborted {
		t.Fatalf("SendTrigger = %v, want aborted", got)
	}
	if len(link.sends) != 2 {
		t.Errorf("sends = %d, want 2", len(link.sends))
	}
}

func TestCancelDuringPoll(t *testing.T) {
	link := newFake()
	token := cancel.NewToken(context.Background())
	link.onSend = func(n int) {
		if n == 5 {
			token.Cancel()
		}
	}
	p := newProtocol(link, token)

	if got := p.CheckLatch(15 * time.Minute); got != Aborted {
		t.Errorf("CheckLatch = %v, want aborted", got)
	}
}

func TestDisconnectBeatsCancel(t *testing.T) {
	unplugged := errors.New("port vanished")

	ops := map[string]func(p *Protocol) Result{
		"ResetLatch":  func(p *Protocol) Result { return p.ResetLatch() },
		"SendTrigger": func(p *Protocol) Result { return p.SendTrigger() },
		"CheckLatch":  func(p *Protocol) Result { return p.CheckLatch(time.Minute) },
		"Probe":       func(p *Protocol) Result { return p.Probe(time.Minute) },
	}

	for name, op := range ops {
		for _, cancelled := range []bool{false, true} {
			link := newFake()
			link.err = unplugged
			token := cancel.NewToken(context.Background())
			if cancelled {
				token.Cancel()
			}
			p := newProtocol(link, token)

			if got := op(p); got != Disconnected {
				t.Errorf("%s (cancelled=%v) = %v, want disconnected", name, cancelled, got)
			}
			if !errors.Is(p.LastError(), unplugged) {
				t.Errorf("%s: LastError = %v, want %v", name, p.LastError(), unplugged)
			}
		}
	}
}
