// Package batch runs the acquisition-then-processing state machine that
// keeps the analyzer and the autosampler in step through the bridge latch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/cancel"
	"github.com/hochfrequenz/nta-batch/internal/clock"
	"github.com/hochfrequenz/nta-batch/internal/domain"
	"github.com/hochfrequenz/nta-batch/internal/driver"
	"github.com/hochfrequenz/nta-batch/internal/latch"
	"github.com/hochfrequenz/nta-batch/internal/logging"
	"github.com/hochfrequenz/nta-batch/internal/report"
	"github.com/hochfrequenz/nta-batch/internal/resultfile"
)

// Bridge is an open bridge session
type Bridge interface {
	latch.Link
	Close() error
}

// Options configure an Orchestrator
type Options struct {
	Plan       *domain.BatchPlan
	OpenBridge func() (Bridge, error)
	Analyzer   driver.Analyzer
	Sampler    driver.Sampler
	Recovery   cancel.RecoveryDecider
	Reporter   report.Reporter
	Clock      clock.Clock
	Timing     Timing
	Logger     *logging.Logger
}

// Orchestrator runs one batch. Create a new one per run.
type Orchestrator struct {
	opts Options

	once    sync.Once
	outcome domain.Outcome
}

// New validates options and fills defaults. Without a Recovery decider an
// exhausted retry aborts the run.
func New(opts Options) (*Orchestrator, error) {
	if opts.Plan == nil || opts.Plan.Len() == 0 {
		return nil, errors.New("batch plan has no samples")
	}
	if opts.OpenBridge == nil {
		return nil, errors.New("bridge opener is required")
	}
	if opts.Analyzer == nil || opts.Sampler == nil {
		return nil, errors.New("analyzer and sampler drivers are required")
	}
	if err := opts.Timing.Validate(); err != nil {
		return nil, err
	}
	if opts.Recovery == nil {
		opts.Recovery = &cancel.AutoRetry{}
	}
	if opts.Reporter == nil {
		opts.Reporter = report.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	return &Orchestrator{opts: opts}, nil
}

// Plan returns the plan whose statuses the run updates
func (o *Orchestrator) Plan() *domain.BatchPlan {
	return o.opts.Plan
}

// Run executes the batch to a terminal outcome and reports it exactly once.
// Calling Run again returns the first outcome without running.
func (o *Orchestrator) Run(token *cancel.Token) domain.Outcome {
	o.once.Do(func() {
		r := &run{
			Options: o.opts,
			token:   token,
			ctx:     token.Context(),
			log:     o.opts.Logger,
		}
		o.outcome = r.finish(r.execute())
		o.opts.Reporter.BatchOutcome(o.outcome)
	})
	return o.outcome
}

// run holds the mutable state of a single execution
type run struct {
	Options
	token *cancel.Token
	ctx   context.Context
	log   *logging.Logger

	bridge     Bridge
	latch      *latch.Protocol
	connected  bool
	// directory failures have already cancelled exactly the affected samples
	dirsFailed bool
}

func (r *run) execute() error {
	r.state(domain.StateInit, -1)
	if err := r.createDirectories(); err != nil {
		return err
	}

	r.state(domain.StateConnectDevices, -1)
	if err := r.connect(); err != nil {
		return err
	}
	if err := r.checkCancel(); err != nil {
		return err
	}

	r.state(domain.StateResetLatchPreflight, -1)
	if err := r.bounded(-1, "", "reset latch", r.latch.ResetLatch, latch.Cleared); err != nil {
		return err
	}

	r.state(domain.StateVerifySamplerReady, -1)
	if !r.Sampler.HasCommunicationEstablished(r.ctx) {
		return &Failure{Kind: ErrDriver, Index: -1, Op: "sampler has no communication with the autosampler"}
	}

	r.state(domain.StateVerifyScriptLoaded, -1)
	if !r.Sampler.HasActiveScript(r.ctx) {
		return &Failure{Kind: ErrDriver, Index: -1, Op: "sampler has no script loaded"}
	}

	for i := range r.Plan.Samples {
		if err := r.acquire(i); err != nil {
			return err
		}
	}

	r.state(domain.StateAcquireSettle, -1)
	if err := r.settle(r.Timing.AcquireSettle); err != nil {
		return err
	}

	for i := range r.Plan.Samples {
		if err := r.process(i); err != nil {
			return err
		}
	}

	return r.finalTrigger()
}

func (r *run) createDirectories() error {
	failed := CreateDirectories(r.Plan)
	if len(failed) == 0 {
		return nil
	}
	r.dirsFailed = true
	bad := make(map[string]bool, len(failed))
	for _, name := range failed {
		bad[name] = true
	}
	for i, s := range r.Plan.Samples {
		if bad[s.Name] {
			r.setStatus(i, domain.PhaseAcquisition, domain.StatusCancelled)
			r.setStatus(i, domain.PhaseProcessing, domain.StatusCancelled)
		}
	}
	return &Failure{Kind: ErrSetup, Index: -1, Op: "create output directories for " + strings.Join(failed, ", ")}
}

func (r *run) connect() error {
	b, err := r.OpenBridge()
	if err != nil {
		return &Failure{Kind: ErrSetup, Index: -1, Op: "connect bridge", Err: err}
	}
	r.bridge = b

	if !r.Analyzer.Exists(r.ctx) {
		return &Failure{Kind: ErrSetup, Index: -1, Op: "analyzer software is not running"}
	}
	if !r.Sampler.Exists(r.ctx) {
		return &Failure{Kind: ErrSetup, Index: -1, Op: "sampler software is not running"}
	}

	r.latch = latch.New(b, r.Clock, r.token, latch.Options{
		Attempts:      r.Timing.RetryAttempts,
		RetryInterval: r.Timing.RetryInterval,
		PollInterval:  r.Timing.PollInterval,
	}, r.log)
	r.connected = true
	return nil
}

// acquire runs the acquisition steps for sample i
func (r *run) acquire(i int) error {
	s := r.Plan.Samples[i]
	phase := domain.PhaseAcquisition
	log := r.log.WithSample(i, s.Name).WithPhase(string(phase))

	if err := r.checkCancel(); err != nil {
		return err
	}
	r.state(domain.StateAcquire, i)
	r.setStatus(i, phase, domain.StatusInProgress)

	if err := r.Analyzer.SetOutputFilename(r.ctx, r.Plan.OutputBase(i)); err != nil {
		return r.driverFailure(i, phase, "set output filename", err)
	}
	if err := r.Analyzer.LoadScript(r.ctx, s.AcquireScript); err != nil {
		return r.driverFailure(i, phase, "load acquire script", err)
	}

	// drop anything the bridge sent during the previous sample
	if err := r.bridge.Flush(); err != nil {
		return r.disconnected(err)
	}
	if err := r.checkCancel(); err != nil {
		return err
	}

	if i == 0 {
		if err := r.startSampler(log); err != nil {
			return err
		}
	} else {
		if err := r.advanceSampler(i); err != nil {
			return err
		}
	}

	if err := r.checkLatch(i, phase); err != nil {
		return err
	}
	if err := r.Analyzer.RunScript(r.ctx); err != nil {
		return r.driverFailure(i, phase, "run acquire script", err)
	}
	if err := r.settle(r.Timing.LatchRelease); err != nil {
		return err
	}
	if err := r.bounded(i, phase, "reset latch", r.latch.ResetLatch, latch.Cleared); err != nil {
		return err
	}
	if err := r.waitScriptEnd(i, phase); err != nil {
		return err
	}

	r.setStatus(i, phase, domain.StatusComplete)
	log.Info("acquisition complete")
	return nil
}

// startSampler starts the sampler's own script for the first sample
func (r *run) startSampler(log *logging.Logger) error {
	phase := domain.PhaseAcquisition
	if err := r.Sampler.CloseAllChildWindows(r.ctx); err != nil {
		log.Warn("could not close sampler child windows", "error", err)
	}
	res, err := r.Sampler.RunScript(r.ctx)
	if err != nil {
		return r.driverFailure(0, phase, "start sampler script", err)
	}
	if res != driver.SamplerRunning {
		return r.driverFailure(0, phase, "start sampler script", errors.New(res.String()))
	}
	if r.Sampler.HasReportedError(r.ctx) {
		return r.driverFailure(0, phase, "sampler reported an error", nil)
	}
	return nil
}

// advanceSampler waits for the sampler to finish the previous position
// and triggers it on to sample i
func (r *run) advanceSampler(i int) error {
	phase := domain.PhaseAcquisition
	if r.Sampler.HasReportedError(r.ctx) {
		return r.driverFailure(i, phase, "sampler reported an error", nil)
	}
	if err := r.checkLatch(i, phase); err != nil {
		return err
	}
	if err := r.settle(r.Timing.TriggerSettle); err != nil {
		return err
	}
	if err := r.bounded(i, phase, "reset latch", r.latch.ResetLatch, latch.Cleared); err != nil {
		return err
	}
	return r.bounded(i, phase, "send trigger", r.latch.SendTrigger, latch.Sent)
}

// process runs the processing steps for sample i. The bridge and sampler
// are not touched.
func (r *run) process(i int) error {
	s := r.Plan.Samples[i]
	phase := domain.PhaseProcessing
	log := r.log.WithSample(i, s.Name).WithPhase(string(phase))

	if err := r.checkCancel(); err != nil {
		return err
	}
	r.state(domain.StateProcess, i)
	r.setStatus(i, phase, domain.StatusInProgress)

	if err := r.settle(r.Timing.ProcessSettle); err != nil {
		return err
	}
	if err := r.Analyzer.LoadScript(r.ctx, s.ProcessScript); err != nil {
		return r.driverFailure(i, phase, "load process script", err)
	}
	if err := r.checkCancel(); err != nil {
		return err
	}

	path, err := resultfile.ResolveDir(r.Plan.SampleDir(i), s.Name, r.Timing.ResultExtension)
	if err != nil {
		return r.driverFailure(i, phase, "find result file", err)
	}
	log.Debug("opening result file", "path", path)
	if err := r.Analyzer.OpenExperiment(r.ctx, path, r.Timing.OpenTimeout); err != nil {
		return r.driverFailure(i, phase, "open experiment", err)
	}
	if err := r.checkCancel(); err != nil {
		return err
	}

	if err := r.Analyzer.RunScript(r.ctx); err != nil {
		return r.driverFailure(i, phase, "run process script", err)
	}
	if err := r.waitScriptEnd(i, phase); err != nil {
		return err
	}
	if err := r.Analyzer.ExportResults(r.ctx, r.Timing.ExportTimeout); err != nil {
		return r.driverFailure(i, phase, "export results", err)
	}

	r.setStatus(i, phase, domain.StatusComplete)
	log.Info("processing complete")
	return nil
}

// finalTrigger lets the sampler's script run to its end
func (r *run) finalTrigger() error {
	if err := r.checkCancel(); err != nil {
		return err
	}
	r.state(domain.StateFinalTrigger, -1)
	if err := r.checkLatch(-1, ""); err != nil {
		return err
	}
	if err := r.settle(r.Timing.TriggerSettle); err != nil {
		return err
	}
	return r.bounded(-1, "", "send trigger", r.latch.SendTrigger, latch.Sent)
}

func (r *run) checkLatch(i int, phase domain.Phase) error {
	switch res := r.latch.CheckLatch(r.Timing.LatchPollTimeout); res {
	case latch.Signaled:
		return nil
	case latch.Aborted:
		return fmt.Errorf("%w during latch check", ErrUserAbort)
	case latch.Disconnected:
		return r.disconnected(r.latch.LastError())
	default:
		return r.failure(ErrProtocolTimeout, i, phase,
			fmt.Sprintf("no ready signal within %v", r.Timing.LatchPollTimeout), nil)
	}
}

// bounded runs a bounded-retry latch operation, asking the recovery
// decider whether to repeat each exhausted cycle
func (r *run) bounded(i int, phase domain.Phase, op string, do func() latch.Result, want latch.Result) error {
	for cycle := 1; ; cycle++ {
		switch res := do(); res {
		case want:
			return nil
		case latch.Aborted:
			return fmt.Errorf("%w during %s", ErrUserAbort, op)
		case latch.Disconnected:
			return r.disconnected(r.latch.LastError())
		case latch.TimedOut:
			prompt := cancel.Prompt{
				Operation: op,
				Message:   fmt.Sprintf("the bridge did not confirm %s after %d attempts", op, r.Timing.RetryAttempts),
				Attempt:   cycle,
			}
			decision := r.Recovery.AskRetryOrAbort(r.ctx, prompt)
			r.log.Warn("retry cycle exhausted", "op", op, "cycle", cycle, "decision", decision.String())
			if decision != cancel.Retry {
				return r.failure(ErrBridgeTimeout, i, phase, op, nil)
			}
			if err := r.checkCancel(); err != nil {
				return err
			}
		default:
			return r.failure(ErrDriver, i, phase, op, fmt.Errorf("unexpected latch result %v", res))
		}
	}
}

func (r *run) waitScriptEnd(i int, phase domain.Phase) error {
	end, err := r.Analyzer.WaitForScriptEnd(r.ctx, r.Timing.ScriptEndTimeout)
	if err != nil {
		return r.driverFailure(i, phase, "wait for script end", err)
	}
	switch end {
	case driver.ScriptSignaled:
		return nil
	case driver.ScriptCancelled:
		return fmt.Errorf("%w while waiting for the analyzer script", ErrUserAbort)
	default:
		return r.driverFailure(i, phase,
			fmt.Sprintf("script did not finish within %v", r.Timing.ScriptEndTimeout), nil)
	}
}

// settle sleeps unconditionally, checking for cancellation on both sides
func (r *run) settle(d time.Duration) error {
	if err := r.checkCancel(); err != nil {
		return err
	}
	r.Clock.Sleep(d)
	return r.checkCancel()
}

func (r *run) checkCancel() error {
	if r.token.Cancelled() {
		return ErrUserAbort
	}
	return nil
}

func (r *run) disconnected(err error) error {
	switch {
	case err == nil:
		return ErrDisconnected
	case errors.Is(err, ErrDisconnected):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
}

func (r *run) driverFailure(i int, phase domain.Phase, op string, err error) error {
	return r.failure(ErrDriver, i, phase, op, err)
}

func (r *run) failure(kind error, i int, phase domain.Phase, op string, err error) error {
	f := &Failure{Kind: kind, Index: i, Phase: phase, Op: op, Err: err}
	if i >= 0 {
		f.Sample = r.Plan.Samples[i].Name
	}
	return f
}

// finish performs cleanup for err and returns the outcome
func (r *run) finish(err error) domain.Outcome {
	outcome := Classify(err)

	if err == nil {
		r.closeBridge()
		r.state(domain.StateCompleted, -1)
		return outcome
	}

	switch outcome {
	case domain.OutcomeUserAborted:
		r.log.Info("batch aborted", "reason", err.Error())
		if errors.Is(err, ErrBridgeTimeout) {
			r.Reporter.Failure(err)
		}
	case domain.OutcomeDeviceDisconnected:
		r.log.Error("bridge disconnected", "error", err)
	default:
		r.log.Error("batch failed", "error", err)
		r.Reporter.Failure(err)
	}

	if !r.dirsFailed {
		r.cancelRemaining()
	}
	if r.connected {
		r.abortDrivers()
	}
	r.closeBridge()

	if outcome == domain.OutcomeDeviceDisconnected {
		r.state(domain.StateDisconnected, -1)
	} else {
		r.state(domain.StateAborted, -1)
	}
	return outcome
}

// abortDrivers stops both scripts. Errors are logged since the run is
// already ending.
func (r *run) abortDrivers() {
	ctx := context.WithoutCancel(r.ctx)
	if err := r.Analyzer.AbortScript(ctx); err != nil {
		r.log.Warn("analyzer abort failed", "error", err)
	}
	if err := r.Sampler.AbortScript(ctx); err != nil {
		r.log.Warn("sampler abort failed", "error", err)
	}
}

func (r *run) closeBridge() {
	if r.bridge == nil {
		return
	}
	if err := r.bridge.Close(); err != nil {
		r.log.Warn("bridge close failed", "error", err)
	}
}

// cancelRemaining marks every unfinished phase cancelled. Complete is kept.
func (r *run) cancelRemaining() {
	for i, s := range r.Plan.Samples {
		for _, phase := range []domain.Phase{domain.PhaseAcquisition, domain.PhaseProcessing} {
			switch s.StatusOf(phase) {
			case domain.StatusNotStarted, domain.StatusInProgress:
				r.setStatus(i, phase, domain.StatusCancelled)
			}
		}
	}
}

func (r *run) setStatus(i int, phase domain.Phase, status domain.Status) {
	r.Plan.Samples[i].SetStatus(phase, status)
	r.Reporter.PhaseProgress(i, phase, status)
}

func (r *run) state(s domain.State, i int) {
	r.log.Info("state", "state", string(s), "sample_index", i)
	r.Reporter.StateChanged(s, i)
}
