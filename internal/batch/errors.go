package batch

import (
	"errors"
	"fmt"

	"github.com/hochfrequenz/nta-batch/internal/bridge"
	"github.com/hochfrequenz/nta-batch/internal/domain"
)

var (
	// ErrSetup covers directory and connection failures before any sample work
	ErrSetup = errors.New("setup failed")
	// ErrDriver is a failed analyzer or sampler call, or a UI state not reached in time
	ErrDriver = errors.New("instrument driver failed")
	// ErrBridgeTimeout is an exhausted bounded retry that the operator declined to repeat
	ErrBridgeTimeout = errors.New("bridge did not confirm command")
	// ErrProtocolTimeout is a latch poll that ran past its deadline
	ErrProtocolTimeout = errors.New("sampler did not signal in time")
	ErrUserAbort       = errors.New("aborted by operator")
	ErrAlreadyRunning  = errors.New("a batch is already running")

	ErrDisconnected = bridge.ErrDisconnected
)

// Failure describes a fatal condition with the sample and step it hit
type Failure struct {
	Kind   error
	Index  int // -1 when not tied to a sample
	Sample string
	Phase  domain.Phase
	Op     string
	Err    error
}

func (f *Failure) Error() string {
	msg := f.Kind.Error()
	if f.Sample != "" {
		msg = fmt.Sprintf("%s: sample %q (%s)", msg, f.Sample, f.Phase)
	}
	if f.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, f.Op)
	}
	if f.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, f.Err)
	}
	return msg
}

func (f *Failure) Unwrap() []error {
	if f.Err == nil {
		return []error{f.Kind}
	}
	return []error{f.Kind, f.Err}
}

// Classify maps a fatal error to the run outcome
func Classify(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeCompleted
	case errors.Is(err, ErrDisconnected):
		return domain.OutcomeDeviceDisconnected
	case errors.Is(err, ErrUserAbort), errors.Is(err, ErrBridgeTimeout):
		return domain.OutcomeUserAborted
	default:
		return domain.OutcomeDriverFailure
	}
}
