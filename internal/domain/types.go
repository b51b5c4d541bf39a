package domain

import "fmt"

// Status represents the lifecycle state of one phase of a sample
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusCancelled  Status = "cancelled"
)

// Label returns the operator-facing text for the status
func (s Status) Label() string {
	switch s {
	case StatusNotStarted:
		return "Not Started"
	case StatusInProgress:
		return "In Progress"
	case StatusComplete:
		return "Complete"
	case StatusCancelled:
		return "Cancelled"
	default:
		return string(s)
	}
}

// Phase identifies which half of the batch a sample status belongs to
type Phase string

const (
	PhaseAcquisition Phase = "acquisition"
	PhaseProcessing  Phase = "processing"
)

// State is a state of the batch state machine
type State string

const (
	StateInit                State = "init"
	StateConnectDevices      State = "connect_devices"
	StateResetLatchPreflight State = "reset_latch_preflight"
	StateVerifySamplerReady  State = "verify_sampler_ready"
	StateVerifyScriptLoaded  State = "verify_script_loaded"
	StateAcquire             State = "acquire"
	StateAcquireSettle       State = "acquire_settle"
	StateProcess             State = "process"
	StateFinalTrigger        State = "final_trigger"
	StateCompleted           State = "completed"
	StateAborted             State = "aborted"
	StateDisconnected        State = "disconnected"
)

// At names the state for sample index i (zero-based). Negative indices
// mean the state is not tied to a sample.
func (s State) At(i int) string {
	if i < 0 {
		return string(s)
	}
	return fmt.Sprintf("%s #%d", s, i+1)
}

// Outcome is the terminal classification of a run
type Outcome string

const (
	OutcomeCompleted          Outcome = "completed"
	OutcomeUserAborted        Outcome = "user_aborted"
	OutcomeDeviceDisconnected Outcome = "device_disconnected"
	OutcomeDriverFailure      Outcome = "driver_failure"
)

// Message returns the operator-facing summary for the outcome
func (o Outcome) Message() string {
	switch o {
	case OutcomeCompleted:
		return "Batch Complete!"
	case OutcomeUserAborted:
		return "Batch aborted."
	case OutcomeDeviceDisconnected:
		return "Arduino disconnected. Batch aborted."
	case OutcomeDriverFailure:
		return "Batch aborted after an instrument error."
	default:
		return string(o)
	}
}
