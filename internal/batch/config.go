package batch

import (
	"fmt"
	"time"

	"github.com/hochfrequenz/nta-batch/internal/config"
)

// Timing holds every delay and timeout the orchestrator observes
type Timing struct {
	LatchPollTimeout time.Duration
	TriggerSettle    time.Duration
	LatchRelease     time.Duration
	AcquireSettle    time.Duration
	ProcessSettle    time.Duration
	RetryAttempts    int
	RetryInterval    time.Duration
	PollInterval     time.Duration
	OpenTimeout      time.Duration
	ExportTimeout    time.Duration
	ScriptEndTimeout time.Duration
	ResultExtension  string
}

// DefaultTiming returns the delays the instruments were validated with
func DefaultTiming() Timing {
	return Timing{
		LatchPollTimeout: 15 * time.Minute,
		TriggerSettle:    6 * time.Second,
		LatchRelease:     5 * time.Second,
		AcquireSettle:    5 * time.Second,
		ProcessSettle:    10 * time.Second,
		RetryAttempts:    10,
		RetryInterval:    time.Second,
		PollInterval:     time.Second,
		OpenTimeout:      2 * time.Minute,
		ExportTimeout:    10 * time.Minute,
		ScriptEndTimeout: 10 * time.Minute,
		ResultExtension:  ".nano",
	}
}

// TimingFromConfig converts the [timing] and [analyzer] config sections
func TimingFromConfig(cfg *config.Config) Timing {
	return Timing{
		LatchPollTimeout: cfg.Timing.LatchPollTimeout(),
		TriggerSettle:    cfg.Timing.TriggerSettle(),
		LatchRelease:     cfg.Timing.LatchRelease(),
		AcquireSettle:    cfg.Timing.AcquireSettle(),
		ProcessSettle:    cfg.Timing.ProcessSettle(),
		RetryAttempts:    cfg.Timing.RetryAttempts,
		RetryInterval:    cfg.Timing.RetryInterval(),
		PollInterval:     cfg.Timing.PollInterval(),
		OpenTimeout:      cfg.Analyzer.OpenTimeout(),
		ExportTimeout:    cfg.Analyzer.ExportTimeout(),
		ScriptEndTimeout: cfg.Analyzer.ScriptEndTimeout(),
		ResultExtension:  cfg.Analyzer.ResultExtension,
	}
}

// Validate fills unset fields with defaults and rejects negative values
func (t *Timing) Validate() error {
	def := DefaultTiming()
	durations := []struct {
		name string
		v    *time.Duration
		def  time.Duration
	}{
		{"latch poll timeout", &t.LatchPollTimeout, def.LatchPollTimeout},
		{"trigger settle", &t.TriggerSettle, def.TriggerSettle},
		{"latch release", &t.LatchRelease, def.LatchRelease},
		{"acquire settle", &t.AcquireSettle, def.AcquireSettle},
		{"process settle", &t.ProcessSettle, def.ProcessSettle},
		{"retry interval", &t.RetryInterval, def.RetryInterval},
		{"poll interval", &t.PollInterval, def.PollInterval},
		{"open timeout", &t.OpenTimeout, def.OpenTimeout},
		{"export timeout", &t.ExportTimeout, def.ExportTimeout},
		{"script end timeout", &t.ScriptEndTimeout, def.ScriptEndTimeout},
	}
	for _, d := range durations {
		if *d.v < 0 {
			return fmt.Errorf("%s must not be negative, got %v", d.name, *d.v)
		}
		if *d.v == 0 {
			*d.v = d.def
		}
	}
	if t.RetryAttempts < 0 {
		return fmt.Errorf("retry attempts must not be negative, got %d", t.RetryAttempts)
	}
	if t.RetryAttempts == 0 {
		t.RetryAttempts = def.RetryAttempts
	}
	if t.ResultExtension == "" {
		t.ResultExtension = def.ResultExtension
	}
	return nil
}
