// Package clock provides an injectable time source so that retry spacing,
// latch polling deadlines and settle delays can be tested without waiting.
//
// Production code holds a Clock field set to Real(). Tests use Fake(), whose
// Sleep advances the fake time immediately instead of blocking.
package clock

import "time"

// Clock abstracts the time operations used by the batch
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses the calling goroutine for at least d.
	Sleep(d time.Duration)

	// After returns a channel that receives once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// Real returns a Clock backed by the time package
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since returns the time elapsed on c since t
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}
