package metrics

import "time"

// Recorder is the instrumentation seam for the scheduler and the fetch client.
// Implementations count events and record durations; they must be safe for
// concurrent use and must never panic into the caller.
type Recorder interface {
	// Inc increments the counter for the named event by one.
	Inc(event string)
	// Observe records a duration for the named event.
	Observe(event string, d time.Duration)
}

// Nop is the default Recorder. It discards everything, so the core is fully
// usable with no telemetry configured.
type Nop struct{}

func (Nop) Inc(string)                    {}
func (Nop) Observe(string, time.Duration) {}

var _ Recorder = Nop{}
