// Package metrics counts engine outcomes and stage durations.
//
// Components receive a Recorder and default to NoopRecorder. The CLI swaps in
// a PrometheusRecorder when --metrics-file is set and writes the registry to a
// textfile once the command finishes.
package metrics

import "time"

// Component labels.
const (
	ComponentProvision = "provision"
	ComponentFetch     = "fetch"
	ComponentBuild     = "build"
)

// Outcome enumerates terminal results for counters.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeFailed        Outcome = "failed"
	OutcomeCanceled      Outcome = "canceled"
	OutcomePendingManual Outcome = "pending_manual"
	OutcomeNotDetected   Outcome = "not_detected"
)

// Recorder defines observability hooks for engine jobs.
type Recorder interface {
	ObserveStageDuration(component, stage string, d time.Duration)
	IncOutcome(component string, outcome Outcome)
	IncRetry(component, reason string)
	IncStrategy(component, strategy string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) ObserveStageDuration(string, string, time.Duration) {}
func (NoopRecorder) IncOutcome(string, Outcome)                         {}
func (NoopRecorder) IncRetry(string, string)                            {}
func (NoopRecorder) IncStrategy(string, string)                         {}

// OrNoop returns r, or NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
