// Package metrics records expansion and compilation outcomes.
package metrics

import "time"

// Outcome enumerates how a single note reference was handled.
type Outcome string

const (
	OutcomeExpanded       Outcome = "expanded"
	OutcomeRaw            Outcome = "raw"
	OutcomeCycle          Outcome = "cycle"
	OutcomeDepth          Outcome = "depth"
	OutcomeNotFound       Outcome = "not_found"
	OutcomeAmbiguous      Outcome = "ambiguous"
	OutcomeAnchorNotFound Outcome = "anchor_not_found"
)

// Recorder defines observability hooks for note compilation. Implementations
// may forward to Prometheus; NoopRecorder is used when metrics are disabled.
type Recorder interface {
	IncExpansion(dest string, outcome Outcome)
	ObserveCompileDuration(dest string, d time.Duration)
	IncPublishResult(success bool)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncExpansion(string, Outcome)                {}
func (NoopRecorder) ObserveCompileDuration(string, time.Duration) {}
func (NoopRecorder) IncPublishResult(bool)                        {}
