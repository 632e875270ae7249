// Package report holds the aggregate result of one harness run and its
// persistence: runs are stored as JSON keyed by run ID so that summaries
// and per-test diagnostics can be queried after the fact.
package report

import (
	"fmt"
	"time"
)

// Store persists and retrieves harness runs.
type Store interface {
	Save(r *Report) error
	Load(runID string) (*Report, error)
}

// Report is the aggregate outcome of one harness run. Counters cover
// every scheduled test; tests the backend cannot execute at all are
// counted as skipped and never scheduled.
type Report struct {
	ID      string `json:"id"`
	Backend string `json:"backend"`
	Root    string `json:"root"` // test root the suite was discovered from

	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	TimedOut int `json:"timed_out"`
	Errored  int `json:"errored"`
	Skipped  int `json:"skipped,omitempty"`

	// Diagnostics holds one entry per non-passing test, in completion
	// order. Passing tests contribute only to the counters.
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

// Diagnostic carries what a failing test left behind.
type Diagnostic struct {
	Test    string `json:"test"`
	Verdict string `json:"verdict"` // fail, timeout, or error
	Phase   string `json:"phase,omitempty"`

	Expected string `json:"expected,omitempty"`
	Observed string `json:"observed,omitempty"`
	Detail   string `json:"detail,omitempty"`

	// Output is the captured (possibly truncated) stdout+stderr of the
	// phases that ran.
	Output string `json:"output,omitempty"`
}

// Scheduled returns the number of tests that received a verdict.
func (r *Report) Scheduled() int {
	return r.Passed + r.Failed + r.TimedOut + r.Errored
}

// Ok reports whether every scheduled test passed.
func (r *Report) Ok() bool {
	return r.Failed == 0 && r.TimedOut == 0 && r.Errored == 0
}

// ByTest returns the diagnostics recorded for one test identifier.
func (r *Report) ByTest(id string) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Diagnostics {
		if d.Test == id {
			out = append(out, d)
		}
	}
	return out
}

// Summary renders the one-line counts view.
func (r *Report) Summary() string {
	s := fmt.Sprintf("%d passed, %d failed, %d timed out, %d errors",
		r.Passed, r.Failed, r.TimedOut, r.Errored)
	if r.Skipped > 0 {
		s += fmt.Sprintf(", %d skipped", r.Skipped)
	}
	return s
}
