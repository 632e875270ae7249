package harness

import (
	"sync"
	"sync/atomic"

	"github.com/deixis/c0check/internal/classify"
	"github.com/deixis/c0check/internal/report"
	"github.com/deixis/c0check/internal/spec"
)

// aggregator collects verdicts from concurrent workers. Counters are
// lock-free; the diagnostics list and progress emission take a
// short-lived lock so events stay whole.
type aggregator struct {
	passed   atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
	errored  atomic.Int64

	mu    sync.Mutex
	diags []report.Diagnostic
}

func newAggregator() *aggregator {
	return &aggregator{}
}

func (a *aggregator) record(t *spec.Test, v classify.Verdict, output string) {
	switch v.Kind {
	case classify.Pass:
		a.passed.Add(1)
		return
	case classify.Fail:
		a.failed.Add(1)
	case classify.Timeout:
		a.timedOut.Add(1)
	default:
		a.errored.Add(1)
	}

	d := report.Diagnostic{
		Test:     t.ID,
		Verdict:  v.Kind.String(),
		Phase:    string(v.Phase),
		Expected: v.Expected,
		Observed: v.Observed,
		Detail:   v.Detail,
		Output:   output,
	}
	a.mu.Lock()
	a.diags = append(a.diags, d)
	a.mu.Unlock()
}

// emit serializes progress callbacks across workers.
func (a *aggregator) emit(fn func(Progress), p Progress) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(p)
}

// finalize copies the tallies into the report. Callers must ensure all
// workers have stopped first.
func (a *aggregator) finalize(r *report.Report) {
	r.Passed = int(a.passed.Load())
	r.Failed = int(a.failed.Load())
	r.TimedOut = int(a.timedOut.Load())
	r.Errored = int(a.errored.Load())
	r.Diagnostics = a.diags
}
