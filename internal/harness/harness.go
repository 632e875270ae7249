// Package harness fans test cases out across a fixed-size worker pool,
// drives each test through its phases, and funnels verdicts into one
// aggregate report. Tests are embarrassingly parallel: the only state
// shared across workers is the aggregator.
package harness

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/c0check/internal/backend"
	"github.com/deixis/c0check/internal/classify"
	"github.com/deixis/c0check/internal/report"
	"github.com/deixis/c0check/internal/spec"
)

// Progress is emitted once per completed test, in completion order.
// Consumers must not assume submission order.
type Progress struct {
	Test    string
	Verdict classify.Kind
	// Outcome is a short human-readable description of what happened.
	Outcome string
}

// Options configures a harness run.
type Options struct {
	// Workers is the pool size. Defaults to the host parallelism.
	Workers int
	// Progress, when set, receives one event per completed test.
	// Calls are serialized.
	Progress func(Progress)
	// Logger receives per-test debug lines and skip notices.
	// Defaults to slog.Default.
	Logger *slog.Logger
}

// Harness runs a test suite against one backend.
type Harness struct {
	backend backend.Backend
	opts    Options
}

// New creates a Harness.
func New(b backend.Backend, opts Options) *Harness {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Harness{backend: b, opts: opts}
}

// Run executes the whole suite and returns the aggregate report. Every
// scheduled test yields exactly one verdict; per-test failures and
// errors never abort the run. The returned error is non-nil only when
// the context was cancelled before the suite finished.
func (h *Harness) Run(ctx context.Context, tests []*spec.Test) (*report.Report, error) {
	rep := &report.Report{
		ID:      uuid.NewString(),
		Backend: string(h.backend.Kind()),
		Started: time.Now(),
	}

	scheduled := make([]*spec.Test, 0, len(tests))
	for _, t := range tests {
		if !h.backend.Supports(t) {
			h.opts.Logger.Info("skipping unsupported test", "test", t.ID, "backend", h.backend.Kind())
			rep.Skipped++
			continue
		}
		scheduled = append(scheduled, t)
	}

	agg := newAggregator()
	jobs := make(chan *spec.Test)

	var wg sync.WaitGroup
	for range h.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				h.runOne(ctx, t, agg)
			}
		}()
	}

feed:
	for _, t := range scheduled {
		select {
		case jobs <- t:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	agg.finalize(rep)
	rep.Duration = time.Since(rep.Started)

	if err := ctx.Err(); err != nil {
		return rep, fmt.Errorf("run aborted: %w", err)
	}
	return rep, nil
}

// runOne drives a single test to its verdict and records it.
func (h *Harness) runOne(ctx context.Context, t *spec.Test, agg *aggregator) {
	if ctx.Err() != nil {
		// Aborted before this test started; it stays unscheduled.
		return
	}

	var verdict classify.Verdict
	var output string

	exec, err := h.backend.Run(ctx, t)
	if err != nil {
		verdict = classify.Verdict{
			Kind:   classify.Error,
			Detail: err.Error(),
		}
	} else {
		verdict = classify.Classify(t, exec, h.backend.Properties())
		if verdict.Kind != classify.Pass {
			output = capturedOutput(exec)
		}
	}

	agg.record(t, verdict, output)

	h.opts.Logger.Debug("test finished",
		"test", t.ID,
		"verdict", verdict.Kind.String())
	if h.opts.Progress != nil {
		agg.emit(h.opts.Progress, Progress{
			Test:    t.ID,
			Verdict: verdict.Kind,
			Outcome: describe(verdict),
		})
	}
}

// capturedOutput interleaves whatever the phases wrote, for diagnostics.
// Passing tests discard their output to bound memory.
func capturedOutput(exec *backend.Execution) string {
	var b strings.Builder
	if exec.Compile != nil && len(exec.Compile.Output) > 0 {
		b.Write(exec.Compile.Output)
	}
	if exec.Run != nil && len(exec.Run.Output) > 0 {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.Write(exec.Run.Output)
	}
	return b.String()
}

func describe(v classify.Verdict) string {
	switch v.Kind {
	case classify.Pass:
		return "ok"
	case classify.Fail:
		if v.Expected != "" {
			return fmt.Sprintf("expected %s, got %s", v.Expected, v.Observed)
		}
		return v.Detail
	case classify.Timeout:
		return fmt.Sprintf("%s phase timed out", v.Phase)
	default:
		if v.Phase != "" {
			return fmt.Sprintf("%s phase: %s", v.Phase, v.Detail)
		}
		return v.Detail
	}
}
