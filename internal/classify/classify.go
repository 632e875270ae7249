// Package classify maps observed phase results and a test's expectation,
// resolved against the backend under test, to exactly one verdict.
package classify

import (
	"fmt"
	"strings"
	"syscall"

	"github.com/deixis/c0check/internal/backend"
	"github.com/deixis/c0check/internal/sandbox"
	"github.com/deixis/c0check/internal/spec"
)

// Kind is the verdict taxonomy. Fail means the tested program behaved
// differently than expected; Error means the test could not be
// meaningfully evaluated (tooling crash, spawn failure, protocol
// violation) and is reported distinctly.
type Kind int

const (
	Pass Kind = iota
	Fail
	Timeout
	Error
)

func (k Kind) String() string {
	switch k {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Timeout:
		return "timeout"
	case Error:
		return "error"
	}
	return fmt.Sprintf("verdict(%d)", int(k))
}

// Phase names the execution step a verdict refers to.
type Phase string

const (
	PhaseCompile Phase = "compile"
	PhaseRun     Phase = "run"
)

// Verdict is the classified result of one test.
type Verdict struct {
	Kind Kind
	// Phase is set for Timeout and Error verdicts.
	Phase Phase
	// Expected and Observed summarize the mismatch for Fail verdicts.
	Expected string
	Observed string
	// Detail carries the diagnostic message for Error and Fail verdicts.
	Detail string
}

func pass() Verdict { return Verdict{Kind: Pass} }

func errorVerdict(phase Phase, format string, args ...any) Verdict {
	return Verdict{Kind: Error, Phase: phase, Detail: fmt.Sprintf(format, args...)}
}

// Classify produces the verdict for one executed test. The expectation is
// resolved against the backend properties first; a test none of whose
// guarded behaviors apply to this backend is vacuously satisfied.
func Classify(t *spec.Test, exec *backend.Execution, props spec.Properties) Verdict {
	expected := spec.Resolve(t.Rules, props)
	if len(expected) == 0 {
		return pass()
	}

	if exec.Compile != nil {
		if v, done := classifyCompile(exec.Compile, expected); done {
			return v
		}
	}

	if exec.Run == nil {
		return errorVerdict(PhaseRun, "no run phase was executed")
	}
	return classifyRun(exec, expected)
}

// classifyCompile interprets the compile phase. done is false when
// compilation succeeded and classification must continue with the run
// phase.
func classifyCompile(res *sandbox.Result, expected []spec.Behavior) (Verdict, bool) {
	const gccFailureCode = 2 // cc0 could not invoke GCC

	switch {
	case res.Limit == sandbox.LimitCPU:
		if expectsCompileError(expected) {
			return pass(), true
		}
		return Verdict{Kind: Timeout, Phase: PhaseCompile, Detail: res.String()}, true

	case res.Exited && res.ExitCode == 0:
		return Verdict{}, false

	case res.Exited && res.ExitCode == 1:
		// The source was rejected; that is an observable behavior.
		return match(expected, spec.Behavior{Kind: spec.CompileError}, res), true

	case res.Exited && res.ExitCode == gccFailureCode:
		return errorVerdict(PhaseCompile, "cc0 failed to invoke GCC: %s", trimmed(res)), true

	case res.Exited:
		return errorVerdict(PhaseCompile, "compiler exited with unexpected status %d: %s", res.ExitCode, trimmed(res)), true

	default:
		return errorVerdict(PhaseCompile, "compiler killed by %v: %s", res.Signal, trimmed(res)), true
	}
}

func classifyRun(exec *backend.Execution, expected []spec.Behavior) Verdict {
	res := exec.Run

	observed, v := observedBehavior(exec)
	if v != nil {
		return *v
	}

	verdict := match(expected, observed, res)
	if verdict.Kind != Fail {
		return verdict
	}

	// An unexpected CPU-limit kill counts separately from a wrong
	// answer, and a fault at the memory ceiling gets attributed to it.
	if observed.Kind == spec.InfiniteLoop {
		return Verdict{
			Kind:     Timeout,
			Phase:    PhaseRun,
			Expected: verdict.Expected,
			Observed: verdict.Observed,
			Detail:   res.String(),
		}
	}
	if res.Limit == sandbox.LimitMemory {
		verdict.Detail = fmt.Sprintf("memory exhaustion: %s", res)
	}
	return verdict
}

// observedBehavior reduces a run-phase result to a C0 behavior, or to an
// Error verdict when the result is outside the toolchain's protocol.
func observedBehavior(exec *backend.Execution) (spec.Behavior, *Verdict) {
	res := exec.Run

	if res.Limit == sandbox.LimitCPU {
		return spec.Behavior{Kind: spec.InfiniteLoop}, nil
	}

	if res.Exited {
		switch res.ExitCode {
		case 0:
			if exec.ReturnValue == nil {
				v := errorVerdict(PhaseRun, "program exited successfully, but no return value was written")
				return spec.Behavior{}, &v
			}
			return spec.Ret(*exec.ReturnValue), nil
		case 1, 4:
			return spec.Behavior{Kind: spec.Failure}, nil
		case 2:
			// Coin reports compile errors from the run phase.
			return spec.Behavior{Kind: spec.CompileError}, nil
		}
		v := errorVerdict(PhaseRun, "unexpected program exit status %d: %s", res.ExitCode, trimmed(res))
		return spec.Behavior{}, &v
	}

	switch res.Signal {
	case syscall.SIGSEGV, syscall.SIGBUS:
		return spec.Behavior{Kind: spec.Segfault}, nil
	case syscall.SIGXCPU:
		return spec.Behavior{Kind: spec.InfiniteLoop}, nil
	case syscall.SIGFPE:
		return spec.Behavior{Kind: spec.DivZero}, nil
	case syscall.SIGABRT:
		return spec.Behavior{Kind: spec.Abort}, nil
	}
	v := errorVerdict(PhaseRun, "program killed by unexpected signal %v: %s", res.Signal, trimmed(res))
	return spec.Behavior{}, &v
}

// match compares the observed behavior against every applicable
// expectation; all of them must accept it.
func match(expected []spec.Behavior, observed spec.Behavior, res *sandbox.Result) Verdict {
	for _, want := range expected {
		if !want.Matches(observed) {
			return Verdict{
				Kind:     Fail,
				Expected: summarize(expected),
				Observed: observed.String(),
				Detail:   res.String(),
			}
		}
	}
	return pass()
}

func expectsCompileError(expected []spec.Behavior) bool {
	for _, b := range expected {
		if b.Kind == spec.CompileError {
			return true
		}
	}
	return false
}

func summarize(behaviors []spec.Behavior) string {
	parts := make([]string, len(behaviors))
	for i, b := range behaviors {
		parts[i] = b.String()
	}
	return strings.Join(parts, "; ")
}

func trimmed(res *sandbox.Result) string {
	out := strings.TrimSpace(string(res.Output))
	if out == "" {
		return "<no output>"
	}
	const maxDetail = 512
	if len(out) > maxDetail {
		out = out[:maxDetail] + "..."
	}
	return out
}
