package classify

import (
	"syscall"
	"testing"
	"time"

	"github.com/deixis/c0check/internal/backend"
	"github.com/deixis/c0check/internal/sandbox"
	"github.com/deixis/c0check/internal/spec"
)

var cc0Props = spec.Properties{
	Name:             "cc0",
	Libraries:        true,
	Typechecked:      true,
	GarbageCollected: true,
	Safe:             true,
}

func parsed(t *testing.T, expectation string) *spec.Test {
	t.Helper()
	rules, err := spec.Parse(expectation)
	if err != nil {
		t.Fatalf("Parse(%q): %v", expectation, err)
	}
	return &spec.Test{ID: "t.c0", Sources: []string{"t.c0"}, Rules: rules}
}

func exited(code int) *sandbox.Result {
	return &sandbox.Result{Exited: true, ExitCode: code}
}

func signaled(sig syscall.Signal) *sandbox.Result {
	return &sandbox.Result{Signal: sig}
}

func ranWith(compile, run *sandbox.Result, ret *int) *backend.Execution {
	return &backend.Execution{Compile: compile, Run: run, ReturnValue: ret}
}

func intp(v int) *int { return &v }

func TestClassify_NormalReturn(t *testing.T) {
	test := parsed(t, "return 5")

	v := Classify(test, ranWith(exited(0), exited(0), intp(5)), cc0Props)
	if v.Kind != Pass {
		t.Errorf("matching return: verdict = %+v, want pass", v)
	}

	v = Classify(test, ranWith(exited(0), exited(0), intp(6)), cc0Props)
	if v.Kind != Fail {
		t.Fatalf("wrong return: verdict = %+v, want fail", v)
	}
	if v.Expected != "return 5" || v.Observed != "return 6" {
		t.Errorf("summary = %q vs %q", v.Expected, v.Observed)
	}
}

func TestClassify_ReturnStarAndRuns(t *testing.T) {
	for _, expectation := range []string{"return *", "runs"} {
		v := Classify(parsed(t, expectation), ranWith(exited(0), exited(0), intp(99)), cc0Props)
		if v.Kind != Pass {
			t.Errorf("%s: verdict = %+v, want pass", expectation, v)
		}
	}
}

func TestClassify_DivergenceIsPassOnCPULimit(t *testing.T) {
	run := &sandbox.Result{
		Signal:  syscall.SIGXCPU,
		CPUTime: 10 * time.Second,
		Limit:   sandbox.LimitCPU,
	}
	v := Classify(parsed(t, "infloop"), ranWith(exited(0), run, nil), cc0Props)
	if v.Kind != Pass {
		t.Errorf("expected divergence: verdict = %+v, want pass", v)
	}
}

func TestClassify_UnexpectedCPULimitIsTimeout(t *testing.T) {
	run := &sandbox.Result{
		Signal:  syscall.SIGKILL,
		CPUTime: 15 * time.Second,
		Limit:   sandbox.LimitCPU,
	}
	v := Classify(parsed(t, "return 0"), ranWith(exited(0), run, nil), cc0Props)
	if v.Kind != Timeout || v.Phase != PhaseRun {
		t.Errorf("verdict = %+v, want run-phase timeout", v)
	}
}

func TestClassify_FaultSignals(t *testing.T) {
	tests := []struct {
		expectation string
		sig         syscall.Signal
	}{
		{"segfault", syscall.SIGSEGV},
		{"abort", syscall.SIGABRT},
		{"div-by-zero", syscall.SIGFPE},
	}
	for _, tt := range tests {
		v := Classify(parsed(t, tt.expectation), ranWith(exited(0), signaled(tt.sig), nil), cc0Props)
		if v.Kind != Pass {
			t.Errorf("%s: verdict = %+v, want pass", tt.expectation, v)
		}
		// The same signal against a different expectation is a failure.
		v = Classify(parsed(t, "return 0"), ranWith(exited(0), signaled(tt.sig), nil), cc0Props)
		if v.Kind != Fail {
			t.Errorf("%s vs return 0: verdict = %+v, want fail", tt.expectation, v)
		}
	}
}

func TestClassify_RuntimeFailureExitCodes(t *testing.T) {
	for _, code := range []int{1, 4} {
		v := Classify(parsed(t, "failure"), ranWith(exited(0), exited(code), nil), cc0Props)
		if v.Kind != Pass {
			t.Errorf("exit %d: verdict = %+v, want pass", code, v)
		}
	}
}

func TestClassify_MemoryLimitFailsWithDiagnostic(t *testing.T) {
	run := &sandbox.Result{
		Signal:  syscall.SIGABRT,
		PeakRSS: 2 << 30,
		Limit:   sandbox.LimitMemory,
	}
	v := Classify(parsed(t, "return 0"), ranWith(exited(0), run, nil), cc0Props)
	if v.Kind != Fail {
		t.Fatalf("verdict = %+v, want fail", v)
	}
	if v.Detail == "" || v.Observed != "abort" {
		t.Errorf("verdict = %+v, want memory-exhaustion diagnostic", v)
	}

	// A test that legitimately expects the abort still passes.
	v = Classify(parsed(t, "abort"), ranWith(exited(0), run, nil), cc0Props)
	if v.Kind != Pass {
		t.Errorf("expected abort: verdict = %+v, want pass", v)
	}
}

func TestClassify_CompileError(t *testing.T) {
	// Compile rejection matching the expectation.
	v := Classify(parsed(t, "error"), ranWith(exited(1), nil, nil), cc0Props)
	if v.Kind != Pass {
		t.Errorf("expected compile error: verdict = %+v, want pass", v)
	}

	// Compile rejection against a run expectation.
	v = Classify(parsed(t, "return 0"), ranWith(exited(1), nil, nil), cc0Props)
	if v.Kind != Fail {
		t.Errorf("unexpected compile error: verdict = %+v, want fail", v)
	}

	// Compilation succeeded although an error was expected: the run
	// happened, so whatever it produced cannot match "error".
	v = Classify(parsed(t, "error"), ranWith(exited(0), exited(0), intp(0)), cc0Props)
	if v.Kind != Fail {
		t.Errorf("missed compile error: verdict = %+v, want fail", v)
	}
}

func TestClassify_CompileTimeout(t *testing.T) {
	slow := &sandbox.Result{
		Signal:  syscall.SIGXCPU,
		CPUTime: 20 * time.Second,
		Limit:   sandbox.LimitCPU,
	}

	v := Classify(parsed(t, "error"), ranWith(slow, nil, nil), cc0Props)
	if v.Kind != Pass {
		t.Errorf("compile timeout with expected error: verdict = %+v, want pass", v)
	}

	v = Classify(parsed(t, "return 0"), ranWith(slow, nil, nil), cc0Props)
	if v.Kind != Timeout || v.Phase != PhaseCompile {
		t.Errorf("verdict = %+v, want compile-phase timeout", v)
	}
}

func TestClassify_CompilerInternalCrashIsError(t *testing.T) {
	crashes := []*sandbox.Result{
		exited(2),               // cc0 could not invoke GCC
		exited(42),              // unexpected status
		signaled(syscall.SIGSEGV), // compiler itself crashed
	}
	for _, res := range crashes {
		v := Classify(parsed(t, "error"), ranWith(res, nil, nil), cc0Props)
		if v.Kind != Error || v.Phase != PhaseCompile {
			t.Errorf("compile %s: verdict = %+v, want compile-phase error", res, v)
		}
	}
}

func TestClassify_ProtocolViolationsAreErrors(t *testing.T) {
	// Clean exit with no result file.
	v := Classify(parsed(t, "return 0"), ranWith(exited(0), exited(0), nil), cc0Props)
	if v.Kind != Error {
		t.Errorf("missing result value: verdict = %+v, want error", v)
	}

	// Exit status outside the C0 protocol.
	v = Classify(parsed(t, "return 0"), ranWith(exited(0), exited(77), nil), cc0Props)
	if v.Kind != Error {
		t.Errorf("exit 77: verdict = %+v, want error", v)
	}

	// Unexpected signal.
	v = Classify(parsed(t, "return 0"), ranWith(exited(0), signaled(syscall.SIGTERM), nil), cc0Props)
	if v.Kind != Error {
		t.Errorf("SIGTERM: verdict = %+v, want error", v)
	}
}

func TestClassify_BackendConditioned(t *testing.T) {
	test := parsed(t, "gc => return 0; !gc => abort")

	// Under cc0 (collected) the return is expected.
	v := Classify(test, ranWith(exited(0), exited(0), intp(0)), cc0Props)
	if v.Kind != Pass {
		t.Errorf("cc0 verdict = %+v, want pass", v)
	}

	// Under the VM (not collected) the same observation is a failure
	// and the abort is the expectation.
	vm := spec.Properties{Name: "cc0_c0vm", Libraries: true, Typechecked: true, Safe: true}
	v = Classify(test, ranWith(exited(0), exited(0), intp(0)), vm)
	if v.Kind != Fail {
		t.Errorf("c0vm return verdict = %+v, want fail", v)
	}
	v = Classify(test, ranWith(exited(0), signaled(syscall.SIGABRT), nil), vm)
	if v.Kind != Pass {
		t.Errorf("c0vm abort verdict = %+v, want pass", v)
	}
}

func TestClassify_NoApplicableExpectation(t *testing.T) {
	// Every guard excludes cc0; the test is vacuously satisfied
	// without consulting the phases.
	test := parsed(t, "false => segfault")
	v := Classify(test, &backend.Execution{}, cc0Props)
	if v.Kind != Pass {
		t.Errorf("verdict = %+v, want pass", v)
	}
}

func TestClassify_CoinCompileErrorExit(t *testing.T) {
	coin := spec.Properties{Name: "coin", Libraries: true, Typechecked: true, Safe: true}
	// Coin has no compile phase; exit 2 from the run phase is the
	// interpreter rejecting the source.
	v := Classify(parsed(t, "error"), ranWith(nil, exited(2), nil), coin)
	if v.Kind != Pass {
		t.Errorf("verdict = %+v, want pass", v)
	}
}
