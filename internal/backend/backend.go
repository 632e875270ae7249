// Package backend adapts the three C0 toolchain implementations, the
// native-code compiler (cc0), the bytecode VM (c0vm), and the interpreter
// (coin), to a common interface: drive one test through its phases under
// the sandbox and return the raw phase results for classification.
package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/deixis/c0check/internal/sandbox"
	"github.com/deixis/c0check/internal/spec"
)

// Kind names a backend on the command line.
type Kind string

const (
	CC0  Kind = "cc0"
	C0VM Kind = "c0vm"
	Coin Kind = "coin"
)

// Kinds lists the selectable backends.
var Kinds = []Kind{CC0, C0VM, Coin}

// Execution holds the observed phase results for one test.
type Execution struct {
	// Compile is nil when the backend has no compile phase.
	Compile *sandbox.Result
	// Run is nil when compilation did not produce a runnable artifact.
	Run *sandbox.Result
	// ReturnValue is the C0 main return value recovered from the
	// result file, present only after a clean exit-0 run.
	ReturnValue *int
}

// Backend drives tests through one toolchain implementation.
type Backend interface {
	Kind() Kind
	// Properties resolve backend-conditioned expectations.
	Properties() spec.Properties
	// Supports reports whether the backend can execute the test at all.
	Supports(t *spec.Test) bool
	// Run executes all phases of one test. Phase failures (compile
	// errors, fault signals, limit kills) are reported inside the
	// Execution; an error means the test could not be evaluated.
	Run(ctx context.Context, t *spec.Test) (*Execution, error)
}

// Limits configures the per-phase resource ceilings shared by all
// backends. The run-phase CPU ceiling is scaled per backend: the VM and
// the interpreter are well over twice as slow as compiled code.
type Limits struct {
	CompileTime   time.Duration
	CompileMemory uint64
	TestTime      time.Duration
	TestMemory    uint64
	MaxOutput     int
	DenySyscalls  []string
}

func (l Limits) compile() sandbox.Limits {
	return sandbox.Limits{
		CPUTime:   l.CompileTime,
		Memory:    l.CompileMemory,
		MaxOutput: l.MaxOutput,
	}
}

func (l Limits) run(factor int) sandbox.Limits {
	return sandbox.Limits{
		CPUTime:      l.TestTime * time.Duration(factor),
		Memory:       l.TestMemory,
		MaxOutput:    l.MaxOutput,
		DenySyscalls: l.DenySyscalls,
	}
}

// toolchain bundles what every backend needs.
type toolchain struct {
	home   string
	runner *sandbox.Runner
	namer  *Namer
	limits Limits
}

// New selects a backend implementation. home is the toolchain install
// prefix (bin/cc0, bin/coin-exec, vm/c0vm); missing binaries surface as
// per-test evaluation errors, not construction errors.
func New(kind Kind, home string, runner *sandbox.Runner, namer *Namer, limits Limits) (Backend, error) {
	tc := toolchain{home: home, runner: runner, namer: namer, limits: limits}
	switch kind {
	case CC0:
		return &cc0Backend{toolchain: tc}, nil
	case C0VM:
		return &c0vmBackend{toolchain: tc}, nil
	case Coin:
		return &coinBackend{toolchain: tc}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want cc0, c0vm, or coin)", kind)
}

func (tc *toolchain) bin(elem ...string) string {
	return filepath.Join(append([]string{tc.home}, elem...)...)
}

// compileSources invokes cc0 over the test sources, writing the artifact
// with the given extra output flag ("-vo" native, "-vbo" bytecode).
func (tc *toolchain) compileSources(ctx context.Context, t *spec.Test, outFlag, outPath string) (*sandbox.Result, error) {
	args := append(append([]string{}, t.Options...), t.Sources...)
	args = append(args, outFlag, outPath)

	res, err := tc.runner.Exec(ctx, sandbox.Command{
		Path: tc.bin("bin", "cc0"),
		Args: args,
		Dir:  t.Dir,
	}, tc.limits.compile())
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", t.ID, err)
	}
	return res, nil
}

// runProgram executes a run phase with the C0 result-file protocol: the
// child gets a reserved C0_RESULT_FILE path as its entire environment and
// the harness recovers the C0 main return value from it afterwards.
func (tc *toolchain) runProgram(ctx context.Context, t *spec.Test, path string, args []string, factor int) (*sandbox.Result, *int, error) {
	resultFile := tc.namer.Reserve("c0_result", "")
	defer resultFile.Release()

	res, err := tc.runner.Exec(ctx, sandbox.Command{
		Path: path,
		Args: args,
		Dir:  t.Dir,
		Env:  []string{"C0_RESULT_FILE=" + resultFile.Path},
	}, tc.limits.run(factor))
	if err != nil {
		return nil, nil, fmt.Errorf("running %s: %w", t.ID, err)
	}

	var ret *int
	if res.Exited && res.ExitCode == 0 {
		ret = readResultFile(resultFile.Path)
	}
	return res, ret, nil
}

// compiled reports whether a compile phase produced a runnable artifact.
func compiled(res *sandbox.Result) bool {
	return res.Exited && res.ExitCode == 0
}
