// Package sandbox executes one child process per test phase under hard
// CPU-time and memory ceilings, capturing its output without deadlock.
//
// The ceilings are applied inside the child before the target program
// starts: the harness re-invokes its own executable as a shim, the shim
// calls setrlimit and then execs the target. The kernel, not the harness,
// kills the child once its accumulated CPU time crosses the limit, so a
// test is never penalized for being scheduled out under parallel load.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExecFailureCode is the exit code the shim reserves for "could not exec
// the target program". Test programs must not use it.
const ExecFailureCode = 100

// cpuGrace is added to the hard CPU rlimit so SIGXCPU (soft) fires before
// SIGKILL (hard). The Boehm GC used by the C0 runtime can remap SIGXCPU
// when built with thread support, so the hard kill stays as a backstop.
const cpuGrace = 5 * time.Second

// Command describes one child process to run.
type Command struct {
	Path string   // program to exec
	Args []string // arguments, excluding the program name
	Dir  string   // working directory; empty means inherit
	// Env is the child's entire environment. nil inherits the
	// harness environment.
	Env []string
}

// Limits bounds one phase of a test.
type Limits struct {
	// CPUTime is the ceiling on process CPU time (user + system),
	// enforced with RLIMIT_CPU. Zero means no limit.
	CPUTime time.Duration
	// Memory is the address-space ceiling in bytes, enforced with
	// RLIMIT_AS. Zero means no limit.
	Memory uint64
	// MaxOutput caps captured stdout+stderr bytes. Excess output is
	// discarded while the child keeps running. Zero means 1 MB.
	MaxOutput int
	// DenySyscalls optionally installs a seccomp filter rejecting the
	// named syscalls before exec.
	DenySyscalls []string
}

// LimitKind tells which ceiling, if any, terminated the child.
type LimitKind int

const (
	LimitNone LimitKind = iota
	LimitCPU
	LimitMemory
)

func (k LimitKind) String() string {
	switch k {
	case LimitCPU:
		return "cpu"
	case LimitMemory:
		return "memory"
	}
	return "none"
}

// Result is the observed outcome of one child process.
type Result struct {
	// Exited is true for a normal exit, false for a signal death.
	Exited   bool
	ExitCode int            // valid when Exited
	Signal   syscall.Signal // valid when !Exited

	// Output is the interleaved stdout+stderr, capped at MaxOutput.
	Output    []byte
	Truncated bool

	CPUTime time.Duration // user + system time actually consumed
	PeakRSS uint64        // bytes
	Limit   LimitKind
}

// String summarizes the termination for diagnostics.
func (r *Result) String() string {
	switch {
	case r.Limit == LimitCPU:
		return fmt.Sprintf("killed at CPU-time ceiling after %v", r.CPUTime.Round(time.Millisecond))
	case r.Limit == LimitMemory:
		return fmt.Sprintf("killed at memory ceiling (peak rss %d bytes)", r.PeakRSS)
	case r.Exited:
		return fmt.Sprintf("exited %d", r.ExitCode)
	default:
		return fmt.Sprintf("killed by %v", r.Signal)
	}
}

// Runner spawns sandboxed children. The zero value is not usable; Shim
// must point at an executable that calls ExecChild early in main.
type Runner struct {
	// Shim is the path of the self-executable used to apply limits
	// before exec. Defaults to os.Executable() via NewRunner.
	Shim string
}

// NewRunner returns a Runner that re-invokes the current executable
// as the limit-applying shim.
func NewRunner() (*Runner, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating own executable for sandbox shim: %w", err)
	}
	return &Runner{Shim: self}, nil
}

// Exec runs one child under the given limits and waits for it, draining
// output concurrently. A non-zero exit or signal death is reported in the
// Result, not as an error; an error means the child could not be spawned
// or evaluated at all.
func (r *Runner) Exec(ctx context.Context, command Command, limits Limits) (*Result, error) {
	payload, err := encodeShimSpec(command, limits)
	if err != nil {
		return nil, fmt.Errorf("encoding sandbox spec: %w", err)
	}

	// Backstop for children that block forever without consuming CPU
	// time; RLIMIT_CPU cannot fire for those.
	if limits.CPUTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 4*limits.CPUTime+30*time.Second)
		defer cancel()
	}

	maxOutput := limits.MaxOutput
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}

	cmd := exec.CommandContext(ctx, r.Shim)
	cmd.Env = append(os.Environ(), shimEnvVar+"="+payload)

	// Stdout and stderr share one capped buffer, interleaved the way a
	// terminal would see them. os/exec drains the pipe concurrently with
	// the wait, so a chatty child never wedges against a full pipe.
	out := &limitWriter{limit: maxOutput}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("spawning %s: %w", command.Path, runErr)
		}
	}

	state := cmd.ProcessState
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		return nil, fmt.Errorf("unsupported wait status for %s", command.Path)
	}

	res := &Result{
		Output:    out.buf.Bytes(),
		Truncated: out.truncated,
		CPUTime:   state.UserTime() + state.SystemTime(),
	}
	if ru, ok := state.SysUsage().(*syscall.Rusage); ok {
		// ru_maxrss is reported in kilobytes on Linux.
		res.PeakRSS = uint64(ru.Maxrss) * 1024
	}

	switch {
	case ws.Exited():
		res.Exited = true
		res.ExitCode = ws.ExitStatus()
	case ws.Signaled():
		res.Signal = ws.Signal()
	default:
		return nil, fmt.Errorf("child %s neither exited nor was signaled: %v", command.Path, ws)
	}

	if res.Exited && res.ExitCode == ExecFailureCode {
		return nil, fmt.Errorf("executing %s: %s", command.Path, execFailureDetail(res.Output))
	}

	res.Limit = classifyLimit(res, limits)
	return res, nil
}

// classifyLimit decides whether a ceiling terminated the child.
func classifyLimit(res *Result, limits Limits) LimitKind {
	if limits.CPUTime > 0 && !res.Exited {
		// SIGXCPU is the soft RLIMIT_CPU signal; SIGKILL with the CPU
		// clock at the ceiling is the hard backstop.
		if res.Signal == syscall.SIGXCPU {
			return LimitCPU
		}
		if res.Signal == syscall.SIGKILL && res.CPUTime >= limits.CPUTime {
			return LimitCPU
		}
	}

	// RLIMIT_AS makes the child's own allocations fail, which the C0
	// runtime surfaces as an abort or a fault. Attribute those to the
	// memory ceiling only when the child actually grew close to it.
	if limits.Memory > 0 && !res.Exited {
		switch res.Signal {
		case syscall.SIGABRT, syscall.SIGSEGV, syscall.SIGBUS:
			if res.PeakRSS >= limits.Memory-(limits.Memory/10) {
				return LimitMemory
			}
		}
	}
	return LimitNone
}

func execFailureDetail(output []byte) string {
	detail := bytes.TrimSpace(output)
	if len(detail) == 0 {
		return "exec failed"
	}
	return string(detail)
}

// limitWriter keeps the first limit bytes and silently discards the rest,
// reporting every byte as consumed so io.Copy never sees a short write.
type limitWriter struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.truncated = true
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
