package sandbox

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// shimEnvVar carries the encoded shimSpec from the harness to its
// re-invoked self. Its presence is what turns a c0check process into
// the limit-applying shim.
const shimEnvVar = "C0CHECK_SANDBOX_SPEC"

type shimSpec struct {
	Path string   `json:"path"`
	Args []string `json:"args,omitempty"`
	Dir  string   `json:"dir,omitempty"`
	// Env replaces the child environment entirely when EnvSet is true;
	// otherwise the child inherits the harness environment.
	Env    []string `json:"env,omitempty"`
	EnvSet bool     `json:"env_set,omitempty"`

	CPUSeconds   uint64   `json:"cpu_seconds,omitempty"`
	MemoryBytes  uint64   `json:"memory_bytes,omitempty"`
	DenySyscalls []string `json:"deny_syscalls,omitempty"`
}

func encodeShimSpec(command Command, limits Limits) (string, error) {
	s := shimSpec{
		Path:         command.Path,
		Args:         command.Args,
		Dir:          command.Dir,
		Env:          command.Env,
		EnvSet:       command.Env != nil,
		MemoryBytes:  limits.Memory,
		DenySyscalls: limits.DenySyscalls,
	}
	if limits.CPUTime > 0 {
		s.CPUSeconds = uint64(math.Ceil(limits.CPUTime.Seconds()))
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ExecChild turns the current process into the sandboxed target when it
// was spawned as a shim. It must run before anything else in main (and
// in TestMain for packages that exercise the Runner): it applies the
// resource ceilings to itself and execs the target, so on success it
// never returns. Outside a shim invocation it is a no-op.
func ExecChild() {
	payload := os.Getenv(shimEnvVar)
	if payload == "" {
		return
	}

	var s shimSpec
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		shimFatal("decoding sandbox spec: %v", err)
	}

	if s.MemoryBytes > 0 {
		lim := &unix.Rlimit{Cur: s.MemoryBytes, Max: s.MemoryBytes}
		if err := unix.Setrlimit(unix.RLIMIT_AS, lim); err != nil {
			shimFatal("setting memory limit: %v", err)
		}
	}
	if s.CPUSeconds > 0 {
		// Soft limit delivers SIGXCPU; the hard limit a few seconds
		// later delivers SIGKILL in case SIGXCPU was ignored.
		lim := &unix.Rlimit{
			Cur: s.CPUSeconds,
			Max: s.CPUSeconds + uint64(cpuGrace/time.Second),
		}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, lim); err != nil {
			shimFatal("setting CPU-time limit: %v", err)
		}
	}

	if s.Dir != "" {
		if err := os.Chdir(s.Dir); err != nil {
			shimFatal("entering test directory: %v", err)
		}
	}

	if len(s.DenySyscalls) > 0 {
		filter := seccomp.Filter{
			NoNewPrivs: true,
			Flag:       seccomp.FilterFlagTSync,
			Policy: seccomp.Policy{
				DefaultAction: seccomp.ActionAllow,
				Syscalls: []seccomp.SyscallGroup{{
					Action: seccomp.ActionErrno,
					Names:  s.DenySyscalls,
				}},
			},
		}
		if err := seccomp.LoadFilter(filter); err != nil {
			shimFatal("loading seccomp filter: %v", err)
		}
	}

	path := s.Path
	if !strings.Contains(path, "/") {
		resolved, err := exec.LookPath(path)
		if err != nil {
			shimFatal("%v", err)
		}
		path = resolved
	}

	env := childEnv(s)
	argv := append([]string{s.Path}, s.Args...)
	err := unix.Exec(path, argv, env)
	shimFatal("exec %s: %v", s.Path, err)
}

func childEnv(s shimSpec) []string {
	if s.EnvSet {
		return s.Env
	}
	env := os.Environ()
	out := env[:0]
	for _, kv := range env {
		if !strings.HasPrefix(kv, shimEnvVar+"=") {
			out = append(out, kv)
		}
	}
	return out
}

func shimFatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(ExecFailureCode)
}
