package backend

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deixis/c0check/internal/sandbox"
	"github.com/deixis/c0check/internal/spec"
)

// TestMain lets the test binary double as the sandbox shim.
func TestMain(m *testing.M) {
	sandbox.ExecChild()
	os.Exit(m.Run())
}

func testLimits() Limits {
	return Limits{
		CompileTime:   10 * time.Second,
		CompileMemory: 1 << 30,
		TestTime:      10 * time.Second,
		TestMemory:    1 << 30,
		MaxOutput:     1 << 16,
	}
}

// writeScript installs an executable shell script.
func writeScript(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
}

// fakeHome builds a toolchain prefix whose cc0 emits a runnable artifact
// that reports the given C0 return value through the result file.
func fakeHome(t *testing.T, returnValue int) string {
	t.Helper()
	home := t.TempDir()

	program := fmt.Sprintf(`for last; do :; done
cat > "$last" <<'PROG'
#!/bin/sh
printf 'hello from c0\n'
printf '\000' > "$C0_RESULT_FILE"
printf '%s' >> "$C0_RESULT_FILE"
PROG
chmod +x "$last"
`, resultBytes(returnValue))

	writeScript(t, filepath.Join(home, "bin", "cc0"), program)
	return home
}

// resultBytes renders an int32 as octal printf escapes in native order.
func resultBytes(v int) string {
	var raw [4]byte
	binary.NativeEndian.PutUint32(raw[:], uint32(int32(v)))
	out := ""
	for _, b := range raw {
		out += fmt.Sprintf(`\%03o`, b)
	}
	return out
}

func newTest(t *testing.T) *spec.Test {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.c0"), []byte("//test return 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &spec.Test{
		ID:      "main.c0",
		Dir:     dir,
		Sources: []string{"main.c0"},
	}
}

func newBackend(t *testing.T, kind Kind, home string) Backend {
	t.Helper()
	runner, err := sandbox.NewRunner()
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(kind, home, runner, NewNamer(t.TempDir()), testLimits())
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestCC0_CompileAndRun(t *testing.T) {
	b := newBackend(t, CC0, fakeHome(t, 7))

	exec, err := b.Run(context.Background(), newTest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Compile == nil || !exec.Compile.Exited || exec.Compile.ExitCode != 0 {
		t.Fatalf("compile = %+v, want exit 0", exec.Compile)
	}
	if exec.Run == nil || !exec.Run.Exited || exec.Run.ExitCode != 0 {
		t.Fatalf("run = %+v, want exit 0", exec.Run)
	}
	if exec.ReturnValue == nil || *exec.ReturnValue != 7 {
		t.Errorf("ReturnValue = %v, want 7", exec.ReturnValue)
	}
}

func TestCC0_CompileFailureSkipsRun(t *testing.T) {
	home := t.TempDir()
	writeScript(t, filepath.Join(home, "bin", "cc0"), `echo 'main.c0:1: syntax error' 1>&2
exit 1
`)
	b := newBackend(t, CC0, home)

	exec, err := b.Run(context.Background(), newTest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Compile == nil || exec.Compile.ExitCode != 1 {
		t.Fatalf("compile = %+v, want exit 1", exec.Compile)
	}
	if exec.Run != nil {
		t.Error("run phase executed despite compile failure")
	}
}

func TestCC0_MissingCompiler(t *testing.T) {
	b := newBackend(t, CC0, filepath.Join(t.TempDir(), "not-installed"))
	if _, err := b.Run(context.Background(), newTest(t)); err == nil {
		t.Fatal("expected evaluation error for missing cc0")
	}
}

func TestCoin_RunsWithoutCompilePhase(t *testing.T) {
	home := t.TempDir()
	writeScript(t, filepath.Join(home, "bin", "coin-exec"), `echo interpreted
exit 1
`)
	b := newBackend(t, Coin, home)

	exec, err := b.Run(context.Background(), newTest(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if exec.Compile != nil {
		t.Error("coin produced a compile phase")
	}
	if exec.Run == nil || exec.Run.ExitCode != 1 {
		t.Fatalf("run = %+v, want exit 1", exec.Run)
	}
	if exec.ReturnValue != nil {
		t.Errorf("ReturnValue = %v, want none for non-zero exit", exec.ReturnValue)
	}
}

func TestCoin_SkipsC1(t *testing.T) {
	b := newBackend(t, Coin, t.TempDir())
	c1 := &spec.Test{ID: "x.c1", Sources: []string{"x.c1"}}
	if b.Supports(c1) {
		t.Error("coin claims to support a C1 test")
	}
	if !b.Supports(&spec.Test{Sources: []string{"x.c0"}}) {
		t.Error("coin rejects a plain C0 test")
	}
}

func TestNew_UnknownKind(t *testing.T) {
	if _, err := New(Kind("gcc"), "", nil, nil, Limits{}); err == nil {
		t.Fatal("expected error for unknown backend kind")
	}
}

func TestProperties(t *testing.T) {
	home := t.TempDir()
	tests := []struct {
		kind Kind
		name string
		gc   bool
	}{
		{CC0, "cc0", true},
		{C0VM, "cc0_c0vm", false},
		{Coin, "coin", false},
	}
	for _, tt := range tests {
		b := newBackend(t, tt.kind, home)
		p := b.Properties()
		if p.Name != tt.name {
			t.Errorf("%s: Name = %q, want %q", tt.kind, p.Name, tt.name)
		}
		if p.GarbageCollected != tt.gc {
			t.Errorf("%s: GarbageCollected = %v, want %v", tt.kind, p.GarbageCollected, tt.gc)
		}
		if !p.Libraries || !p.Typechecked || !p.Safe {
			t.Errorf("%s: properties = %+v, want lib/typecheck/safe", tt.kind, p)
		}
	}
}

func TestNamer_UniqueUnderConcurrency(t *testing.T) {
	namer := NewNamer(t.TempDir())

	const workers = 8
	const perWorker = 100

	paths := make(chan string, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				paths <- namer.Reserve("a.out", "").Path
			}
		}()
	}
	wg.Wait()
	close(paths)

	seen := make(map[string]bool, workers*perWorker)
	for p := range paths {
		if seen[p] {
			t.Fatalf("duplicate artifact path %s", p)
		}
		seen[p] = true
	}
	if len(seen) != workers*perWorker {
		t.Errorf("got %d paths, want %d", len(seen), workers*perWorker)
	}
}

func TestArtifact_Release(t *testing.T) {
	namer := NewNamer(t.TempDir())
	a := namer.Reserve("a.out", "")
	if err := os.WriteFile(a.Path, []byte("binary"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := a.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(a.Path); !os.IsNotExist(err) {
		t.Error("artifact still on disk after Release")
	}
	// Releasing a reservation whose phase never created the file is fine.
	if err := namer.Reserve("a.out", "").Release(); err != nil {
		t.Errorf("Release of absent artifact: %v", err)
	}
}

func TestReadResultFile(t *testing.T) {
	dir := t.TempDir()

	write := func(name string, data []byte) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	var value [5]byte
	neg := int32(-42)
	binary.NativeEndian.PutUint32(value[1:], uint32(neg))
	if got := readResultFile(write("ok", value[:])); got == nil || *got != -42 {
		t.Errorf("readResultFile = %v, want -42", got)
	}

	if got := readResultFile(write("short", []byte{0, 1, 2})); got != nil {
		t.Errorf("short file: got %v, want nil", got)
	}
	if got := readResultFile(write("nolead", []byte{1, 0, 0, 0, 0})); got != nil {
		t.Errorf("missing NUL lead byte: got %v, want nil", got)
	}
	if got := readResultFile(filepath.Join(dir, "missing")); got != nil {
		t.Errorf("missing file: got %v, want nil", got)
	}
}
