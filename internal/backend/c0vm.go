package backend

import (
	"context"

	"github.com/deixis/c0check/internal/spec"
)

// c0vmBackend compiles to bytecode and runs it under the C0VM.
type c0vmBackend struct {
	toolchain
}

func (b *c0vmBackend) Kind() Kind { return C0VM }

func (b *c0vmBackend) Properties() spec.Properties {
	// The VM runs without a collector.
	return spec.Properties{
		Name:        "cc0_c0vm",
		Libraries:   true,
		Typechecked: true,
		Safe:        true,
	}
}

func (b *c0vmBackend) Supports(*spec.Test) bool { return true }

func (b *c0vmBackend) Run(ctx context.Context, t *spec.Test) (*Execution, error) {
	out := b.namer.Reserve("a.out", ".bc0")
	defer out.Release()

	compile, err := b.compileSources(ctx, t, "-vbo", out.Path)
	if err != nil {
		return nil, err
	}
	exec := &Execution{Compile: compile}
	if !compiled(compile) {
		return exec, nil
	}

	run, ret, err := b.runProgram(ctx, t, b.bin("vm", "c0vm"), []string{out.Path}, 2)
	if err != nil {
		return nil, err
	}
	exec.Run = run
	exec.ReturnValue = ret
	return exec, nil
}
